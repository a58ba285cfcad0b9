package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/smallbiznis/railzway-connect/internal/domain/connection"
)

// apiClient performs the read-only JSON calls used for account summaries.
type apiClient struct {
	provider   connection.Provider
	httpClient *http.Client
}

// getJSON issues a GET and decodes an object body. Authentication failures wrap
// ErrCredentialRejected; transport failures and other non-2xx responses become
// ProviderUnavailableError.
func (c *apiClient) getJSON(ctx context.Context, endpoint string, headers map[string]string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build summary request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &connection.ProviderUnavailableError{Provider: c.provider, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &connection.ProviderUnavailableError{Provider: c.provider, StatusCode: resp.StatusCode, Err: err}
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%s summary: status=%d: %w", c.provider, resp.StatusCode, connection.ErrCredentialRejected)
	case resp.StatusCode >= 300:
		return nil, &connection.ProviderUnavailableError{Provider: c.provider, StatusCode: resp.StatusCode}
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &connection.ProviderUnavailableError{Provider: c.provider, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode summary: %w", err)}
	}
	return raw, nil
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func stringValue(input any) string {
	switch v := input.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

func int64Value(input any) int64 {
	switch v := input.(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return 0
}

func boolValue(input any) bool {
	switch v := input.(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}

func coalesce(values ...any) any {
	for _, v := range values {
		switch val := v.(type) {
		case string:
			if strings.TrimSpace(val) != "" {
				return v
			}
		case nil:
			continue
		default:
			return v
		}
	}
	return nil
}

func objectValue(input any) map[string]any {
	if m, ok := input.(map[string]any); ok {
		return m
	}
	return nil
}

// firstObject returns the first element of a JSON array of objects.
func firstObject(input any) map[string]any {
	items, ok := input.([]any)
	if !ok || len(items) == 0 {
		return nil
	}
	return objectValue(items[0])
}

// lastSegment returns the id part of resource names such as "customers/123".
func lastSegment(name string) string {
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		return name[idx+1:]
	}
	return name
}

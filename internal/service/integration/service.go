// Package integration orchestrates the OAuth connect flow, status reporting and live
// verification of third-party integration credentials.
package integration

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/smallbiznis/railzway-connect/internal/access"
	"github.com/smallbiznis/railzway-connect/internal/adapter/provider"
	"github.com/smallbiznis/railzway-connect/internal/domain/connection"
	"github.com/smallbiznis/railzway-connect/internal/events"
	"github.com/smallbiznis/railzway-connect/internal/health"
	"github.com/smallbiznis/railzway-connect/internal/registry"
)

// DefaultPreviewLimit caps the entries shown to callers without full access.
const DefaultPreviewLimit = 3

// Directory resolves provider adapters.
type Directory interface {
	Get(p connection.Provider) (provider.Adapter, error)
	Known(p connection.Provider) bool
	Enabled() []provider.Descriptor
}

// StateTokens issues and redeems authorize state tokens.
type StateTokens interface {
	Issue(ctx context.Context, owner connection.Owner, provider connection.Provider, source string) (string, error)
	Consume(ctx context.Context, token string, provider connection.Provider) (*connection.OAuthState, error)
}

// Options tunes read-side behaviour.
type Options struct {
	Policy       health.Policy
	PreviewLimit int
	SweepBatch   int
}

// Service is the application layer behind the HTTP handlers and the verification job.
type Service struct {
	registry  *registry.Registry
	providers Directory
	states    StateTokens
	publisher events.Publisher
	tracer    trace.Tracer
	opts      Options
	logger    *zap.Logger
	now       func() time.Time
}

// NewService wires a Service. A nil publisher disables lifecycle events.
func NewService(reg *registry.Registry, providers Directory, states StateTokens, publisher events.Publisher, tracer trace.Tracer, opts Options, logger *zap.Logger) *Service {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("integration")
	}
	if opts.PreviewLimit <= 0 {
		opts.PreviewLimit = DefaultPreviewLimit
	}
	return &Service{
		registry:  reg,
		providers: providers,
		states:    states,
		publisher: publisher,
		tracer:    tracer,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
	}
}

// CallbackInput carries the query parameters of a provider redirect.
type CallbackInput struct {
	Provider         connection.Provider
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// CallbackResult describes a completed connect flow.
type CallbackResult struct {
	Provider connection.Provider
	Source   string
	Record   connection.Record
}

// ProviderStatus is one row of the connections overview.
type ProviderStatus struct {
	Provider        connection.Provider        `json:"provider"`
	DisplayName     string                     `json:"displayName,omitempty"`
	Connected       bool                       `json:"connected"`
	Status          connection.Status          `json:"status"`
	ExpiresAt       *time.Time                 `json:"expiresAt,omitempty"`
	LastSync        *time.Time                 `json:"lastSync,omitempty"`
	AccountSummary  *connection.AccountSummary `json:"accountSummary,omitempty"`
	DaysUntilExpiry *int                       `json:"daysUntilExpiry,omitempty"`
	Stale           bool                       `json:"stale"`
}

// Overview is the response of the connections listing.
type Overview struct {
	Connections    []ProviderStatus `json:"connections"`
	ConnectedCount int              `json:"connectedCount"`
	TotalProviders int              `json:"totalProviders"`
	HealthScore    int              `json:"healthScore"`
	Preview        bool             `json:"preview"`
	Access         access.Decision  `json:"access"`
}

// HistoryEntry is an audit row. It never exposes the sealed payload.
type HistoryEntry struct {
	ID             int64                     `json:"id,string"`
	Provider       connection.Provider       `json:"provider"`
	IsActive       bool                      `json:"isActive"`
	Account        connection.AccountSummary `json:"accountSummary"`
	ExpiresAt      *time.Time                `json:"expiresAt,omitempty"`
	LastVerifiedAt *time.Time                `json:"lastVerifiedAt,omitempty"`
	CreatedAt      time.Time                 `json:"createdAt"`
	DeactivatedAt  *time.Time                `json:"deactivatedAt,omitempty"`
}

// VerifyReport summarizes one verification sweep.
type VerifyReport struct {
	Visited  int
	Verified int
	Failed   int
	Skipped  int
}

// StartAuthorization signs a state token bound to caller and returns the provider consent URL.
func (s *Service) StartAuthorization(ctx context.Context, caller connection.Caller, p connection.Provider, source string) (string, error) {
	if strings.TrimSpace(caller.UserID) == "" {
		return "", connection.ErrMissingUserID
	}
	adapter, err := s.providers.Get(p)
	if err != nil {
		return "", err
	}
	state, err := s.states.Issue(ctx, caller.Owner, p, source)
	if err != nil {
		return "", fmt.Errorf("issue state: %w", err)
	}
	url, err := adapter.BuildAuthorizeURL(ctx, state)
	if err != nil {
		return "", fmt.Errorf("build authorize url: %w", err)
	}
	s.log().Debug("authorization started",
		zap.Int64("tenant_id", caller.TenantID),
		zap.String("provider", p.String()),
		zap.String("source", source),
	)
	return url, nil
}

// HandleCallback completes the connect flow. The owner is taken from the signed state, so
// the redirect needs no session of its own. The returned result carries the flow's source
// even on failure whenever the state could be redeemed.
func (s *Service) HandleCallback(ctx context.Context, in CallbackInput) (*CallbackResult, error) {
	ctx, span := s.startSpan(ctx, "integration.HandleCallback", attribute.String("provider", in.Provider.String()))
	defer span.End()

	result := &CallbackResult{Provider: in.Provider}
	adapter, err := s.providers.Get(in.Provider)
	if err != nil {
		return result, s.fail(span, err)
	}

	var state *connection.OAuthState
	if strings.TrimSpace(in.State) != "" {
		state, err = s.states.Consume(ctx, in.State, in.Provider)
		if err == nil {
			result.Source = state.Source
		}
	}

	if in.Error != "" {
		s.log().Info("provider returned error on callback",
			zap.String("provider", in.Provider.String()),
			zap.String("error", in.Error),
			zap.String("error_description", in.ErrorDescription),
		)
		if in.Error == "access_denied" {
			return result, s.fail(span, connection.ErrOAuthDenied)
		}
		return result, s.fail(span, fmt.Errorf("%w: %s", connection.ErrOAuthFailed, in.Error))
	}
	if strings.TrimSpace(in.Code) == "" {
		return result, s.fail(span, connection.ErrMissingCode)
	}
	if state == nil {
		if err == nil {
			err = connection.ErrInvalidState
		}
		return result, s.fail(span, err)
	}
	owner := connection.Owner{TenantID: state.TenantID, UserID: state.UserID}
	if !owner.Valid() {
		return result, s.fail(span, connection.ErrMissingUserID)
	}
	span.SetAttributes(attribute.Int64("tenant_id", owner.TenantID))

	token, err := adapter.ExchangeCode(ctx, in.Code)
	if err != nil {
		return result, s.fail(span, err)
	}

	summary, err := adapter.FetchAccountSummary(ctx, token.AccessToken)
	if err != nil {
		s.log().Warn("account summary unavailable",
			zap.String("provider", in.Provider.String()),
			zap.Int64("tenant_id", owner.TenantID),
			zap.Error(err),
		)
		summary = connection.AccountSummary{}
	}

	rec, err := s.registry.Upsert(ctx, connection.Caller{Owner: owner}, owner, in.Provider, token, summary)
	if err != nil {
		return result, s.fail(span, fmt.Errorf("store connection: %w", err))
	}
	result.Record = rec
	s.publish(ctx, events.New(events.TypeConnected, rec, ""))
	return result, nil
}

// Status lists every enabled provider with its evaluated health and the aggregate score.
// Limited callers receive a preview.
func (s *Service) Status(ctx context.Context, caller connection.Caller, owner connection.Owner) (*Overview, error) {
	records, err := s.registry.List(ctx, caller, owner)
	if err != nil {
		return nil, err
	}
	active := make(map[connection.Provider]connection.Record, len(records))
	for _, rec := range records {
		active[rec.Provider] = rec
	}

	now := s.now()
	enabled := s.providers.Enabled()
	rows := make([]ProviderStatus, 0, len(enabled))
	statuses := make([]connection.Status, 0, len(enabled))
	for _, desc := range enabled {
		var recPtr *connection.Record
		if rec, ok := active[desc.Provider]; ok {
			recPtr = &rec
		}
		row := s.evaluate(desc.Provider, recPtr, now)
		row.DisplayName = desc.DisplayName
		rows = append(rows, row)
		statuses = append(statuses, row.Status)
	}
	score := health.ScoreOf(statuses, len(enabled))

	decision := access.Decide(caller.Subscription, caller.Role)
	overview := &Overview{
		Connections:    rows,
		ConnectedCount: score.Connected,
		TotalProviders: score.Total,
		HealthScore:    score.Percent,
		Access:         decision,
	}
	if !decision.HasFullAccess {
		overview.Preview = true
		overview.Connections = s.preview(rows)
	}
	return overview, nil
}

// ProviderStatus evaluates a single provider. Disabled but catalogued providers still report
// so that stored credentials remain visible.
func (s *Service) ProviderStatus(ctx context.Context, caller connection.Caller, owner connection.Owner, p connection.Provider) (ProviderStatus, error) {
	if !s.providers.Known(p) {
		return ProviderStatus{}, connection.ErrProviderNotSupported
	}
	var recPtr *connection.Record
	rec, err := s.registry.GetActive(ctx, caller, owner, p)
	switch {
	case err == nil:
		recPtr = &rec
	case errors.Is(err, connection.ErrNotFound):
	default:
		return ProviderStatus{}, err
	}
	row := s.evaluate(p, recPtr, s.now())
	if !access.Decide(caller.Subscription, caller.Role).HasFullAccess {
		row = redact(row)
	}
	return row, nil
}

// Disconnect deactivates the owner's credential for p.
func (s *Service) Disconnect(ctx context.Context, caller connection.Caller, owner connection.Owner, p connection.Provider) error {
	if !s.providers.Known(p) {
		return connection.ErrProviderNotSupported
	}
	rec, err := s.registry.Deactivate(ctx, caller, owner, p)
	if err != nil {
		return err
	}
	s.publish(ctx, events.New(events.TypeDisconnected, rec, ""))
	return nil
}

// History returns every record for the triple, newest first, without credential material.
func (s *Service) History(ctx context.Context, caller connection.Caller, owner connection.Owner, p connection.Provider) ([]HistoryEntry, error) {
	if !s.providers.Known(p) {
		return nil, connection.ErrProviderNotSupported
	}
	records, err := s.registry.History(ctx, caller, owner, p)
	if err != nil {
		return nil, err
	}
	out := make([]HistoryEntry, 0, len(records))
	for _, rec := range records {
		out = append(out, HistoryEntry{
			ID:             rec.ID,
			Provider:       rec.Provider,
			IsActive:       rec.IsActive,
			Account:        rec.Account,
			ExpiresAt:      rec.ExpiresAt,
			LastVerifiedAt: rec.LastVerifiedAt,
			CreatedAt:      rec.CreatedAt,
			DeactivatedAt:  rec.DeactivatedAt,
		})
	}
	return out, nil
}

// Providers lists enabled providers.
func (s *Service) Providers() []provider.Descriptor {
	return s.providers.Enabled()
}

// Access returns the gate decision for caller.
func (s *Service) Access(caller connection.Caller) access.Decision {
	return access.Decide(caller.Subscription, caller.Role)
}

// VerifyConnection checks rec against its provider and records the outcome. Expired
// credentials holding a refresh token are refreshed first. Transient provider failures
// leave the record untouched.
func (s *Service) VerifyConnection(ctx context.Context, rec connection.Record) (connection.Status, error) {
	ctx, span := s.startSpan(ctx, "integration.VerifyConnection",
		attribute.String("provider", rec.Provider.String()),
		attribute.Int64("record_id", rec.ID),
	)
	defer span.End()

	adapter, err := s.providers.Get(rec.Provider)
	if err != nil {
		return s.classify(rec), s.fail(span, err)
	}

	payload, err := s.registry.OpenPayload(ctx, rec)
	if err != nil {
		return s.rejectCredential(ctx, rec, "unreadable", err)
	}

	if health.Classify(&rec, s.now(), s.opts.Policy.ExpiringSoonThreshold) == connection.StatusExpired {
		refresher, ok := adapter.(provider.Refresher)
		if ok && payload.RefreshToken != "" {
			token, err := refresher.Refresh(ctx, payload.RefreshToken)
			switch {
			case err == nil:
				rec, err = s.registry.Rotate(ctx, rec, payload, token)
				if err != nil {
					return s.classify(rec), s.fail(span, err)
				}
				payload.AccessToken = token.AccessToken
			case errors.Is(err, connection.ErrCredentialRejected):
				return s.rejectCredential(ctx, rec, "refresh_rejected", err)
			default:
				return s.classify(rec), s.fail(span, err)
			}
		}
	}

	if _, err := adapter.FetchAccountSummary(ctx, payload.AccessToken); err != nil {
		if errors.Is(err, connection.ErrCredentialRejected) {
			return s.rejectCredential(ctx, rec, "rejected", err)
		}
		return s.classify(rec), s.fail(span, err)
	}

	rec, err = s.registry.MarkVerified(ctx, rec)
	if err != nil {
		return s.classify(rec), s.fail(span, err)
	}
	return s.classify(rec), nil
}

// VerifyAll sweeps every active credential across tenants.
func (s *Service) VerifyAll(ctx context.Context) (VerifyReport, error) {
	var report VerifyReport
	visited, err := s.registry.Sweep(ctx, s.opts.SweepBatch, func(ctx context.Context, rec connection.Record) error {
		status, err := s.VerifyConnection(ctx, rec)
		switch {
		case errors.Is(err, connection.ErrProviderNotSupported):
			report.Skipped++
			return nil
		case status == connection.StatusError:
			report.Failed++
		case err == nil:
			report.Verified++
		}
		return err
	})
	report.Visited = visited
	if err != nil {
		return report, fmt.Errorf("sweep connections: %w", err)
	}
	s.log().Info("verification sweep finished",
		zap.Int("visited", report.Visited),
		zap.Int("verified", report.Verified),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", report.Skipped),
	)
	return report, nil
}

func (s *Service) rejectCredential(ctx context.Context, rec connection.Record, reason string, cause error) (connection.Status, error) {
	s.log().Warn("connection verification failed",
		zap.Int64("record_id", rec.ID),
		zap.String("provider", rec.Provider.String()),
		zap.String("reason", reason),
		zap.Error(cause),
	)
	rec, err := s.registry.MarkVerificationFailed(ctx, rec)
	if err != nil {
		return connection.StatusError, fmt.Errorf("mark verification failed: %w", err)
	}
	s.publish(ctx, events.New(events.TypeVerificationFailed, rec, reason))
	return s.classify(rec), nil
}

func (s *Service) evaluate(p connection.Provider, rec *connection.Record, now time.Time) ProviderStatus {
	ev := health.Evaluate(rec, now, s.opts.Policy)
	row := ProviderStatus{
		Provider:        p,
		Connected:       ev.Status.Connected(),
		Status:          ev.Status,
		ExpiresAt:       ev.ExpiresAt,
		LastSync:        ev.LastSync,
		DaysUntilExpiry: ev.DaysUntilExpiry,
		Stale:           ev.Stale,
	}
	if rec != nil && ev.Status != connection.StatusNotConnected {
		summary := rec.Account
		row.AccountSummary = &summary
	}
	return row
}

// preview keeps connected rows first, then caps the list.
func (s *Service) preview(rows []ProviderStatus) []ProviderStatus {
	out := make([]ProviderStatus, 0, len(rows))
	for _, row := range rows {
		out = append(out, redact(row))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Connected && !out[j].Connected
	})
	if len(out) > s.opts.PreviewLimit {
		out = out[:s.opts.PreviewLimit]
	}
	return out
}

func redact(row ProviderStatus) ProviderStatus {
	return ProviderStatus{
		Provider:    row.Provider,
		DisplayName: row.DisplayName,
		Connected:   row.Connected,
		Status:      row.Status,
	}
}

func (s *Service) classify(rec connection.Record) connection.Status {
	return health.Classify(&rec, s.now(), s.opts.Policy.ExpiringSoonThreshold)
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.log().Warn("publish lifecycle event",
			zap.String("type", string(event.Type)),
			zap.Int64("record_id", event.RecordID),
			zap.Error(err),
		)
	}
}

func (s *Service) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func (s *Service) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func (s *Service) log() *zap.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return zap.L()
}

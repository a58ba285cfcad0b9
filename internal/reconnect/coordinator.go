package reconnect

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/smallbiznis/railzway-connect/internal/domain/connection"
)

// stateTTL outlives the longest cooldown so a dismissal survives until it lapses.
const stateTTL = 7 * 24 * time.Hour

// Key addresses one prompt.
type Key struct {
	Owner    connection.Owner
	Provider connection.Provider
}

// Store persists prompt state between requests.
type Store interface {
	LoadPrompt(ctx context.Context, key Key) (*State, error)
	SavePrompt(ctx context.Context, key Key, state State, ttl time.Duration) error
	DeletePrompt(ctx context.Context, key Key) error
}

// Authorizer builds a provider authorize URL for a caller.
type Authorizer interface {
	StartAuthorization(ctx context.Context, caller connection.Caller, provider connection.Provider, source string) (string, error)
}

// Coordinator drives the prompt state machine against a Store.
type Coordinator struct {
	store      Store
	authorizer Authorizer
	logger     *zap.Logger
	now        func() time.Time
}

// NewCoordinator wires the coordinator.
func NewCoordinator(store Store, authorizer Authorizer, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		store:      store,
		authorizer: authorizer,
		logger:     logger,
		now:        time.Now,
	}
}

// Check advances the prompt for the observed status and persists the result.
func (c *Coordinator) Check(ctx context.Context, key Key, status connection.Status) (State, error) {
	current, err := c.load(ctx, key)
	if err != nil {
		return State{}, err
	}
	next := Advance(current, status, c.now())
	if err := c.persist(ctx, key, next); err != nil {
		return State{}, err
	}
	return next, nil
}

// Dismiss hides a visible prompt for the cooldown of its status.
func (c *Coordinator) Dismiss(ctx context.Context, key Key, status connection.Status) (State, error) {
	current, err := c.load(ctx, key)
	if err != nil {
		return State{}, err
	}
	now := c.now()
	next, err := Dismiss(Advance(current, status, now), now)
	if err != nil {
		return next, err
	}
	if err := c.persist(ctx, key, next); err != nil {
		return State{}, err
	}
	c.log().Debug("reconnect prompt dismissed",
		zap.Int64("tenant_id", key.Owner.TenantID),
		zap.String("provider", key.Provider.String()),
		zap.String("status", string(status)),
	)
	return next, nil
}

// InitiateReconnect returns the authorize URL the client should navigate to.
func (c *Coordinator) InitiateReconnect(ctx context.Context, caller connection.Caller, provider connection.Provider, source string) (string, error) {
	if source == "" {
		source = "reconnect"
	}
	url, err := c.authorizer.StartAuthorization(ctx, caller, provider, source)
	if err != nil {
		return "", fmt.Errorf("start reauthorization: %w", err)
	}
	return url, nil
}

func (c *Coordinator) load(ctx context.Context, key Key) (State, error) {
	state, err := c.store.LoadPrompt(ctx, key)
	if err != nil {
		return State{}, fmt.Errorf("load prompt: %w", err)
	}
	if state == nil {
		return State{Phase: PhaseHidden}, nil
	}
	return *state, nil
}

func (c *Coordinator) persist(ctx context.Context, key Key, state State) error {
	if state.Phase == PhaseHidden {
		if err := c.store.DeletePrompt(ctx, key); err != nil {
			return fmt.Errorf("clear prompt: %w", err)
		}
		return nil
	}
	if err := c.store.SavePrompt(ctx, key, state, stateTTL); err != nil {
		return fmt.Errorf("save prompt: %w", err)
	}
	return nil
}

func (c *Coordinator) log() *zap.Logger {
	if c != nil && c.logger != nil {
		return c.logger
	}
	return zap.L()
}

package ratelimit

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dmitrijs2005/credkeeper/internal/common"
	"github.com/dmitrijs2005/credkeeper/internal/dbx"
	"github.com/dmitrijs2005/credkeeper/internal/logging"
	"github.com/dmitrijs2005/credkeeper/internal/server/models"
)

// Policy is the attempt budget for one purpose.
type Policy struct {
	Limit  int
	Window time.Duration
}

// DefaultPolicies mirrors the budgets of the marketplace auth flows.
func DefaultPolicies() map[string]Policy {
	return map[string]Policy{
		common.PurposeMFAResend:     {Limit: 5, Window: time.Hour},
		common.PurposeMFAVerify:     {Limit: 5, Window: 15 * time.Minute},
		common.PurposePasswordReset: {Limit: 3, Window: time.Hour},
		common.PurposeLogin:         {Limit: 5, Window: 15 * time.Minute},
		common.PurposeBiometric:     {Limit: 10, Window: 15 * time.Minute},
		common.PurposeRegistration:  {Limit: 3, Window: time.Hour},
	}
}

// Store records hits atomically.
type Store interface {
	// Hit records one attempt and returns the entry after the update. If the
	// stored window has expired a new one starts at now with count 1.
	// Count never exceeds limit+1.
	Hit(ctx context.Context, identifier, purpose string, limit int, window time.Duration, now time.Time) (*models.RateLimitEntry, error)
	// Reset removes the entry. Resetting a missing entry is not an error.
	Reset(ctx context.Context, identifier, purpose string) error
	// Sweep drops entries whose window ended before now.
	Sweep(ctx context.Context, now time.Time) (int64, error)
}

// Decision is the outcome of CheckAndConsume.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds for the
// Retry-After header.
func (d Decision) RetryAfterSeconds() int {
	return int(math.Ceil(d.RetryAfter.Seconds()))
}

// Limiter applies per-purpose policies on top of a Store.
type Limiter struct {
	store    Store
	policies map[string]Policy
	timeout  time.Duration
	now      func() time.Time
}

// Option customises a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now; tests use it to move through windows.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithTimeout bounds every store call; a deadline becomes common.ErrTimeout.
func WithTimeout(d time.Duration) Option {
	return func(l *Limiter) { l.timeout = d }
}

// New builds a Limiter. A nil policies map means DefaultPolicies.
func New(store Store, policies map[string]Policy, opts ...Option) *Limiter {
	if policies == nil {
		policies = DefaultPolicies()
	}
	l := &Limiter{store: store, policies: policies, now: time.Now}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Policy returns the policy configured for purpose.
func (l *Limiter) Policy(purpose string) (Policy, bool) {
	p, ok := l.policies[purpose]
	return p, ok
}

// CheckAndConsume records one attempt for (identifier, purpose) and reports
// whether it fits in the current window.
func (l *Limiter) CheckAndConsume(ctx context.Context, identifier, purpose string) (Decision, error) {
	p, ok := l.policies[purpose]
	if !ok {
		return Decision{}, fmt.Errorf("%w: unknown rate limit purpose %q", common.ErrInvalidInput, purpose)
	}
	id := normalize(identifier)
	if id == "" {
		return Decision{}, fmt.Errorf("%w: empty rate limit identifier", common.ErrInvalidInput)
	}

	now := l.now()
	var entry *models.RateLimitEntry
	err := dbx.WithTimeout(ctx, l.timeout, func(ctx context.Context) error {
		var err error
		entry, err = l.store.Hit(ctx, id, purpose, p.Limit, p.Window, now)
		return err
	})
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit hit: %w", err)
	}

	d := Decision{
		Allowed:   entry.Count <= p.Limit,
		Limit:     p.Limit,
		Remaining: max(0, p.Limit-entry.Count),
		ResetAt:   entry.ResetAt,
	}
	if !d.Allowed {
		d.RetryAfter = max(entry.ResetAt.Sub(now), time.Second)
	}
	return d, nil
}

// Reset clears the window for (identifier, purpose).
func (l *Limiter) Reset(ctx context.Context, identifier, purpose string) error {
	if _, ok := l.policies[purpose]; !ok {
		return fmt.Errorf("%w: unknown rate limit purpose %q", common.ErrInvalidInput, purpose)
	}
	id := normalize(identifier)
	if id == "" {
		return fmt.Errorf("%w: empty rate limit identifier", common.ErrInvalidInput)
	}
	return dbx.WithTimeout(ctx, l.timeout, func(ctx context.Context) error {
		return l.store.Reset(ctx, id, purpose)
	})
}

// RunSweeper removes expired entries every interval until ctx is done.
func (l *Limiter) RunSweeper(ctx context.Context, interval time.Duration, logger logging.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := dbx.WithTimeout(ctx, l.timeout, func(ctx context.Context) error {
				n, err := l.store.Sweep(ctx, l.now())
				if err == nil && n > 0 {
					logger.Info(ctx, "rate limit entries swept", "count", n)
				}
				return err
			})
			if err != nil && ctx.Err() == nil {
				logger.Warn(ctx, "rate limit sweep failed", "error", err)
			}
		}
	}
}

func normalize(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

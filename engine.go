package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/authcore-io/authcore/internal/rate"
	"github.com/authcore-io/authcore/internal/stores"
	"github.com/authcore-io/authcore/jwt"
	"github.com/authcore-io/authcore/password"
	"github.com/authcore-io/authcore/session"
)

// Engine is the authentication core. Construct one with New()...Build() and
// share it freely: every method is safe for concurrent use and all mutable
// state lives in Redis or behind the AccountProvider.
type Engine struct {
	config     Config
	provider   AccountProvider
	hasher     *password.Hasher
	tokens     *jwt.Manager
	sessions   *session.Store
	limiter    *rate.Limiter
	csrf       *stores.CSRFStore
	devices    *stores.DeviceStore
	challenges *stores.ChallengeStore
	resets     *stores.ChallengeStore
	mfa        *stores.MFAChallengeStore
	totp       *totpManager
	metrics    *Metrics
	audit      *auditDispatcher
	clock      func() time.Time
}

// Close drains the audit dispatcher. The engine must not be used afterwards.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// MetricsSnapshot returns a copy of the counter table for export.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}, Histograms: map[MetricID][]uint64{}}
	}
	return e.metrics.Snapshot()
}

// AuditDropped reports how many audit events were discarded because the
// buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) now() time.Time {
	return e.clock()
}

func (e *Engine) metricInc(id MetricID) {
	e.metrics.Inc(id)
}

func (e *Engine) emitAudit(ctx context.Context, event AuditEvent) {
	if e.audit == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = e.now()
	}
	if event.IP == "" {
		event.IP = clientIPFromContext(ctx)
	}
	e.audit.Emit(ctx, event)
}

// ConsumeRateAction charges one point of the given class against the
// caller's fingerprint. Transport adapters use it for classes the engine
// operations do not charge themselves, such as the global request budget.
func (e *Engine) ConsumeRateAction(ctx context.Context, action RateAction) (*RateStatus, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	return e.consumeRate(ctx, action)
}

// consumeRate charges one point against the caller's fingerprint for action.
// Returns a *RateLimitedError when the bucket refuses; backend failures map
// to ErrStoreUnavailable so callers can tell throttling from outage.
func (e *Engine) consumeRate(ctx context.Context, action RateAction) (*RateStatus, error) {
	if !e.config.Features.RateLimiting {
		return nil, nil
	}

	res, err := e.limiter.Consume(ctx, e.fingerprintFromContext(ctx), rate.Action(action))
	switch {
	case err == nil:
		return &RateStatus{Limit: res.Limit, Remaining: res.Remaining, ResetAt: res.ResetAt}, nil
	case errors.Is(err, rate.ErrLimited):
		e.metricInc(MetricRateLimitHit)
		e.emitAudit(ctx, AuditEvent{
			EventType: AuditRateLimited,
			Metadata:  map[string]string{"action": string(action)},
		})
		return nil, &RateLimitedError{
			RetryAfter: res.RetryAfter,
			Remaining:  res.Remaining,
			ResetAt:    res.ResetAt,
		}
	default:
		return nil, wrapStoreErr(err)
	}
}

// wrapStoreErr maps backend transport failures onto ErrStoreUnavailable while
// leaving domain errors untouched.
func wrapStoreErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, rate.ErrBackendUnavailable),
		errors.Is(err, session.ErrBackendUnavailable),
		errors.Is(err, stores.ErrBackendUnavailable):
		return errors.Join(ErrStoreUnavailable, err)
	default:
		return err
	}
}

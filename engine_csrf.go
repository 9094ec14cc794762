package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/authcore-io/authcore/internal"
	"github.com/authcore-io/authcore/internal/stores"
)

// IssueCSRFToken mints the account's anti-forgery token. At most one token
// is live per account; issuing replaces any previous one.
func (e *Engine) IssueCSRFToken(ctx context.Context, accountID string) (string, time.Time, error) {
	if e == nil {
		return "", time.Time{}, ErrEngineNotReady
	}
	if !e.config.Features.CSRF {
		return "", time.Time{}, errors.New("csrf protection disabled")
	}

	token, err := internal.NewCSRFToken()
	if err != nil {
		return "", time.Time{}, err
	}

	expiresAt, err := e.csrf.Put(ctx, accountID, token, e.now())
	if err != nil {
		return "", time.Time{}, wrapStoreErr(err)
	}

	e.metricInc(MetricCSRFIssued)
	return token, expiresAt, nil
}

// VerifyCSRFToken checks the presented token against the account's live one.
// Missing, expired, and mismatched tokens all fail as ErrCSRFInvalid. With
// the CSRF feature disabled, verification short-circuits to success; the
// transport adapter decides whether to enforce at all.
func (e *Engine) VerifyCSRFToken(ctx context.Context, accountID, token string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if !e.config.Features.CSRF {
		return nil
	}

	err := e.csrf.Verify(ctx, accountID, token, e.now())
	switch {
	case err == nil:
		return nil
	case errors.Is(err, stores.ErrCSRFMismatch):
		e.metricInc(MetricCSRFRejected)
		e.emitAudit(ctx, AuditEvent{EventType: AuditCSRFRejected, AccountID: accountID})
		return ErrCSRFInvalid
	default:
		return wrapStoreErr(err)
	}
}

// SweepCSRFTokens deletes stale token rows. Redis TTLs bound lifetimes on
// their own; the sweep exists for operators who shrink the TTL on a live
// deployment.
func (e *Engine) SweepCSRFTokens(ctx context.Context) (int, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}
	n, err := e.csrf.Sweep(ctx, e.now())
	return n, wrapStoreErr(err)
}

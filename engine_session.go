package authcore

import (
	"context"
	"crypto/sha256"
	"errors"
	"time"

	"github.com/authcore-io/authcore/session"
)

// ValidateAccess checks an access token against its signature and its
// session row. A CREATED session is promoted to ACTIVE on first validation;
// any token failure, session failure included, comes back as
// ErrUnauthenticated.
func (e *Engine) ValidateAccess(ctx context.Context, accessToken string) (*Claims, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	start := e.now()
	claims, err := e.tokens.ParseAccess(accessToken)
	if err != nil {
		return nil, ErrUnauthenticated
	}

	err = e.sessions.Activate(ctx, claims.AccountID, claims.SessionID, e.now())
	switch {
	case err == nil:
	case errors.Is(err, session.ErrNotFound),
		errors.Is(err, session.ErrExpired),
		errors.Is(err, session.ErrInactive):
		return nil, ErrUnauthenticated
	default:
		return nil, wrapStoreErr(err)
	}

	e.metrics.Observe(MetricValidateLatency, e.now().Sub(start))
	return &Claims{AccountID: claims.AccountID, SessionID: claims.SessionID, DeviceID: claims.DeviceID}, nil
}

// Claims is the identity a validated access token proves.
type Claims struct {
	AccountID string
	SessionID string
	DeviceID  string
}

// Refresh rotates a refresh token, returning a new pair bound to the same
// session. Presenting a superseded token revokes the whole session and
// returns ErrRefreshReuse: the legitimate holder losing a session is the
// accepted cost of cutting off a thief who replayed a stolen token. The
// loser of two concurrent refreshes with the same token gets the same
// treatment.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	claims, err := e.tokens.ParseRefresh(refreshToken)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		return nil, ErrUnauthenticated
	}

	now := e.now()
	nextRefresh, err := e.tokens.SignRefresh(claims.AccountID, claims.SessionID, claims.DeviceID, now)
	if err != nil {
		return nil, err
	}

	err = e.sessions.RotateRefresh(ctx, claims.AccountID, claims.SessionID,
		sha256.Sum256([]byte(refreshToken)), sha256.Sum256([]byte(nextRefresh)), now)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrRefreshMismatch):
		// Replay. Burn the session so neither holder keeps access.
		_, _ = e.sessions.Delete(ctx, claims.AccountID, claims.SessionID)
		e.metricInc(MetricRefreshReuseDetected)
		e.metricInc(MetricSessionInvalidated)
		e.emitAudit(ctx, AuditEvent{
			EventType: AuditRefreshReuse,
			AccountID: claims.AccountID,
			SessionID: claims.SessionID,
		})
		return nil, ErrRefreshReuse
	case errors.Is(err, session.ErrNotFound),
		errors.Is(err, session.ErrExpired),
		errors.Is(err, session.ErrInactive):
		e.metricInc(MetricRefreshFailure)
		return nil, ErrSessionExpired
	default:
		return nil, wrapStoreErr(err)
	}

	access, err := e.tokens.SignAccess(claims.AccountID, claims.SessionID, claims.DeviceID, now)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, AuditEvent{
		EventType: AuditTokenRefresh,
		AccountID: claims.AccountID,
		SessionID: claims.SessionID,
		Success:   true,
	})

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: nextRefresh,
		ExpiresIn:    int(e.tokens.AccessTTL().Seconds()),
		TokenType:    "Bearer",
	}, nil
}

// Logout tombstones one session. Idempotent: logging out a session that is
// already gone succeeds.
func (e *Engine) Logout(ctx context.Context, accountID, sessionID string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	existed, err := e.sessions.Delete(ctx, accountID, sessionID)
	if err != nil {
		return wrapStoreErr(err)
	}
	if existed {
		e.metricInc(MetricLogout)
		e.metricInc(MetricSessionInvalidated)
	}
	if err := e.csrf.Revoke(ctx, accountID); err != nil {
		return wrapStoreErr(err)
	}

	e.emitAudit(ctx, AuditEvent{EventType: AuditLogout, AccountID: accountID, SessionID: sessionID, Success: true})
	return nil
}

// LogoutAll tombstones every session of an account and returns how many were
// live.
func (e *Engine) LogoutAll(ctx context.Context, accountID string) (int, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}

	n, err := e.sessions.DeleteAll(ctx, accountID)
	if err != nil {
		return n, wrapStoreErr(err)
	}
	if err := e.csrf.Revoke(ctx, accountID); err != nil {
		return n, wrapStoreErr(err)
	}

	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, AuditEvent{EventType: AuditLogoutAll, AccountID: accountID, Success: true})
	return n, nil
}

// ActiveSessions lists the account's live sessions.
func (e *Engine) ActiveSessions(ctx context.Context, accountID string) ([]SessionInfo, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	rows, err := e.sessions.List(ctx, accountID, e.now())
	if err != nil {
		return nil, wrapStoreErr(err)
	}

	out := make([]SessionInfo, 0, len(rows))
	for _, row := range rows {
		out = append(out, SessionInfo{
			SessionID:    row.SessionID,
			AccountID:    row.AccountID,
			DeviceID:     row.DeviceID,
			State:        sessionState(row.Status),
			IssuedAt:     time.Unix(row.CreatedAt, 0),
			ExpiresAt:    time.Unix(row.ExpiresAt, 0),
			LastActivity: time.Unix(row.LastActivity, 0),
		})
	}
	return out, nil
}

func sessionState(status uint8) SessionState {
	switch status {
	case session.StatusCreated:
		return StateCreated
	case session.StatusActive:
		return StateActive
	default:
		return StateLoggedOut
	}
}

// ParseAccessClaims exposes signature-only validation for callers that need
// claims without touching the session row, such as audit tooling. It does
// not authenticate a request; use ValidateAccess for that.
func (e *Engine) ParseAccessClaims(accessToken string) (*Claims, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	claims, err := e.tokens.ParseAccess(accessToken)
	if err != nil {
		return nil, ErrUnauthenticated
	}
	return &Claims{AccountID: claims.AccountID, SessionID: claims.SessionID, DeviceID: claims.DeviceID}, nil
}

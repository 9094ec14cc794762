package authcore

import (
	"context"
	"crypto/sha256"
	"errors"
	"strings"
	"time"

	"github.com/authcore-io/authcore/internal"
	"github.com/authcore-io/authcore/session"
)

// Login verifies credentials and either issues a session or reports that a
// second factor is outstanding. The check order is fixed: rate limit, then
// lockout, then password, then email verification, then 2FA. A session row
// is created only after every check has passed, so no failure path ever
// leaves tokens behind.
//
// When the account has 2FA enabled and the caller's device is not trusted,
// Login returns a LoginResult with Requires2FA set and a challenge id for
// Complete2FA instead of tokens.
func (e *Engine) Login(ctx context.Context, email, pass string) (*LoginResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	if _, err := e.consumeRate(ctx, RateLogin); err != nil {
		e.metricInc(MetricLoginRateLimited)
		return nil, err
	}

	account, err := e.verifyCredentials(ctx, email, pass)
	if err != nil {
		return nil, err
	}

	if !account.EmailVerified {
		e.emitAudit(ctx, AuditEvent{EventType: AuditLoginFailed, AccountID: account.AccountID, Error: "email not verified"})
		return nil, ErrEmailNotVerified
	}

	tf, err := e.provider.GetTwoFactor(ctx, account.AccountID)
	if err != nil && !errors.Is(err, ErrAccountNotFound) {
		return nil, wrapStoreErr(err)
	}
	if tf != nil && tf.Enabled {
		deviceID := e.loginDeviceID(ctx)
		trusted, err := e.devices.IsTrusted(ctx, account.AccountID, deviceID, e.now())
		if err != nil {
			return nil, wrapStoreErr(err)
		}
		if !trusted {
			challengeID, err := e.createTwoFactorChallenge(ctx, account.AccountID)
			if err != nil {
				return nil, err
			}
			e.metricInc(MetricTwoFactorRequired)
			e.emitAudit(ctx, AuditEvent{EventType: AuditTwoFactorChallenge, AccountID: account.AccountID, Success: true})
			return &LoginResult{AccountID: account.AccountID, Requires2FA: true, ChallengeID: challengeID}, nil
		}
		e.metricInc(MetricTrustedDeviceBypass)
	}

	return e.finishLogin(ctx, account)
}

// verifyCredentials checks the password under the lockout policy. Every
// failure, unknown account included, comes back as ErrInvalidCredentials;
// a standing lockout comes back as ErrAccountLocked whether or not the
// presented password was correct.
func (e *Engine) verifyCredentials(ctx context.Context, email, pass string) (AccountRecord, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	account, err := e.provider.GetAccountByEmail(ctx, email)
	if errors.Is(err, ErrAccountNotFound) {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, AuditEvent{EventType: AuditLoginFailed, Error: "unknown account"})
		return AccountRecord{}, ErrInvalidCredentials
	}
	if err != nil {
		return AccountRecord{}, wrapStoreErr(err)
	}

	now := e.now()
	if account.LockedUntil.After(now) {
		e.metricInc(MetricLoginLocked)
		e.emitAudit(ctx, AuditEvent{EventType: AuditLoginFailed, AccountID: account.AccountID, Error: "account locked"})
		return AccountRecord{}, ErrAccountLocked
	}

	ok, err := e.hasher.Verify(pass, account.PasswordHash)
	if err != nil {
		return AccountRecord{}, wrapStoreErr(err)
	}
	if !ok {
		failed := account.FailedAttempts + 1
		lockedUntil := account.LockedUntil
		if failed >= e.config.Lockout.Threshold {
			lockedUntil = now.Add(e.config.Lockout.Cooldown)
			e.emitAudit(ctx, AuditEvent{EventType: AuditAccountLocked, AccountID: account.AccountID})
		}
		if err := e.provider.UpdateLockout(ctx, account.AccountID, failed, lockedUntil); err != nil {
			return AccountRecord{}, wrapStoreErr(err)
		}
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, AuditEvent{EventType: AuditLoginFailed, AccountID: account.AccountID, Error: "bad password"})
		return AccountRecord{}, ErrInvalidCredentials
	}

	if account.FailedAttempts != 0 || !account.LockedUntil.IsZero() {
		if err := e.provider.UpdateLockout(ctx, account.AccountID, 0, time.Time{}); err != nil {
			return AccountRecord{}, wrapStoreErr(err)
		}
	}
	return account, nil
}

// finishLogin creates the session row and signs the token pair. Called only
// after every authentication check has passed.
func (e *Engine) finishLogin(ctx context.Context, account AccountRecord) (*LoginResult, error) {
	deviceID := e.loginDeviceID(ctx)

	tokens, info, err := e.issueSession(ctx, account.AccountID, deviceID)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, AuditEvent{
		EventType: AuditLogin,
		AccountID: account.AccountID,
		SessionID: info.SessionID,
		DeviceID:  deviceID,
		Success:   true,
	})

	return &LoginResult{AccountID: account.AccountID, Tokens: tokens, Session: info}, nil
}

// issueSession persists a CREATED session row and signs its token pair. Only
// the SHA-256 of the refresh token is stored.
func (e *Engine) issueSession(ctx context.Context, accountID, deviceID string) (*TokenPair, *SessionInfo, error) {
	sid, err := internal.NewSessionID()
	if err != nil {
		return nil, nil, err
	}
	sessionID := sid.String()
	now := e.now()

	access, err := e.tokens.SignAccess(accountID, sessionID, deviceID, now)
	if err != nil {
		return nil, nil, err
	}
	refresh, err := e.tokens.SignRefresh(accountID, sessionID, deviceID, now)
	if err != nil {
		return nil, nil, err
	}

	expiresAt := now.Add(e.config.Session.Lifetime)
	row := &session.Session{
		SessionID:    sessionID,
		AccountID:    accountID,
		DeviceID:     deviceID,
		Status:       session.StatusCreated,
		RefreshHash:  sha256.Sum256([]byte(refresh)),
		CreatedAt:    now.Unix(),
		ExpiresAt:    expiresAt.Unix(),
		LastActivity: now.Unix(),
	}
	if err := e.sessions.Create(ctx, row); err != nil {
		return nil, nil, wrapStoreErr(err)
	}
	e.metricInc(MetricSessionCreated)

	tokens := &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int(e.tokens.AccessTTL().Seconds()),
		TokenType:    "Bearer",
	}
	info := &SessionInfo{
		SessionID:    sessionID,
		AccountID:    accountID,
		DeviceID:     deviceID,
		State:        StateCreated,
		IssuedAt:     now,
		ExpiresAt:    expiresAt,
		LastActivity: now,
	}
	return tokens, info, nil
}

// loginDeviceID prefers the client-presented device identifier and falls
// back to the network fingerprint, so the trusted-device bypass still works
// for clients that never set one.
func (e *Engine) loginDeviceID(ctx context.Context) string {
	if id := deviceIDFromContext(ctx); id != "" {
		return id
	}
	return e.fingerprintFromContext(ctx)
}

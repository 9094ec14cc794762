package authcore

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials is returned for any credential failure: unknown
	// email, wrong password, or malformed input. The caller never learns which.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is returned while an account's lockout cooldown is in
	// effect. It does not reveal whether the presented password was correct.
	ErrAccountLocked = errors.New("account locked")
	// ErrEmailNotVerified is returned when credentials check out but the
	// account has not completed email verification.
	ErrEmailNotVerified = errors.New("email not verified")
	// ErrAccountExists is returned by Register for a duplicate email or username.
	ErrAccountExists = errors.New("account already exists")
	// ErrAccountNotFound must be returned by AccountProvider lookups when no
	// account matches. The engine maps it to coarse errors before it escapes.
	ErrAccountNotFound = errors.New("account not found")
	// ErrPasswordPolicy is returned when a new password fails strength checks.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrPasswordReuse is returned when a password change presents the current password.
	ErrPasswordReuse = errors.New("new password must be different from current password")

	// ErrTwoFactorChallengeInvalid is returned by Complete2FA for an unknown,
	// expired, already-used, or attempt-exhausted login challenge. The caller
	// must restart with Login; it never learns which condition fired.
	ErrTwoFactorChallengeInvalid = errors.New("two-factor challenge invalid")
	// ErrTwoFactorNotEnabled is returned for 2FA operations on accounts
	// without an enabled two-factor profile.
	ErrTwoFactorNotEnabled = errors.New("two-factor authentication not enabled")
	// ErrTwoFactorAlreadyEnabled is returned by ProvisionTOTP when the
	// account already has an enabled profile. Disable first to rotate.
	ErrTwoFactorAlreadyEnabled = errors.New("two-factor authentication already enabled")
	// ErrTOTPInvalid is returned for a TOTP code outside the accepted window
	// or one replaying an already-used time step.
	ErrTOTPInvalid = errors.New("invalid totp code")
	// ErrBackupCodeInvalid is returned for an unknown or already-consumed backup code.
	ErrBackupCodeInvalid = errors.New("invalid backup code")

	// ErrRateLimited is the base sentinel for throttled operations. Errors
	// carrying retry timing wrap it; see RateLimitedError.
	ErrRateLimited = errors.New("rate limited")

	// ErrCSRFInvalid is returned for a missing, expired, or mismatched CSRF token.
	ErrCSRFInvalid = errors.New("csrf validation failed")

	// ErrUnauthenticated is returned for any access-token failure: bad
	// signature, unknown session, inactive session, or expiry.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrSessionExpired is returned when a refresh presents a token for a
	// session that has expired or been logged out.
	ErrSessionExpired = errors.New("session expired")
	// ErrRefreshReuse is returned when a superseded refresh token is
	// presented. The session is revoked as a replay countermeasure.
	ErrRefreshReuse = errors.New("refresh token reuse detected")

	// ErrStoreUnavailable marks transient backend failure. It is retryable
	// and is never produced by an authentication decision.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrEngineNotReady is returned when an Engine method is invoked on a
	// nil or partially constructed engine.
	ErrEngineNotReady = errors.New("engine not initialized")

	// ErrVerificationInvalid is returned for an unknown, expired, or
	// already-used email verification token.
	ErrVerificationInvalid = errors.New("verification token invalid")

	// ErrResetInvalid is returned for an unknown, expired, or already-used
	// password reset token.
	ErrResetInvalid = errors.New("reset token invalid")
)

// RateLimitedError carries client backoff timing for a throttled operation.
// It matches ErrRateLimited under errors.Is.
type RateLimitedError struct {
	// RetryAfter is the duration the caller must wait before the bucket
	// admits traffic again.
	RetryAfter time.Duration
	// Remaining is the number of points left in the current window, zero
	// when blocked.
	Remaining int
	// ResetAt is the absolute time the block or window ends.
	ResetAt time.Time
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: retry after %s", e.RetryAfter)
}

// Is reports whether target is ErrRateLimited.
func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

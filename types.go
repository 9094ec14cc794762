package authcore

import (
	"context"
	"time"
)

// AccountRecord is the account view the engine needs from the provider.
// Lockout state lives here so it survives restarts and is shared between
// instances; accounts are never hard-deleted by the engine.
type AccountRecord struct {
	AccountID     string
	Email         string
	Username      string
	PasswordHash  string
	EmailVerified bool
	Role          string

	// FailedAttempts counts consecutive credential failures. It resets only
	// on a successful password verification.
	FailedAttempts int
	// LockedUntil is the lockout horizon; the zero value means unlocked.
	LockedUntil time.Time
}

// TwoFactorRecord is the provider-stored TOTP profile. Enabled stays false
// until the owner has verified one code after setup.
type TwoFactorRecord struct {
	Secret  []byte
	Enabled bool
	// LastUsedCounter is the highest accepted TOTP time step, used for
	// replay protection.
	LastUsedCounter int64
}

// BackupCodeRecord stores a single-use recovery code as a SHA-256 hash.
// Plaintext codes exist only in the response that generated them.
type BackupCodeRecord struct {
	Hash [32]byte
}

// CreateAccountInput is passed to the provider by Register. The password
// arrives pre-hashed.
type CreateAccountInput struct {
	Email        string
	Username     string
	PasswordHash string
	Role         string
}

// AccountProvider is the persistence interface callers implement to connect
// the engine to their account database. Lookups must return
// ErrAccountNotFound (or an error wrapping it) when no account matches.
//
// ConsumeBackupCode must be atomic: when two concurrent calls present the
// same hash, exactly one may report consumed=true.
type AccountProvider interface {
	GetAccountByEmail(ctx context.Context, email string) (AccountRecord, error)
	GetAccountByID(ctx context.Context, accountID string) (AccountRecord, error)
	CreateAccount(ctx context.Context, input CreateAccountInput) (AccountRecord, error)
	UpdateLockout(ctx context.Context, accountID string, failedAttempts int, lockedUntil time.Time) error
	MarkEmailVerified(ctx context.Context, accountID string) error
	UpdatePasswordHash(ctx context.Context, accountID string, newHash string) error

	GetTwoFactor(ctx context.Context, accountID string) (*TwoFactorRecord, error)
	SaveTwoFactorSecret(ctx context.Context, accountID string, secret []byte) error
	EnableTwoFactor(ctx context.Context, accountID string) error
	DisableTwoFactor(ctx context.Context, accountID string) error
	UpdateTwoFactorCounter(ctx context.Context, accountID string, counter int64) error
	ReplaceBackupCodes(ctx context.Context, accountID string, codes []BackupCodeRecord) error
	ConsumeBackupCode(ctx context.Context, accountID string, hash [32]byte) (bool, error)
	CountBackupCodes(ctx context.Context, accountID string) (int, error)
}

// TokenPair is a signed access/refresh pair bound to one session.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	// ExpiresIn is the access token lifetime in seconds.
	ExpiresIn int
	TokenType string // always "Bearer"
}

// SessionInfo is the externally visible session state.
type SessionInfo struct {
	SessionID    string
	AccountID    string
	DeviceID     string
	State        SessionState
	IssuedAt     time.Time
	ExpiresAt    time.Time
	LastActivity time.Time
}

// SessionState is the session lifecycle position. Refreshes loop a session
// through StateActive; StateExpired and StateLoggedOut are terminal.
type SessionState string

const (
	StateCreated   SessionState = "CREATED"
	StateActive    SessionState = "ACTIVE"
	StateExpired   SessionState = "EXPIRED"
	StateLoggedOut SessionState = "LOGGED_OUT"
)

// LoginResult is returned by Login and Complete2FA. When Requires2FA is set
// the result carries only the account id and a short-lived ChallengeID for
// Complete2FA: no partial authentication ever yields live tokens.
type LoginResult struct {
	AccountID   string
	Requires2FA bool
	// ChallengeID references the pending second-factor login. It is set only
	// alongside Requires2FA and expires after TwoFactorConfig.ChallengeTTL.
	ChallengeID string
	Tokens      *TokenPair
	Session     *SessionInfo
}

// RegisterInput is the raw registration request.
type RegisterInput struct {
	Email    string
	Username string
	Password string
	Role     string
}

// TOTPProvision is the secret handed to the account owner at setup time.
// The profile stays disabled until ConfirmTOTPSetup succeeds once.
type TOTPProvision struct {
	Secret string // base32, no padding
	URI    string // otpauth:// provisioning URI
}

// TwoFactorStatus summarizes an account's second-factor posture.
type TwoFactorStatus struct {
	Enabled              bool
	PendingSetup         bool
	BackupCodesRemaining int
	TrustedDevices       []TrustedDevice
}

// TrustedDevice is a bounded, expiring 2FA bypass entry.
type TrustedDevice struct {
	DeviceID  string    `json:"device_id"`
	Label     string    `json:"label"`
	AddedAt   time.Time `json:"added_at"`
	LastUsed  time.Time `json:"last_used"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RateAction selects the policy class for a rate-limit consumption.
type RateAction string

const (
	RateGlobal        RateAction = "global"
	RateLogin         RateAction = "login"
	RateRegistration  RateAction = "registration"
	RatePasswordReset RateAction = "password-reset"
	RateTwoFactor     RateAction = "2fa"
	RateSensitive     RateAction = "sensitive"
)

// RateStatus reports the bucket state after an allowed consumption, for
// X-RateLimit response headers.
type RateStatus struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
}

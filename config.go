package authcore

import (
	"errors"
	"time"
)

// Config carries every tunable for the engine. It is copied on Build; later
// mutation of the caller's struct has no effect on a running Engine.
type Config struct {
	JWT           JWTConfig
	Session       SessionConfig
	Password      PasswordConfig
	Lockout       LockoutConfig
	TwoFactor     TwoFactorConfig
	TrustedDevice TrustedDeviceConfig
	RateLimit     RateLimitConfig
	CSRF          CSRFConfig
	Verification  VerificationConfig
	Reset         ResetConfig
	Audit         AuditConfig
	Metrics       MetricsConfig
	Features      Features
}

// Features enumerates the coarse subsystem toggles. Each defaults to on; a
// disabled subsystem short-circuits to success rather than failing closed,
// except CSRF verification which fails closed when asked to verify while
// disabled at the adapter layer.
type Features struct {
	CSRF            bool
	RateLimiting    bool
	InputValidation bool
	APISecurity     bool
	Monitoring      bool
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig configures the signed token pair. Claims are always bound to
// {account id, session id, device id}.
type JWTConfig struct {
	AccessTTL     time.Duration // default 1h
	RefreshTTL    time.Duration // default 30d
	SigningMethod string        // "ed25519" (default) or "hs256"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls the Redis session rows behind issued token pairs.
type SessionConfig struct {
	RedisPrefix string        // default "as"
	Lifetime    time.Duration // default 24h; always > 0 and > issue instant
}

/*
====================================
CREDENTIAL CONFIG
====================================
*/

// PasswordConfig tunes the argon2id work factor.
type PasswordConfig struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// LockoutConfig controls the failed-attempt counter persisted on the account.
// After Threshold consecutive failures the account refuses every login,
// correct password included, until Cooldown elapses.
type LockoutConfig struct {
	Threshold int           // default 5
	Cooldown  time.Duration // default 15m
}

/*
====================================
TWO-FACTOR CONFIG
====================================
*/

// TwoFactorConfig tunes TOTP generation/verification and backup codes.
type TwoFactorConfig struct {
	Issuer           string
	Digits           int    // default 6
	Period           int    // default 30 seconds
	Skew             int    // accepted steps each side of now, default 2 (~±60s)
	Algorithm        string // SHA1 (default), SHA256, SHA512
	BackupCodeCount  int    // default 10
	ReplayProtection bool   // reject codes at or before the last used counter

	// ChallengeTTL bounds how long a pending login may wait for its second
	// factor. Default 5m.
	ChallengeTTL time.Duration
	// ChallengeMaxAttempts is the wrong-code budget per challenge; exceeding
	// it burns the challenge. Default 5.
	ChallengeMaxAttempts int
}

// TrustedDeviceConfig bounds the per-account trusted-device list that lets a
// device skip the 2FA challenge.
type TrustedDeviceConfig struct {
	MaxDevices int           // default 5; oldest evicted first beyond this
	TrustTTL   time.Duration // default 7 days
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RatePolicy is a points/window/block triple for one action class. Exceeding
// Points inside Window blocks the bucket for Block; the block outlives the
// window that triggered it.
type RatePolicy struct {
	Points int
	Window time.Duration
	Block  time.Duration
}

// RateLimitConfig holds one policy per action class plus identity-key tuning.
// Zero-valued policies fall back to defaults mirroring production presets
// (login: 3 attempts / 60s window / 900s block).
type RateLimitConfig struct {
	Global        RatePolicy
	Login         RatePolicy
	Registration  RatePolicy
	PasswordReset RatePolicy
	TwoFactor     RatePolicy
	Sensitive     RatePolicy

	// FingerprintUserAgent includes the user agent in the identity key.
	// Disable for deployments behind shared NATs where the address alone
	// is the better trade-off.
	FingerprintUserAgent bool
}

/*
====================================
CSRF CONFIG
====================================
*/

// CSRFConfig tunes anti-forgery tokens. One token is active per account.
type CSRFConfig struct {
	TokenTTL   time.Duration // default 30m
	CookieName string        // default "csrf_token"
	HeaderName string        // default "X-CSRF-Token"
}

/*
====================================
VERIFICATION CONFIG
====================================
*/

// VerificationConfig tunes email verification challenges. Delivery is the
// caller's concern; the engine only issues and checks tokens.
type VerificationConfig struct {
	TokenTTL time.Duration // default 24h
}

// ResetConfig tunes password-reset challenges. As with verification, the
// engine issues and checks tokens; delivering them is the caller's concern.
type ResetConfig struct {
	TokenTTL time.Duration // default 1h
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls the in-process counter table.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     time.Hour,
			RefreshTTL:    30 * 24 * time.Hour,
			SigningMethod: "ed25519",
			Leeway:        30 * time.Second,
		},
		Session: SessionConfig{
			RedisPrefix: "as",
			Lifetime:    24 * time.Hour,
		},
		Password: PasswordConfig{
			Memory:      64 * 1024,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
		},
		Lockout: LockoutConfig{
			Threshold: 5,
			Cooldown:  15 * time.Minute,
		},
		TwoFactor: TwoFactorConfig{
			Issuer:               "authcore",
			Digits:               6,
			Period:               30,
			Skew:                 2,
			Algorithm:            "SHA1",
			BackupCodeCount:      10,
			ReplayProtection:     true,
			ChallengeTTL:         5 * time.Minute,
			ChallengeMaxAttempts: 5,
		},
		TrustedDevice: TrustedDeviceConfig{
			MaxDevices: 5,
			TrustTTL:   7 * 24 * time.Hour,
		},
		RateLimit: RateLimitConfig{
			Global:               RatePolicy{Points: 100, Window: time.Minute, Block: 15 * time.Second},
			Login:                RatePolicy{Points: 3, Window: time.Minute, Block: 15 * time.Minute},
			Registration:         RatePolicy{Points: 3, Window: time.Hour, Block: time.Hour},
			PasswordReset:        RatePolicy{Points: 3, Window: time.Hour, Block: time.Hour},
			TwoFactor:            RatePolicy{Points: 10, Window: time.Minute, Block: 5 * time.Minute},
			Sensitive:            RatePolicy{Points: 5, Window: time.Hour, Block: 30 * time.Minute},
			FingerprintUserAgent: true,
		},
		CSRF: CSRFConfig{
			TokenTTL:   30 * time.Minute,
			CookieName: "csrf_token",
			HeaderName: "X-CSRF-Token",
		},
		Verification: VerificationConfig{
			TokenTTL: 24 * time.Hour,
		},
		Reset: ResetConfig{
			TokenTTL: time.Hour,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Features: Features{
			CSRF:            true,
			RateLimiting:    true,
			InputValidation: true,
			APISecurity:     true,
			Monitoring:      true,
		},
	}
}

// Validate rejects configurations that would weaken an invariant.
func (c Config) Validate() error {
	if c.JWT.AccessTTL <= 0 || c.JWT.RefreshTTL <= 0 {
		return errors.New("jwt TTLs must be positive")
	}
	if c.JWT.RefreshTTL < c.JWT.AccessTTL {
		return errors.New("refresh TTL must not be shorter than access TTL")
	}
	if c.Session.Lifetime <= 0 {
		return errors.New("session lifetime must be positive")
	}
	if c.Lockout.Threshold < 1 {
		return errors.New("lockout threshold must be >= 1")
	}
	if c.Lockout.Cooldown <= 0 {
		return errors.New("lockout cooldown must be positive")
	}
	if c.TwoFactor.Digits < 6 || c.TwoFactor.Digits > 8 {
		return errors.New("totp digits must be 6..8")
	}
	if c.TwoFactor.Period <= 0 {
		return errors.New("totp period must be positive")
	}
	if c.TwoFactor.Skew < 0 || c.TwoFactor.Skew > 4 {
		return errors.New("totp skew must be 0..4")
	}
	if c.TwoFactor.ChallengeTTL <= 0 {
		return errors.New("two-factor challenge TTL must be positive")
	}
	if c.TwoFactor.ChallengeMaxAttempts < 1 {
		return errors.New("two-factor challenge attempt budget must be >= 1")
	}
	if c.TrustedDevice.MaxDevices < 1 {
		return errors.New("trusted device cap must be >= 1")
	}
	if c.TrustedDevice.TrustTTL <= 0 {
		return errors.New("trusted device TTL must be positive")
	}
	if c.CSRF.TokenTTL <= 0 {
		return errors.New("csrf token TTL must be positive")
	}
	for _, p := range []RatePolicy{
		c.RateLimit.Global, c.RateLimit.Login, c.RateLimit.Registration,
		c.RateLimit.PasswordReset, c.RateLimit.TwoFactor, c.RateLimit.Sensitive,
	} {
		if p.Points < 0 || p.Window < 0 || p.Block < 0 {
			return errors.New("rate policy values must not be negative")
		}
	}
	return nil
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

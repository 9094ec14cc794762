package authcore

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/authcore-io/authcore/internal/rate"
	"github.com/authcore-io/authcore/internal/stores"
	"github.com/authcore-io/authcore/jwt"
	"github.com/authcore-io/authcore/password"
	"github.com/authcore-io/authcore/session"
)

// Builder assembles an Engine. Single-use: Build may be called once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	provider  AccountProvider
	auditSink AuditSink
	clock     func() time.Time

	built bool
}

// New starts a builder with production defaults.
func New() *Builder {
	return &Builder{config: defaultConfig()}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithAccountProvider connects the engine to the caller's account database.
func (b *Builder) WithAccountProvider(p AccountProvider) *Builder {
	b.provider = p
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithClock overrides the engine's time source. Tests use it to cross TOTP
// steps and expiries without sleeping.
func (b *Builder) WithClock(clock func() time.Time) *Builder {
	b.clock = clock
	return b
}

// Build validates the configuration, generates an ed25519 keypair when none
// was supplied, and wires every subsystem. Any failure aborts construction;
// a Build error never yields a partially working engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	b.built = true

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.provider == nil {
		return nil, errors.New("account provider required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.JWT.SigningMethod == "ed25519" && len(cfg.JWT.PrivateKey) == 0 {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, err
		}
		cfg.JWT.PrivateKey = priv
		cfg.JWT.PublicKey = pub
	}

	clock := b.clock
	if clock == nil {
		clock = time.Now
	}

	tokens, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cfg.JWT.PrivateKey,
		PublicKey:     cfg.JWT.PublicKey,
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		TimeFunc:      clock,
	})
	if err != nil {
		return nil, err
	}

	hasher, err := password.NewHasher(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:   cfg,
		provider: b.provider,
		hasher:   hasher,
		tokens:   tokens,
		sessions: session.NewStore(b.redis, cfg.Session.RedisPrefix),
		totp:     newTOTPManager(cfg.TwoFactor),
		metrics:  NewMetrics(cfg.Metrics),
		audit:    newAuditDispatcher(cfg.Audit, b.auditSink),
		clock:    clock,
	}

	engine.limiter = rate.New(b.redis, map[rate.Action]rate.Policy{
		rate.ActionGlobal:        ratePolicy(cfg.RateLimit.Global),
		rate.ActionLogin:         ratePolicy(cfg.RateLimit.Login),
		rate.ActionRegistration:  ratePolicy(cfg.RateLimit.Registration),
		rate.ActionPasswordReset: ratePolicy(cfg.RateLimit.PasswordReset),
		rate.ActionTwoFactor:     ratePolicy(cfg.RateLimit.TwoFactor),
		rate.ActionSensitive:     ratePolicy(cfg.RateLimit.Sensitive),
	})
	engine.csrf = stores.NewCSRFStore(b.redis, cfg.CSRF.TokenTTL)
	engine.devices = stores.NewDeviceStore(b.redis, cfg.TrustedDevice.MaxDevices, cfg.TrustedDevice.TrustTTL)
	engine.challenges = stores.NewChallengeStore(b.redis, "ev", cfg.Verification.TokenTTL)
	engine.resets = stores.NewChallengeStore(b.redis, "pr", cfg.Reset.TokenTTL)
	engine.mfa = stores.NewMFAChallengeStore(b.redis, cfg.TwoFactor.ChallengeTTL, cfg.TwoFactor.ChallengeMaxAttempts)

	return engine, nil
}

func ratePolicy(p RatePolicy) rate.Policy {
	return rate.Policy{Points: p.Points, Window: p.Window, Block: p.Block}
}

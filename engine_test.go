package authcore

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// fakeProvider is a map-backed AccountProvider for engine tests.
type fakeProvider struct {
	mu      sync.Mutex
	nextID  int
	byEmail map[string]*fakeAccount
	byID    map[string]*fakeAccount
}

type fakeAccount struct {
	rec     AccountRecord
	tf      *TwoFactorRecord
	backups map[[32]byte]struct{}
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{byEmail: map[string]*fakeAccount{}, byID: map[string]*fakeAccount{}}
}

func (p *fakeProvider) GetAccountByEmail(_ context.Context, email string) (AccountRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.byEmail[email]
	if !ok {
		return AccountRecord{}, ErrAccountNotFound
	}
	return a.rec, nil
}

func (p *fakeProvider) GetAccountByID(_ context.Context, accountID string) (AccountRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.byID[accountID]
	if !ok {
		return AccountRecord{}, ErrAccountNotFound
	}
	return a.rec, nil
}

func (p *fakeProvider) CreateAccount(_ context.Context, input CreateAccountInput) (AccountRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.byEmail[input.Email]; ok {
		return AccountRecord{}, ErrAccountExists
	}
	p.nextID++
	a := &fakeAccount{
		rec: AccountRecord{
			AccountID:    "acct-" + strconv.Itoa(p.nextID),
			Email:        input.Email,
			Username:     input.Username,
			PasswordHash: input.PasswordHash,
			Role:         input.Role,
		},
		backups: map[[32]byte]struct{}{},
	}
	p.byEmail[input.Email] = a
	p.byID[a.rec.AccountID] = a
	return a.rec, nil
}

func (p *fakeProvider) UpdateLockout(_ context.Context, accountID string, failed int, lockedUntil time.Time) error {
	return p.mutate(accountID, func(a *fakeAccount) {
		a.rec.FailedAttempts = failed
		a.rec.LockedUntil = lockedUntil
	})
}

func (p *fakeProvider) MarkEmailVerified(_ context.Context, accountID string) error {
	return p.mutate(accountID, func(a *fakeAccount) { a.rec.EmailVerified = true })
}

func (p *fakeProvider) UpdatePasswordHash(_ context.Context, accountID, newHash string) error {
	return p.mutate(accountID, func(a *fakeAccount) { a.rec.PasswordHash = newHash })
}

func (p *fakeProvider) GetTwoFactor(_ context.Context, accountID string) (*TwoFactorRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.byID[accountID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	if a.tf == nil {
		return nil, nil
	}
	cp := *a.tf
	return &cp, nil
}

func (p *fakeProvider) SaveTwoFactorSecret(_ context.Context, accountID string, secret []byte) error {
	return p.mutate(accountID, func(a *fakeAccount) {
		a.tf = &TwoFactorRecord{Secret: secret}
	})
}

func (p *fakeProvider) EnableTwoFactor(_ context.Context, accountID string) error {
	return p.mutate(accountID, func(a *fakeAccount) {
		if a.tf != nil {
			a.tf.Enabled = true
		}
	})
}

func (p *fakeProvider) DisableTwoFactor(_ context.Context, accountID string) error {
	return p.mutate(accountID, func(a *fakeAccount) { a.tf = nil })
}

func (p *fakeProvider) UpdateTwoFactorCounter(_ context.Context, accountID string, counter int64) error {
	return p.mutate(accountID, func(a *fakeAccount) {
		if a.tf != nil {
			a.tf.LastUsedCounter = counter
		}
	})
}

func (p *fakeProvider) ReplaceBackupCodes(_ context.Context, accountID string, codes []BackupCodeRecord) error {
	return p.mutate(accountID, func(a *fakeAccount) {
		a.backups = map[[32]byte]struct{}{}
		for _, c := range codes {
			a.backups[c.Hash] = struct{}{}
		}
	})
}

func (p *fakeProvider) ConsumeBackupCode(_ context.Context, accountID string, hash [32]byte) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.byID[accountID]
	if !ok {
		return false, ErrAccountNotFound
	}
	if _, ok := a.backups[hash]; !ok {
		return false, nil
	}
	delete(a.backups, hash)
	return true, nil
}

func (p *fakeProvider) CountBackupCodes(_ context.Context, accountID string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.byID[accountID]
	if !ok {
		return 0, ErrAccountNotFound
	}
	return len(a.backups), nil
}

func (p *fakeProvider) mutate(accountID string, fn func(*fakeAccount)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.byID[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	fn(a)
	return nil
}

// secretOf reads the raw TOTP secret for computing codes in tests.
func (p *fakeProvider) secretOf(accountID string) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	if a, ok := p.byID[accountID]; ok && a.tf != nil {
		return a.tf.Secret
	}
	return nil
}

type testEnv struct {
	t        *testing.T
	engine   *Engine
	provider *fakeProvider
	mr       *miniredis.Miniredis
	client   *redis.Client

	mu  sync.Mutex
	now time.Time
}

// newTestEnv builds an engine over miniredis with a controllable clock. Rate
// limiting is off by default so unrelated tests never trip the login budget;
// tests exercising throttling turn it back on via mutate.
func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()

	env := &testEnv{
		t:        t,
		provider: newFakeProvider(),
		mr:       miniredis.RunT(t),
		now:      time.Unix(1_700_000_000, 0),
	}

	// Session rows are written with absolute EXPIREAT stamps; align the
	// server clock with the engine clock or they expire on arrival.
	env.mr.SetTime(env.now)

	client := redis.NewClient(&redis.Options{Addr: env.mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	env.client = client

	cfg := defaultConfig()
	cfg.Features.RateLimiting = false
	cfg.Password = PasswordConfig{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 16}
	if mutate != nil {
		mutate(&cfg)
	}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(client).
		WithAccountProvider(env.provider).
		WithClock(env.clock).
		Build()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(engine.Close)

	env.engine = engine
	return env
}

func (env *testEnv) clock() time.Time {
	env.mu.Lock()
	defer env.mu.Unlock()
	return env.now
}

func (env *testEnv) advance(d time.Duration) {
	env.mu.Lock()
	env.now = env.now.Add(d)
	env.mu.Unlock()
}

// createAccount registers a verified or unverified account directly through
// the provider, bypassing registration rate limits and policies.
func (env *testEnv) createAccount(email, pass string, verified bool) string {
	env.t.Helper()

	hash, err := env.engine.hasher.Hash(pass)
	if err != nil {
		env.t.Fatal(err)
	}
	rec, err := env.provider.CreateAccount(context.Background(), CreateAccountInput{
		Email: email, Username: "user", PasswordHash: hash,
	})
	if err != nil {
		env.t.Fatal(err)
	}
	if verified {
		if err := env.provider.MarkEmailVerified(context.Background(), rec.AccountID); err != nil {
			env.t.Fatal(err)
		}
	}
	return rec.AccountID
}

// challenge2FA logs in up to the second-factor gate and returns the pending
// challenge id for Complete2FA.
func (env *testEnv) challenge2FA(ctx context.Context, email, pass string) string {
	env.t.Helper()

	res, err := env.engine.Login(ctx, email, pass)
	if err != nil {
		env.t.Fatal(err)
	}
	if !res.Requires2FA || res.ChallengeID == "" {
		env.t.Fatalf("login must stop at the second-factor gate, got %+v", res)
	}
	return res.ChallengeID
}

// totpCode computes the valid code for the account at the engine's current
// clock.
func (env *testEnv) totpCode(accountID string) string {
	env.t.Helper()

	secret := env.provider.secretOf(accountID)
	if secret == nil {
		env.t.Fatal("no totp secret provisioned")
	}
	code, err := hotpCode(secret, env.clock().Unix()/int64(env.engine.config.TwoFactor.Period), env.engine.config.TwoFactor.Digits, env.engine.config.TwoFactor.Algorithm)
	if err != nil {
		env.t.Fatal(err)
	}
	return code
}

// enableTwoFactor runs the full provision/confirm flow and returns the
// backup codes. It advances the clock one TOTP period so the setup code's
// time step is not consumed for the caller.
func (env *testEnv) enableTwoFactor(accountID string) []string {
	env.t.Helper()
	ctx := context.Background()

	if _, err := env.engine.ProvisionTOTP(ctx, accountID); err != nil {
		env.t.Fatal(err)
	}
	codes, err := env.engine.ConfirmTOTPSetup(ctx, accountID, env.totpCode(accountID))
	if err != nil {
		env.t.Fatal(err)
	}
	env.advance(time.Duration(env.engine.config.TwoFactor.Period) * time.Second)
	return codes
}

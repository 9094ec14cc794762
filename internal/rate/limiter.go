package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrLimited is returned when a bucket refuses consumption. The Result
	// accompanying it carries retry timing.
	ErrLimited = errors.New("rate limited")
	// ErrBackendUnavailable wraps Redis transport failures.
	ErrBackendUnavailable = errors.New("rate limit backend unavailable")
)

// Action is a throttling class with its own policy.
type Action string

const (
	ActionGlobal        Action = "global"
	ActionLogin         Action = "login"
	ActionRegistration  Action = "registration"
	ActionPasswordReset Action = "password-reset"
	ActionTwoFactor     Action = "2fa"
	ActionSensitive     Action = "sensitive"
)

// Policy is the points/window/block triple for one action.
type Policy struct {
	Points int
	Window time.Duration
	Block  time.Duration
}

// Result reports the bucket state after a consumption attempt.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	// RetryAfter is how long until the bucket admits traffic again. Set on
	// denial; zero when allowed.
	RetryAfter time.Duration
	// ResetAt is when the current window or block ends.
	ResetAt time.Time
}

// The script checks the block key first: a standing block denies consumption
// outright, independent of the counting window. Otherwise it does an atomic
// increment-and-check, converting overflow into a fresh block.
const consumeScript = `
local block = redis.call("PTTL", KEYS[2])
if block > 0 then
  return {0, 0, block}
end
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
if count > tonumber(ARGV[1]) then
  redis.call("SET", KEYS[2], "1", "PX", ARGV[3])
  redis.call("DEL", KEYS[1])
  return {0, 0, tonumber(ARGV[3])}
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  ttl = tonumber(ARGV[2])
  redis.call("PEXPIRE", KEYS[1], ttl)
end
return {1, tonumber(ARGV[1]) - count, ttl}
`

var consumeLua = redis.NewScript(consumeScript)

// Limiter throttles (identity fingerprint, action) pairs against per-action
// policies. Safe for concurrent use.
type Limiter struct {
	redis    redis.UniversalClient
	policies map[Action]Policy
}

// New creates a Limiter. Actions without a policy are never throttled.
func New(client redis.UniversalClient, policies map[Action]Policy) *Limiter {
	cloned := make(map[Action]Policy, len(policies))
	for action, p := range policies {
		cloned[action] = p
	}
	return &Limiter{redis: client, policies: cloned}
}

func countKey(action Action, fingerprint string) string {
	return "rl:" + string(action) + ":" + fingerprint
}

func blockKey(action Action, fingerprint string) string {
	return "rlb:" + string(action) + ":" + fingerprint
}

// Consume takes one point from the bucket. On denial it returns ErrLimited
// together with a Result carrying RetryAfter; any other error is backend
// trouble, never a limiting decision.
func (l *Limiter) Consume(ctx context.Context, fingerprint string, action Action) (Result, error) {
	policy, ok := l.policies[action]
	if !ok || policy.Points <= 0 {
		return Result{Allowed: true}, nil
	}

	raw, err := consumeLua.Run(ctx, l.redis,
		[]string{countKey(action, fingerprint), blockKey(action, fingerprint)},
		policy.Points,
		policy.Window.Milliseconds(),
		policy.Block.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if len(raw) != 3 {
		return Result{}, fmt.Errorf("%w: unexpected script reply", ErrBackendUnavailable)
	}

	ttl := time.Duration(raw[2]) * time.Millisecond
	result := Result{
		Allowed:   raw[0] == 1,
		Limit:     policy.Points,
		Remaining: int(raw[1]),
		ResetAt:   time.Now().Add(ttl),
	}
	if !result.Allowed {
		result.RetryAfter = ttl
		return result, ErrLimited
	}
	return result, nil
}

// Reset clears the counting window and any standing block for one bucket.
// Intended for operator tooling; normal flows never forgive a block early.
func (l *Limiter) Reset(ctx context.Context, fingerprint string, action Action) error {
	if err := l.redis.Del(ctx, countKey(action, fingerprint), blockKey(action, fingerprint)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

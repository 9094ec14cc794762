package stores

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrBackendUnavailable wraps Redis transport failures.
	ErrBackendUnavailable = errors.New("store backend unavailable")
	// ErrCSRFMismatch covers every verification failure: no token issued,
	// token expired, or value mismatch. Callers must not distinguish them.
	ErrCSRFMismatch = errors.New("csrf token mismatch")
)

// CSRFStore keeps at most one anti-forgery token per account. Issuing a new
// token overwrites the previous one, so only the latest value verifies.
type CSRFStore struct {
	redis redis.UniversalClient
	ttl   time.Duration
}

func NewCSRFStore(client redis.UniversalClient, ttl time.Duration) *CSRFStore {
	return &CSRFStore{redis: client, ttl: ttl}
}

func csrfKey(accountID string) string {
	return "csrf:" + accountID
}

// Put stores token for the account and returns its expiry instant.
func (s *CSRFStore) Put(ctx context.Context, accountID, token string, now time.Time) (time.Time, error) {
	expiresAt := now.Add(s.ttl)
	value := token + "|" + strconv.FormatInt(expiresAt.Unix(), 10)
	if err := s.redis.Set(ctx, csrfKey(accountID), value, s.ttl).Err(); err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return expiresAt, nil
}

// Verify checks the presented token against the stored one in constant time.
// A missing or expired row fails the same way a wrong value does.
func (s *CSRFStore) Verify(ctx context.Context, accountID, presented string, now time.Time) error {
	value, err := s.redis.Get(ctx, csrfKey(accountID)).Result()
	if errors.Is(err, redis.Nil) {
		return ErrCSRFMismatch
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	sep := strings.LastIndexByte(value, '|')
	if sep < 0 {
		return ErrCSRFMismatch
	}
	stored := value[:sep]
	expiry, err := strconv.ParseInt(value[sep+1:], 10, 64)
	if err != nil || expiry <= now.Unix() {
		return ErrCSRFMismatch
	}

	if subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) != 1 {
		return ErrCSRFMismatch
	}
	return nil
}

// Revoke drops the account's token, if any.
func (s *CSRFStore) Revoke(ctx context.Context, accountID string) error {
	if err := s.redis.Del(ctx, csrfKey(accountID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// Sweep scans for stored tokens whose embedded expiry has passed and deletes
// them. Redis TTLs already bound the lifetime; the sweep exists for rows
// written with a longer TTL by an older configuration.
func (s *CSRFStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	var (
		cursor  uint64
		removed int
	)
	for {
		keys, next, err := s.redis.Scan(ctx, cursor, csrfKey("*"), 128).Result()
		if err != nil {
			return removed, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		for _, key := range keys {
			value, err := s.redis.Get(ctx, key).Result()
			if errors.Is(err, redis.Nil) {
				continue
			}
			if err != nil {
				return removed, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
			}
			sep := strings.LastIndexByte(value, '|')
			if sep < 0 {
				continue
			}
			expiry, err := strconv.ParseInt(value[sep+1:], 10, 64)
			if err != nil || expiry > now.Unix() {
				continue
			}
			if err := s.redis.Del(ctx, key).Err(); err != nil {
				return removed, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
			}
			removed++
		}
		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}

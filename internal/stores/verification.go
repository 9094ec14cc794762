package stores

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrChallengeInvalid covers every consumption failure: unknown id, expired
// row, or wrong secret. Callers must not distinguish them.
var ErrChallengeInvalid = errors.New("challenge invalid")

// Only the secret's hash is stored, so a Redis snapshot never leaks a usable
// token. Compare-and-delete runs server-side to make consumption single-use
// under concurrency.
const consumeChallengeScript = `
local v = redis.call("GET", KEYS[1])
if not v then
  return ""
end
local sep = string.find(v, "|", 1, true)
if not sep then
  redis.call("DEL", KEYS[1])
  return ""
end
if string.sub(v, 1, sep - 1) ~= ARGV[1] then
  return ""
end
redis.call("DEL", KEYS[1])
return string.sub(v, sep + 1)
`

var consumeChallengeLua = redis.NewScript(consumeChallengeScript)

// ChallengeStore issues and consumes single-use account challenges: email
// verification and password reset run separate instances under their own key
// prefixes. Each row maps a random challenge id to the SHA-256 of its secret
// plus the account it belongs to.
type ChallengeStore struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewChallengeStore(client redis.UniversalClient, prefix string, ttl time.Duration) *ChallengeStore {
	if prefix == "" {
		prefix = "ev"
	}
	return &ChallengeStore{redis: client, prefix: prefix, ttl: ttl}
}

func (s *ChallengeStore) key(challengeID string) string {
	return s.prefix + ":" + challengeID
}

// Put stores a challenge row. Re-issuing under the same id overwrites the
// previous secret.
func (s *ChallengeStore) Put(ctx context.Context, challengeID, accountID string, secretHash [32]byte) error {
	value := hex.EncodeToString(secretHash[:]) + "|" + accountID
	if err := s.redis.Set(ctx, s.key(challengeID), value, s.ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// Consume redeems a challenge and returns the account it verifies. A
// successful consume deletes the row, so a second presentation of the same
// token fails.
func (s *ChallengeStore) Consume(ctx context.Context, challengeID string, secretHash [32]byte) (string, error) {
	accountID, err := consumeChallengeLua.Run(ctx, s.redis,
		[]string{s.key(challengeID)},
		hex.EncodeToString(secretHash[:]),
	).Text()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if accountID == "" {
		return "", ErrChallengeInvalid
	}
	return accountID, nil
}

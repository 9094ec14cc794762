package stores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMFAChallengeInvalid covers every challenge failure the caller may see:
// unknown id, expired row, or attempt budget exhausted. Callers must not
// distinguish them.
var ErrMFAChallengeInvalid = errors.New("mfa challenge invalid")

// MFAChallenge is one pending second-factor login, created when credentials
// pass but the 2FA gate holds. The challenge id stands in for the password on
// the completion call.
type MFAChallenge struct {
	AccountID string `json:"a"`
	ExpiresAt int64  `json:"x"`
	Attempts  int    `json:"n"`
}

// MFAChallengeStore keeps pending second-factor logins in Redis. Rows are
// single-use and carry a bounded attempt budget; exceeding it burns the
// challenge so a stolen id cannot be brute-forced through the code space.
type MFAChallengeStore struct {
	redis       redis.UniversalClient
	ttl         time.Duration
	maxAttempts int
}

func NewMFAChallengeStore(client redis.UniversalClient, ttl time.Duration, maxAttempts int) *MFAChallengeStore {
	return &MFAChallengeStore{redis: client, ttl: ttl, maxAttempts: maxAttempts}
}

func mfaChallengeKey(challengeID string) string {
	return "mc:" + challengeID
}

// Create stores a fresh challenge for the account.
func (s *MFAChallengeStore) Create(ctx context.Context, challengeID, accountID string, now time.Time) error {
	raw, err := json.Marshal(MFAChallenge{
		AccountID: accountID,
		ExpiresAt: now.Add(s.ttl).Unix(),
	})
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, mfaChallengeKey(challengeID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// Get loads a live challenge. Expired rows are pruned and report invalid.
func (s *MFAChallengeStore) Get(ctx context.Context, challengeID string, now time.Time) (*MFAChallenge, error) {
	raw, err := s.redis.Get(ctx, mfaChallengeKey(challengeID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMFAChallengeInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	var ch MFAChallenge
	if json.Unmarshal(raw, &ch) != nil || ch.ExpiresAt <= now.Unix() {
		_ = s.redis.Del(ctx, mfaChallengeKey(challengeID)).Err()
		return nil, ErrMFAChallengeInvalid
	}
	return &ch, nil
}

// Consume deletes the challenge and reports whether this caller got it. Two
// concurrent completions of the same challenge see exactly one true.
func (s *MFAChallengeStore) Consume(ctx context.Context, challengeID string) (bool, error) {
	n, err := s.redis.Del(ctx, mfaChallengeKey(challengeID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return n > 0, nil
}

// RecordFailure counts one wrong code against the challenge. Reaching the
// attempt budget deletes the row and reports exceeded. The read-increment-
// write cycle runs under WATCH so concurrent failures cannot undercount.
func (s *MFAChallengeStore) RecordFailure(ctx context.Context, challengeID string, now time.Time) (bool, error) {
	key := mfaChallengeKey(challengeID)

	for attempt := 0; attempt < 5; attempt++ {
		var exceeded bool
		txn := func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			var ch MFAChallenge
			if json.Unmarshal(raw, &ch) != nil || ch.ExpiresAt <= now.Unix() {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrMFAChallengeInvalid
			}

			ch.Attempts++
			if ch.Attempts >= s.maxAttempts {
				exceeded = true
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				return err
			}

			updated, err := json.Marshal(ch)
			if err != nil {
				return err
			}
			ttl := time.Unix(ch.ExpiresAt, 0).Sub(now)
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			return err
		}

		err := s.redis.Watch(ctx, txn, key)
		switch {
		case err == nil:
			return exceeded, nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, redis.Nil), errors.Is(err, ErrMFAChallengeInvalid):
			return false, ErrMFAChallengeInvalid
		default:
			return false, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
	}
	return false, fmt.Errorf("%w: mfa challenge contention", ErrBackendUnavailable)
}

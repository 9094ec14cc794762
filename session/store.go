package session

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrBackendUnavailable wraps any Redis transport failure.
	ErrBackendUnavailable = errors.New("session backend unavailable")
	// ErrNotFound is returned when no row exists for the session id.
	ErrNotFound = errors.New("session not found")
	// ErrExpired is returned when the row exists but its lifetime has passed.
	ErrExpired = errors.New("session expired")
	// ErrInactive is returned when the row is logged out or not yet activated
	// for an operation that requires the active state.
	ErrInactive = errors.New("session inactive")
	// ErrRefreshMismatch is returned when the presented refresh hash does not
	// match the stored one. Callers treat this as token reuse.
	ErrRefreshMismatch = errors.New("refresh hash mismatch")
)

// Rotation outcomes reported by the rotate script.
const (
	rotateNotFound int64 = 0
	rotateExpired  int64 = 1
	rotateMismatch int64 = 2
	rotateRotated  int64 = 3
	rotateInactive int64 = 4
)

const activateScript = `
local xa = redis.call("HGET", KEYS[1], "xa")
if not xa then
  return 0
end
if tonumber(xa) <= tonumber(ARGV[1]) then
  redis.call("DEL", KEYS[1])
  redis.call("SREM", KEYS[2], ARGV[2])
  return 1
end
local st = tonumber(redis.call("HGET", KEYS[1], "st"))
if st == 2 then
  return 2
end
redis.call("HSET", KEYS[1], "st", "1", "la", ARGV[1])
return 3
`

const rotateScript = `
local xa = redis.call("HGET", KEYS[1], "xa")
if not xa then
  return 0
end
if tonumber(xa) <= tonumber(ARGV[1]) then
  redis.call("DEL", KEYS[1])
  redis.call("SREM", KEYS[2], ARGV[2])
  return 1
end
local st = tonumber(redis.call("HGET", KEYS[1], "st"))
if st ~= 1 then
  return 4
end
local rh = redis.call("HGET", KEYS[1], "rh")
if rh ~= ARGV[3] then
  return 2
end
redis.call("HSET", KEYS[1], "rh", ARGV[4], "la", ARGV[1])
return 3
`

const deleteScript = `
local st = redis.call("HGET", KEYS[1], "st")
redis.call("SREM", KEYS[2], ARGV[1])
if not st or st == "2" then
  return 0
end
redis.call("HSET", KEYS[1], "st", "2")
redis.call("PEXPIRE", KEYS[1], ARGV[2])
return 1
`

var (
	activateLua = redis.NewScript(activateScript)
	rotateLua   = redis.NewScript(rotateScript)
	deleteLua   = redis.NewScript(deleteScript)
)

// loggedOutRetention keeps a tombstoned row around long enough for refresh
// attempts against it to report "logged out" instead of "not found".
const loggedOutRetention = 24 * time.Hour

// Store reads and writes session rows. Safe for concurrent use.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

// NewStore creates a session store with the given key prefix ("as" by
// convention).
func NewStore(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "as"
	}
	return &Store{redis: client, prefix: prefix}
}

func (s *Store) key(sessionID string) string {
	return s.prefix + ":" + sessionID
}

func (s *Store) indexKey(accountID string) string {
	return s.prefix + ":acct:" + accountID
}

// Create persists a new row in the CREATED state.
func (s *Store) Create(ctx context.Context, sess *Session) error {
	if sess == nil || sess.SessionID == "" || sess.AccountID == "" {
		return errors.New("invalid session")
	}
	if sess.ExpiresAt <= sess.CreatedAt {
		return errors.New("session expiry must be after creation")
	}

	pipe := s.redis.TxPipeline()
	pipe.HSet(ctx, s.key(sess.SessionID), map[string]interface{}{
		"aid": sess.AccountID,
		"did": sess.DeviceID,
		"st":  strconv.Itoa(int(sess.Status)),
		"rh":  hex.EncodeToString(sess.RefreshHash[:]),
		"ca":  strconv.FormatInt(sess.CreatedAt, 10),
		"xa":  strconv.FormatInt(sess.ExpiresAt, 10),
		"la":  strconv.FormatInt(sess.LastActivity, 10),
	})
	pipe.ExpireAt(ctx, s.key(sess.SessionID), time.Unix(sess.ExpiresAt, 0).Add(loggedOutRetention))
	pipe.SAdd(ctx, s.indexKey(sess.AccountID), sess.SessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// Get loads a row. Expired rows are deleted lazily and reported as ErrExpired.
func (s *Store) Get(ctx context.Context, sessionID string, now time.Time) (*Session, error) {
	fields, err := s.redis.HGetAll(ctx, s.key(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	sess, err := decodeFields(sessionID, fields)
	if err != nil {
		return nil, err
	}
	if sess.ExpiresAt <= now.Unix() {
		pipe := s.redis.TxPipeline()
		pipe.Del(ctx, s.key(sessionID))
		pipe.SRem(ctx, s.indexKey(sess.AccountID), sessionID)
		_, _ = pipe.Exec(ctx)
		return nil, ErrExpired
	}
	return sess, nil
}

// Activate moves a CREATED row to ACTIVE and stamps last activity. Already
// active rows only get the activity stamp.
func (s *Store) Activate(ctx context.Context, accountID, sessionID string, now time.Time) error {
	res, err := activateLua.Run(ctx, s.redis,
		[]string{s.key(sessionID), s.indexKey(accountID)},
		now.Unix(), sessionID,
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	switch res {
	case 0:
		return ErrNotFound
	case 1:
		return ErrExpired
	case 2:
		return ErrInactive
	default:
		return nil
	}
}

// RotateRefresh atomically swaps the stored refresh hash, provided the row is
// ACTIVE, unexpired, and currently holds providedHash. Exactly one of two
// concurrent rotations with the same providedHash can succeed.
func (s *Store) RotateRefresh(ctx context.Context, accountID, sessionID string, providedHash, nextHash [32]byte, now time.Time) error {
	res, err := rotateLua.Run(ctx, s.redis,
		[]string{s.key(sessionID), s.indexKey(accountID)},
		now.Unix(), sessionID,
		hex.EncodeToString(providedHash[:]),
		hex.EncodeToString(nextHash[:]),
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	switch res {
	case rotateNotFound:
		return ErrNotFound
	case rotateExpired:
		return ErrExpired
	case rotateInactive:
		return ErrInactive
	case rotateMismatch:
		return ErrRefreshMismatch
	case rotateRotated:
		return nil
	default:
		return fmt.Errorf("%w: unexpected rotate status %d", ErrBackendUnavailable, res)
	}
}

// Delete tombstones one session as LOGGED_OUT. Idempotent: deleting a missing
// row reports existed=false without error.
func (s *Store) Delete(ctx context.Context, accountID, sessionID string) (bool, error) {
	res, err := deleteLua.Run(ctx, s.redis,
		[]string{s.key(sessionID), s.indexKey(accountID)},
		sessionID, loggedOutRetention.Milliseconds(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return res == 1, nil
}

// DeleteAll tombstones every session of an account and returns how many rows
// existed.
func (s *Store) DeleteAll(ctx context.Context, accountID string) (int, error) {
	ids, err := s.redis.SMembers(ctx, s.indexKey(accountID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	deleted := 0
	for _, id := range ids {
		existed, err := s.Delete(ctx, accountID, id)
		if err != nil {
			return deleted, err
		}
		if existed {
			deleted++
		}
	}
	return deleted, nil
}

// List returns the live (unexpired, not logged out) sessions of an account,
// pruning stale index entries as it goes.
func (s *Store) List(ctx context.Context, accountID string, now time.Time) ([]*Session, error) {
	ids, err := s.redis.SMembers(ctx, s.indexKey(accountID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	out := make([]*Session, 0, len(ids))
	for _, id := range ids {
		sess, err := s.Get(ctx, id, now)
		switch {
		case err == nil:
			if sess.Status != StatusLoggedOut {
				out = append(out, sess)
			}
		case errors.Is(err, ErrNotFound):
			_ = s.redis.SRem(ctx, s.indexKey(accountID), id).Err()
		case errors.Is(err, ErrExpired):
			// Get already pruned it.
		default:
			return nil, err
		}
	}
	return out, nil
}

func decodeFields(sessionID string, fields map[string]string) (*Session, error) {
	sess := &Session{SessionID: sessionID, AccountID: fields["aid"], DeviceID: fields["did"]}

	st, err := strconv.Atoi(fields["st"])
	if err != nil || st < 0 || st > int(StatusLoggedOut) {
		return nil, fmt.Errorf("%w: corrupt status", ErrBackendUnavailable)
	}
	sess.Status = uint8(st)

	rh, err := hex.DecodeString(fields["rh"])
	if err != nil || len(rh) != len(sess.RefreshHash) {
		return nil, fmt.Errorf("%w: corrupt refresh hash", ErrBackendUnavailable)
	}
	copy(sess.RefreshHash[:], rh)

	for field, dst := range map[string]*int64{"ca": &sess.CreatedAt, "xa": &sess.ExpiresAt, "la": &sess.LastActivity} {
		v, err := strconv.ParseInt(fields[field], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: corrupt %s", ErrBackendUnavailable, field)
		}
		*dst = v
	}
	return sess, nil
}

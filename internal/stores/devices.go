package stores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// Device is one trusted-device entry as persisted in the per-account hash.
type Device struct {
	DeviceID  string `json:"d"`
	Label     string `json:"l,omitempty"`
	AddedAt   int64  `json:"a"`
	LastUsed  int64  `json:"u"`
	ExpiresAt int64  `json:"x"`
}

// DeviceStore is the per-account trusted-device registry: a Redis hash keyed
// by device fingerprint, bounded to maxDevices entries with oldest-first
// eviction.
type DeviceStore struct {
	redis      redis.UniversalClient
	maxDevices int
	ttl        time.Duration
}

func NewDeviceStore(client redis.UniversalClient, maxDevices int, ttl time.Duration) *DeviceStore {
	return &DeviceStore{redis: client, maxDevices: maxDevices, ttl: ttl}
}

func deviceKey(accountID string) string {
	return "dt:" + accountID
}

// Both scripts compare against the raw value the caller read, so a device
// removed (or replaced) between the read and the write is left alone: an
// unguarded HSET would resurrect an explicitly revoked entry.
const touchDeviceScript = `
if redis.call("HGET", KEYS[1], ARGV[1]) == ARGV[2] then
  redis.call("HSET", KEYS[1], ARGV[1], ARGV[3])
  return 1
end
return 0
`

const pruneDeviceScript = `
if redis.call("HGET", KEYS[1], ARGV[1]) == ARGV[2] then
  return redis.call("HDEL", KEYS[1], ARGV[1])
end
return 0
`

var (
	touchDeviceLua = redis.NewScript(touchDeviceScript)
	pruneDeviceLua = redis.NewScript(pruneDeviceScript)
)

// Add registers a device, renewing it if already present. When the cap is
// exceeded the entries with the oldest AddedAt are evicted. The read-evict-
// write cycle runs under WATCH so concurrent adds cannot overshoot the cap.
func (s *DeviceStore) Add(ctx context.Context, accountID string, device Device, now time.Time) error {
	device.AddedAt = now.Unix()
	device.LastUsed = now.Unix()
	device.ExpiresAt = now.Add(s.ttl).Unix()

	key := deviceKey(accountID)
	txn := func(tx *redis.Tx) error {
		fields, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}

		devices := make([]Device, 0, len(fields)+1)
		for _, raw := range fields {
			var d Device
			if json.Unmarshal([]byte(raw), &d) != nil {
				continue
			}
			if d.ExpiresAt <= now.Unix() || d.DeviceID == device.DeviceID {
				continue
			}
			devices = append(devices, d)
		}
		devices = append(devices, device)

		if len(devices) > s.maxDevices {
			sort.Slice(devices, func(i, j int) bool { return devices[i].AddedAt < devices[j].AddedAt })
			devices = devices[len(devices)-s.maxDevices:]
		}

		raw, err := json.Marshal(device)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for id := range fields {
				found := false
				for _, d := range devices {
					if d.DeviceID == id {
						found = true
						break
					}
				}
				if !found {
					pipe.HDel(ctx, key, id)
				}
			}
			pipe.HSet(ctx, key, device.DeviceID, raw)
			pipe.Expire(ctx, key, s.ttl)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < 5; attempt++ {
		err := s.redis.Watch(ctx, txn, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return fmt.Errorf("%w: device add contention", ErrBackendUnavailable)
}

// IsTrusted reports whether deviceID is a live trust entry, updating its
// last-used stamp when it is. Expired entries are pruned lazily.
func (s *DeviceStore) IsTrusted(ctx context.Context, accountID, deviceID string, now time.Time) (bool, error) {
	raw, err := s.redis.HGet(ctx, deviceKey(accountID), deviceID).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	var d Device
	if json.Unmarshal([]byte(raw), &d) != nil || d.ExpiresAt <= now.Unix() {
		_ = pruneDeviceLua.Run(ctx, s.redis, []string{deviceKey(accountID)}, deviceID, raw).Err()
		return false, nil
	}

	d.LastUsed = now.Unix()
	if updated, err := json.Marshal(d); err == nil {
		_ = touchDeviceLua.Run(ctx, s.redis, []string{deviceKey(accountID)}, deviceID, raw, updated).Err()
	}
	return true, nil
}

// Remove drops one device and reports whether it existed.
func (s *DeviceStore) Remove(ctx context.Context, accountID, deviceID string) (bool, error) {
	n, err := s.redis.HDel(ctx, deviceKey(accountID), deviceID).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return n > 0, nil
}

// RemoveAll clears the account's registry.
func (s *DeviceStore) RemoveAll(ctx context.Context, accountID string) error {
	if err := s.redis.Del(ctx, deviceKey(accountID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// List returns the live entries for one account, oldest first.
func (s *DeviceStore) List(ctx context.Context, accountID string, now time.Time) ([]Device, error) {
	fields, err := s.redis.HGetAll(ctx, deviceKey(accountID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	out := make([]Device, 0, len(fields))
	for id, raw := range fields {
		var d Device
		if json.Unmarshal([]byte(raw), &d) != nil || d.ExpiresAt <= now.Unix() {
			_ = pruneDeviceLua.Run(ctx, s.redis, []string{deviceKey(accountID)}, id, raw).Err()
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AddedAt < out[j].AddedAt })
	return out, nil
}

// Sweep walks every registry and prunes expired entries, returning how many
// it removed.
func (s *DeviceStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	var (
		cursor  uint64
		removed int
	)
	for {
		keys, next, err := s.redis.Scan(ctx, cursor, deviceKey("*"), 128).Result()
		if err != nil {
			return removed, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		for _, key := range keys {
			fields, err := s.redis.HGetAll(ctx, key).Result()
			if err != nil {
				return removed, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
			}
			for id, raw := range fields {
				var d Device
				if json.Unmarshal([]byte(raw), &d) == nil && d.ExpiresAt > now.Unix() {
					continue
				}
				n, err := pruneDeviceLua.Run(ctx, s.redis, []string{key}, id, raw).Int()
				if err != nil {
					return removed, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
				}
				removed += n
			}
		}
		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}

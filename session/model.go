package session

// Session lifecycle states as stored in Redis.
const (
	StatusCreated   uint8 = 0
	StatusActive    uint8 = 1
	StatusLoggedOut uint8 = 2
)

// Session is one authenticated session row. ExpiresAt is always strictly
// later than CreatedAt; Create rejects anything else.
type Session struct {
	SessionID string
	AccountID string
	DeviceID  string
	Status    uint8

	// RefreshHash is the SHA-256 of the currently valid refresh token.
	// Rotation swaps it atomically; an old token hashing to a superseded
	// value is a replay signal.
	RefreshHash [32]byte

	CreatedAt    int64
	ExpiresAt    int64
	LastActivity int64
}

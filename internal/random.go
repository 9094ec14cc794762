package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
)

// SessionID is a 128-bit random session identifier, rendered as unpadded
// base64url.
type SessionID [16]byte

const (
	csrfTokenBytes      = 32
	challengeSecretSize = 32
	challengeTokenSize  = 16 + challengeSecretSize
	backupCodeBytes     = 4
)

func NewSessionID() (SessionID, error) {
	var sid SessionID
	_, err := rand.Read(sid[:])
	return sid, err
}

func (s SessionID) String() string {
	return base64.RawURLEncoding.EncodeToString(s[:])
}

func ParseSessionID(sessionID string) (SessionID, error) {
	var sid SessionID

	raw, err := base64.RawURLEncoding.DecodeString(sessionID)
	if err != nil {
		return sid, err
	}
	if len(raw) != len(sid) {
		return sid, errors.New("invalid session id size")
	}

	copy(sid[:], raw)
	return sid, nil
}

// NewCSRFToken returns a 256-bit random token in hex, matching the shape
// browsers round-trip through cookies without encoding concerns.
func NewCSRFToken() (string, error) {
	raw := make([]byte, csrfTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

// NewBackupCode returns one single-use recovery code: 8 uppercase hex
// characters, grouped for readability (XXXX-XXXX).
func NewBackupCode() (string, error) {
	raw := make([]byte, backupCodeBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	code := strings.ToUpper(hex.EncodeToString(raw))
	return code[:4] + "-" + code[4:], nil
}

// CanonicalizeBackupCode strips whitespace and separators and uppercases, so
// user-retyped codes compare equal to generated ones.
func CanonicalizeBackupCode(code string) string {
	var b strings.Builder
	b.Grow(len(code))
	for _, r := range code {
		switch {
		case r == ' ' || r == '-' || r == '\t':
		default:
			b.WriteRune(r)
		}
	}
	return strings.ToUpper(b.String())
}

// HashCode is the storage form for backup codes and challenge secrets.
func HashCode(code string) [32]byte {
	return sha256.Sum256([]byte(code))
}

// NewChallengeSecret returns the random half of a verification token.
func NewChallengeSecret() ([challengeSecretSize]byte, error) {
	var secret [challengeSecretSize]byte
	_, err := rand.Read(secret[:])
	return secret, err
}

func HashChallengeSecret(secret [challengeSecretSize]byte) [32]byte {
	return sha256.Sum256(secret[:])
}

// EncodeChallengeToken packs a challenge id and its secret into one opaque
// token. The id half routes the lookup; only the secret's hash is stored.
func EncodeChallengeToken(challengeID string, secret [challengeSecretSize]byte) (string, error) {
	cid, err := ParseSessionID(challengeID)
	if err != nil {
		return "", err
	}

	var raw [challengeTokenSize]byte
	copy(raw[:len(cid)], cid[:])
	copy(raw[len(cid):], secret[:])

	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

func DecodeChallengeToken(token string) (string, [challengeSecretSize]byte, error) {
	var secret [challengeSecretSize]byte

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", secret, err
	}
	if len(raw) != challengeTokenSize {
		return "", secret, errors.New("invalid challenge token size")
	}

	var cid SessionID
	copy(cid[:], raw[:len(cid)])
	copy(secret[:], raw[len(cid):])

	return cid.String(), secret, nil
}

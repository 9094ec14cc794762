package authcore

import (
	"testing"
	"time"
)

// RFC 6238 Appendix B reference vectors.
func TestTOTPVerifyRFCVectorsSHA1(t *testing.T) {
	m := newTOTPManager(TwoFactorConfig{
		Issuer:    "authcore",
		Digits:    8,
		Period:    30,
		Algorithm: "SHA1",
		Skew:      0,
	})
	secret := []byte("12345678901234567890")
	cases := []struct {
		ts   int64
		code string
	}{
		{59, "94287082"},
		{1111111109, "07081804"},
		{1111111111, "14050471"},
		{1234567890, "89005924"},
		{2000000000, "69279037"},
		{20000000000, "65353130"},
	}

	for _, tc := range cases {
		ok, _, err := m.VerifyCode(secret, tc.code, time.Unix(tc.ts, 0))
		if err != nil || !ok {
			t.Fatalf("SHA1 vector failed at t=%d, ok=%v err=%v", tc.ts, ok, err)
		}
	}
}

func TestTOTPVerifyRFCVectorsSHA256(t *testing.T) {
	m := newTOTPManager(TwoFactorConfig{
		Issuer:    "authcore",
		Digits:    8,
		Period:    30,
		Algorithm: "SHA256",
		Skew:      0,
	})
	secret := []byte("12345678901234567890123456789012")
	cases := []struct {
		ts   int64
		code string
	}{
		{59, "46119246"},
		{1111111109, "68084774"},
		{1111111111, "67062674"},
		{1234567890, "91819424"},
		{2000000000, "90698825"},
		{20000000000, "77737706"},
	}

	for _, tc := range cases {
		ok, _, err := m.VerifyCode(secret, tc.code, time.Unix(tc.ts, 0))
		if err != nil || !ok {
			t.Fatalf("SHA256 vector failed at t=%d, ok=%v err=%v", tc.ts, ok, err)
		}
	}
}

func TestTOTPVerifyRFCVectorsSHA512(t *testing.T) {
	m := newTOTPManager(TwoFactorConfig{
		Issuer:    "authcore",
		Digits:    8,
		Period:    30,
		Algorithm: "SHA512",
		Skew:      0,
	})
	secret := []byte("1234567890123456789012345678901234567890123456789012345678901234")
	cases := []struct {
		ts   int64
		code string
	}{
		{59, "90693936"},
		{1111111109, "25091201"},
		{1111111111, "99943326"},
		{1234567890, "93441116"},
		{2000000000, "38618901"},
		{20000000000, "47863826"},
	}

	for _, tc := range cases {
		ok, _, err := m.VerifyCode(secret, tc.code, time.Unix(tc.ts, 0))
		if err != nil || !ok {
			t.Fatalf("SHA512 vector failed at t=%d, ok=%v err=%v", tc.ts, ok, err)
		}
	}
}

// A skew of 2 steps accepts codes up to 60 seconds on either side of the
// verification instant and nothing beyond.
func TestTOTPSkewWindow(t *testing.T) {
	m := newTOTPManager(TwoFactorConfig{
		Issuer:    "authcore",
		Digits:    6,
		Period:    30,
		Algorithm: "SHA1",
		Skew:      2,
	})
	secret := []byte("12345678901234567890")
	now := time.Unix(1111111111, 0)

	for _, offset := range []time.Duration{-60 * time.Second, -30 * time.Second, 0, 30 * time.Second, 60 * time.Second} {
		code, err := hotpCode(secret, now.Add(offset).Unix()/30, 6, "SHA1")
		if err != nil {
			t.Fatal(err)
		}
		ok, _, err := m.VerifyCode(secret, code, now)
		if err != nil || !ok {
			t.Fatalf("code at offset %s should verify, ok=%v err=%v", offset, ok, err)
		}
	}

	for _, offset := range []time.Duration{-120 * time.Second, 120 * time.Second} {
		code, err := hotpCode(secret, now.Add(offset).Unix()/30, 6, "SHA1")
		if err != nil {
			t.Fatal(err)
		}
		ok, _, err := m.VerifyCode(secret, code, now)
		if err != nil {
			t.Fatal(err)
		}
		if ok {
			t.Fatalf("code at offset %s must not verify", offset)
		}
	}
}

func TestTOTPRejectsMalformedCodes(t *testing.T) {
	m := newTOTPManager(TwoFactorConfig{Digits: 6, Period: 30, Algorithm: "SHA1", Skew: 1})
	secret := []byte("12345678901234567890")

	for _, code := range []string{"", "12345", "1234567", "12a456", "abcdef"} {
		ok, _, err := m.VerifyCode(secret, code, time.Unix(59, 0))
		if err != nil {
			t.Fatal(err)
		}
		if ok {
			t.Fatalf("malformed code %q must not verify", code)
		}
	}
}

func TestTOTPProvisionURI(t *testing.T) {
	m := newTOTPManager(TwoFactorConfig{Issuer: "authcore", Digits: 6, Period: 30, Algorithm: "SHA1"})

	_, encoded, err := m.GenerateSecret()
	if err != nil {
		t.Fatal(err)
	}

	uri := m.ProvisionURI(encoded, "alice@example.com")
	if want := "otpauth://totp/authcore:alice@example.com?"; uri[:len(want)] != want {
		t.Fatalf("unexpected URI prefix: %s", uri)
	}
}

package authcore

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestComplete2FAWithTOTP(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	accountID := env.createAccount("alice@example.com", "correct-horse-1", true)
	env.enableTwoFactor(accountID)

	challengeID := env.challenge2FA(ctx, "alice@example.com", "correct-horse-1")
	res, err := env.engine.Complete2FA(ctx, challengeID, env.totpCode(accountID), false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Tokens == nil || res.Session == nil {
		t.Fatal("completed 2FA must issue tokens")
	}
}

func TestComplete2FAChallengeSingleUse(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	accountID := env.createAccount("alice@example.com", "correct-horse-1", true)
	env.enableTwoFactor(accountID)

	challengeID := env.challenge2FA(ctx, "alice@example.com", "correct-horse-1")
	if _, err := env.engine.Complete2FA(ctx, challengeID, env.totpCode(accountID), false); err != nil {
		t.Fatal(err)
	}

	// The challenge died with the completion; replaying it fails even with a
	// fresh valid code.
	env.advance(30 * time.Second)
	_, err := env.engine.Complete2FA(ctx, challengeID, env.totpCode(accountID), false)
	if !errors.Is(err, ErrTwoFactorChallengeInvalid) {
		t.Fatalf("replayed challenge must fail, got %v", err)
	}
}

func TestComplete2FAUnknownChallenge(t *testing.T) {
	env := newTestEnv(t, nil)
	accountID := env.createAccount("alice@example.com", "correct-horse-1", true)
	env.enableTwoFactor(accountID)

	_, err := env.engine.Complete2FA(context.Background(), "bm90LWEtY2hhbGxlbmdl", env.totpCode(accountID), false)
	if !errors.Is(err, ErrTwoFactorChallengeInvalid) {
		t.Fatalf("unknown challenge must fail, got %v", err)
	}
}

func TestComplete2FAChallengeExpires(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	accountID := env.createAccount("alice@example.com", "correct-horse-1", true)
	env.enableTwoFactor(accountID)

	challengeID := env.challenge2FA(ctx, "alice@example.com", "correct-horse-1")

	env.advance(6 * time.Minute)
	env.mr.FastForward(6 * time.Minute)

	_, err := env.engine.Complete2FA(ctx, challengeID, env.totpCode(accountID), false)
	if !errors.Is(err, ErrTwoFactorChallengeInvalid) {
		t.Fatalf("expired challenge must fail, got %v", err)
	}
}

func TestComplete2FAAttemptBudget(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		cfg.TwoFactor.ChallengeMaxAttempts = 3
	})
	ctx := context.Background()
	accountID := env.createAccount("alice@example.com", "correct-horse-1", true)
	env.enableTwoFactor(accountID)

	challengeID := env.challenge2FA(ctx, "alice@example.com", "correct-horse-1")

	for i := 0; i < 2; i++ {
		if _, err := env.engine.Complete2FA(ctx, challengeID, "000000", false); !errors.Is(err, ErrTOTPInvalid) {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
	}

	// The third wrong code burns the challenge.
	if _, err := env.engine.Complete2FA(ctx, challengeID, "000000", false); !errors.Is(err, ErrTwoFactorChallengeInvalid) {
		t.Fatalf("exhausted challenge must fail, got %v", err)
	}

	// Even the right code cannot ride the burned challenge.
	_, err := env.engine.Complete2FA(ctx, challengeID, env.totpCode(accountID), false)
	if !errors.Is(err, ErrTwoFactorChallengeInvalid) {
		t.Fatalf("burned challenge must stay dead, got %v", err)
	}
}

func TestComplete2FARejectsReplayedCode(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	accountID := env.createAccount("alice@example.com", "correct-horse-1", true)
	env.enableTwoFactor(accountID)

	code := env.totpCode(accountID)
	challengeID := env.challenge2FA(ctx, "alice@example.com", "correct-horse-1")
	if _, err := env.engine.Complete2FA(ctx, challengeID, code, false); err != nil {
		t.Fatal(err)
	}

	// Same code, same time step: replay.
	challengeID = env.challenge2FA(ctx, "alice@example.com", "correct-horse-1")
	_, err := env.engine.Complete2FA(ctx, challengeID, code, false)
	if !errors.Is(err, ErrTOTPInvalid) {
		t.Fatalf("replayed code must fail, got %v", err)
	}

	// The next step works again, on the challenge still standing.
	env.advance(30 * time.Second)
	if _, err := env.engine.Complete2FA(ctx, challengeID, env.totpCode(accountID), false); err != nil {
		t.Fatal(err)
	}
}

func TestComplete2FARejectsWrongCode(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	accountID := env.createAccount("alice@example.com", "correct-horse-1", true)
	env.enableTwoFactor(accountID)
	_ = accountID

	challengeID := env.challenge2FA(ctx, "alice@example.com", "correct-horse-1")
	_, err := env.engine.Complete2FA(ctx, challengeID, "000000", false)
	if !errors.Is(err, ErrTOTPInvalid) && !errors.Is(err, ErrBackupCodeInvalid) {
		t.Fatalf("wrong code must fail, got %v", err)
	}
}

func TestComplete2FAWithBackupCode(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	accountID := env.createAccount("alice@example.com", "correct-horse-1", true)
	codes := env.enableTwoFactor(accountID)
	if len(codes) != 10 {
		t.Fatalf("backup codes issued = %d, want 10", len(codes))
	}

	// Codes verify after user-style retyping: padding and separator dropped.
	sloppy := " " + codes[0][:4] + codes[0][5:] + " "
	challengeID := env.challenge2FA(ctx, "alice@example.com", "correct-horse-1")
	if _, err := env.engine.Complete2FA(ctx, challengeID, sloppy, false); err != nil {
		t.Fatal(err)
	}

	// Single-use.
	challengeID = env.challenge2FA(ctx, "alice@example.com", "correct-horse-1")
	_, err := env.engine.Complete2FA(ctx, challengeID, codes[0], false)
	if !errors.Is(err, ErrBackupCodeInvalid) {
		t.Fatalf("consumed code must fail, got %v", err)
	}

	// The rest of the set is still live.
	if _, err := env.engine.Complete2FA(ctx, challengeID, codes[1], false); err != nil {
		t.Fatal(err)
	}

	status, err := env.engine.TwoFactorStatus(ctx, accountID)
	if err != nil {
		t.Fatal(err)
	}
	if status.BackupCodesRemaining != 8 {
		t.Fatalf("remaining = %d, want 8", status.BackupCodesRemaining)
	}
}

func TestTrustedDeviceBypassesChallenge(t *testing.T) {
	env := newTestEnv(t, nil)
	accountID := env.createAccount("alice@example.com", "correct-horse-1", true)
	env.enableTwoFactor(accountID)

	ctx := WithDeviceID(context.Background(), "laptop-1")

	challengeID := env.challenge2FA(ctx, "alice@example.com", "correct-horse-1")
	if _, err := env.engine.Complete2FA(ctx, challengeID, env.totpCode(accountID), true); err != nil {
		t.Fatal(err)
	}

	// The trusted device skips the gate entirely.
	res, err := env.engine.Login(ctx, "alice@example.com", "correct-horse-1")
	if err != nil {
		t.Fatalf("trusted device must bypass 2FA: %v", err)
	}
	if res.Requires2FA || res.Tokens == nil {
		t.Fatalf("bypass must issue tokens directly, got %+v", res)
	}

	// A different device still faces it.
	other := WithDeviceID(context.Background(), "phone-1")
	res, err = env.engine.Login(other, "alice@example.com", "correct-horse-1")
	if err != nil || !res.Requires2FA {
		t.Fatalf("unknown device must face the challenge: res=%+v err=%v", res, err)
	}

	// Trust expires.
	env.advance(8 * 24 * time.Hour)
	res, err = env.engine.Login(ctx, "alice@example.com", "correct-horse-1")
	if err != nil || !res.Requires2FA {
		t.Fatalf("expired trust must face the challenge: res=%+v err=%v", res, err)
	}
}

func TestRemoveTrustedDeviceRestoresChallenge(t *testing.T) {
	env := newTestEnv(t, nil)
	accountID := env.createAccount("alice@example.com", "correct-horse-1", true)
	env.enableTwoFactor(accountID)

	ctx := WithDeviceID(context.Background(), "laptop-1")
	challengeID := env.challenge2FA(ctx, "alice@example.com", "correct-horse-1")
	if _, err := env.engine.Complete2FA(ctx, challengeID, env.totpCode(accountID), true); err != nil {
		t.Fatal(err)
	}

	devices, err := env.engine.TrustedDevices(context.Background(), accountID)
	if err != nil {
		t.Fatal(err)
	}
	if len(devices) != 1 || devices[0].DeviceID != "laptop-1" {
		t.Fatalf("devices = %+v", devices)
	}

	existed, err := env.engine.RemoveTrustedDevice(context.Background(), accountID, "laptop-1")
	if err != nil || !existed {
		t.Fatalf("remove: existed=%v err=%v", existed, err)
	}

	res, err := env.engine.Login(ctx, "alice@example.com", "correct-horse-1")
	if err != nil || !res.Requires2FA {
		t.Fatalf("revoked device must face the challenge: res=%+v err=%v", res, err)
	}
}

func TestConfirmTOTPSetupRequiresValidCode(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	accountID := env.createAccount("alice@example.com", "correct-horse-1", true)

	if _, err := env.engine.ProvisionTOTP(ctx, accountID); err != nil {
		t.Fatal(err)
	}

	if _, err := env.engine.ConfirmTOTPSetup(ctx, accountID, "000000"); !errors.Is(err, ErrTOTPInvalid) {
		t.Fatalf("bad confirmation code must fail, got %v", err)
	}

	// The profile stays disabled: login does not demand a second factor.
	if _, err := env.engine.Login(ctx, "alice@example.com", "correct-horse-1"); err != nil {
		t.Fatalf("unconfirmed setup must not gate login: %v", err)
	}

	if _, err := env.engine.ConfirmTOTPSetup(ctx, accountID, env.totpCode(accountID)); err != nil {
		t.Fatal(err)
	}

	if _, err := env.engine.ConfirmTOTPSetup(ctx, accountID, env.totpCode(accountID)); !errors.Is(err, ErrTwoFactorAlreadyEnabled) {
		t.Fatalf("double confirmation must fail, got %v", err)
	}
}

func TestProvisionTOTPRejectsEnabledProfile(t *testing.T) {
	env := newTestEnv(t, nil)
	accountID := env.createAccount("alice@example.com", "correct-horse-1", true)
	env.enableTwoFactor(accountID)

	_, err := env.engine.ProvisionTOTP(context.Background(), accountID)
	if !errors.Is(err, ErrTwoFactorAlreadyEnabled) {
		t.Fatalf("want ErrTwoFactorAlreadyEnabled, got %v", err)
	}
}

func TestDisableTwoFactor(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	accountID := env.createAccount("alice@example.com", "correct-horse-1", true)
	env.enableTwoFactor(accountID)

	if err := env.engine.DisableTwoFactor(ctx, accountID, "000000"); !errors.Is(err, ErrTOTPInvalid) {
		t.Fatalf("disable needs a valid code, got %v", err)
	}

	if err := env.engine.DisableTwoFactor(ctx, accountID, env.totpCode(accountID)); err != nil {
		t.Fatal(err)
	}

	// Login is back to single-factor.
	if _, err := env.engine.Login(ctx, "alice@example.com", "correct-horse-1"); err != nil {
		t.Fatalf("login after disable: %v", err)
	}

	status, err := env.engine.TwoFactorStatus(ctx, accountID)
	if err != nil {
		t.Fatal(err)
	}
	if status.Enabled || status.BackupCodesRemaining != 0 {
		t.Fatalf("profile must be wiped, got %+v", status)
	}
}

func TestRegenerateBackupCodes(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	accountID := env.createAccount("alice@example.com", "correct-horse-1", true)
	old := env.enableTwoFactor(accountID)

	fresh, err := env.engine.RegenerateBackupCodes(ctx, accountID, env.totpCode(accountID))
	if err != nil {
		t.Fatal(err)
	}
	if len(fresh) != 10 {
		t.Fatalf("fresh codes = %d, want 10", len(fresh))
	}

	env.advance(30 * time.Second)

	// Old codes are dead, fresh ones work.
	challengeID := env.challenge2FA(ctx, "alice@example.com", "correct-horse-1")
	if _, err := env.engine.Complete2FA(ctx, challengeID, old[0], false); !errors.Is(err, ErrBackupCodeInvalid) {
		t.Fatalf("old code must fail, got %v", err)
	}
	if _, err := env.engine.Complete2FA(ctx, challengeID, fresh[0], false); err != nil {
		t.Fatal(err)
	}
}

package authcore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/authcore-io/authcore/internal"
	"github.com/authcore-io/authcore/internal/stores"
)

// Complete2FA finishes a login that stopped at the second-factor gate. The
// challenge id from the Login result stands in for the credentials, so the
// password is presented exactly once per login. code may be a TOTP code or a
// backup code; numeric codes of TOTP length are tried as TOTP, everything
// else as a backup code.
//
// Challenges are single-use, expire after TwoFactorConfig.ChallengeTTL, and
// burn after ChallengeMaxAttempts wrong codes; any of those conditions comes
// back as ErrTwoFactorChallengeInvalid and the caller restarts with Login.
//
// With trustDevice set, a successful verification registers the caller's
// device for future 2FA bypass.
func (e *Engine) Complete2FA(ctx context.Context, challengeID, code string, trustDevice bool) (*LoginResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	if _, err := e.consumeRate(ctx, RateTwoFactor); err != nil {
		return nil, err
	}

	ch, err := e.mfa.Get(ctx, challengeID, e.now())
	if errors.Is(err, stores.ErrMFAChallengeInvalid) {
		e.metricInc(MetricTwoFactorFailure)
		return nil, ErrTwoFactorChallengeInvalid
	}
	if err != nil {
		return nil, wrapStoreErr(err)
	}

	// Account state may have moved since the challenge was issued; a lockout
	// or verification downgrade landing in between wins, and the challenge
	// goes with it.
	account, err := e.provider.GetAccountByID(ctx, ch.AccountID)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	if account.LockedUntil.After(e.now()) {
		if _, err := e.mfa.Consume(ctx, challengeID); err != nil {
			return nil, wrapStoreErr(err)
		}
		return nil, ErrAccountLocked
	}
	if !account.EmailVerified {
		if _, err := e.mfa.Consume(ctx, challengeID); err != nil {
			return nil, wrapStoreErr(err)
		}
		return nil, ErrEmailNotVerified
	}

	tf, err := e.provider.GetTwoFactor(ctx, account.AccountID)
	if err != nil && !errors.Is(err, ErrAccountNotFound) {
		return nil, wrapStoreErr(err)
	}
	if tf == nil || !tf.Enabled {
		return nil, ErrTwoFactorNotEnabled
	}

	if err := e.verifySecondFactor(ctx, account.AccountID, tf, code); err != nil {
		e.metricInc(MetricTwoFactorFailure)
		e.emitAudit(ctx, AuditEvent{EventType: AuditTwoFactorFailed, AccountID: account.AccountID})
		if errors.Is(err, ErrTOTPInvalid) || errors.Is(err, ErrBackupCodeInvalid) {
			exceeded, ferr := e.mfa.RecordFailure(ctx, challengeID, e.now())
			if ferr != nil && !errors.Is(ferr, stores.ErrMFAChallengeInvalid) {
				return nil, wrapStoreErr(ferr)
			}
			if exceeded || errors.Is(ferr, stores.ErrMFAChallengeInvalid) {
				return nil, ErrTwoFactorChallengeInvalid
			}
		}
		return nil, err
	}

	consumed, err := e.mfa.Consume(ctx, challengeID)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	if !consumed {
		// Someone else redeemed the challenge between the read and here.
		e.metricInc(MetricTwoFactorReplay)
		return nil, ErrTwoFactorChallengeInvalid
	}

	if trustDevice {
		deviceID := e.loginDeviceID(ctx)
		err := e.devices.Add(ctx, account.AccountID, stores.Device{
			DeviceID: deviceID,
			Label:    userAgentFromContext(ctx),
		}, e.now())
		if err != nil {
			return nil, wrapStoreErr(err)
		}
		e.emitAudit(ctx, AuditEvent{
			EventType: AuditTrustedDeviceAdded,
			AccountID: account.AccountID,
			DeviceID:  deviceID,
			Success:   true,
		})
	}

	e.metricInc(MetricTwoFactorSuccess)
	e.emitAudit(ctx, AuditEvent{EventType: AuditTwoFactorSuccess, AccountID: account.AccountID, Success: true})

	return e.finishLogin(ctx, account)
}

// createTwoFactorChallenge opens a pending second-factor login and returns
// its id for the Complete2FA call.
func (e *Engine) createTwoFactorChallenge(ctx context.Context, accountID string) (string, error) {
	cid, err := internal.NewSessionID()
	if err != nil {
		return "", err
	}
	challengeID := cid.String()
	if err := e.mfa.Create(ctx, challengeID, accountID, e.now()); err != nil {
		return "", wrapStoreErr(err)
	}
	return challengeID, nil
}

// verifySecondFactor accepts either factor kind. TOTP replay protection
// persists the matched time step; a code at or below the last accepted step
// fails even when it is otherwise valid.
func (e *Engine) verifySecondFactor(ctx context.Context, accountID string, tf *TwoFactorRecord, code string) error {
	if looksLikeTOTP(code, e.config.TwoFactor.Digits) {
		ok, counter, err := e.totp.VerifyCode(tf.Secret, code, e.now())
		if err != nil {
			return err
		}
		if !ok {
			return ErrTOTPInvalid
		}
		if e.config.TwoFactor.ReplayProtection {
			if counter <= tf.LastUsedCounter {
				e.metricInc(MetricTwoFactorReplay)
				return ErrTOTPInvalid
			}
			if err := e.provider.UpdateTwoFactorCounter(ctx, accountID, counter); err != nil {
				return wrapStoreErr(err)
			}
		}
		return nil
	}

	canonical := internal.CanonicalizeBackupCode(code)
	if canonical == "" {
		return ErrBackupCodeInvalid
	}
	consumed, err := e.provider.ConsumeBackupCode(ctx, accountID, internal.HashCode(canonical))
	if err != nil {
		return wrapStoreErr(err)
	}
	if !consumed {
		e.metricInc(MetricBackupCodeFailed)
		return ErrBackupCodeInvalid
	}

	e.metricInc(MetricBackupCodeUsed)
	e.emitAudit(ctx, AuditEvent{EventType: AuditBackupCodeUsed, AccountID: accountID, Success: true})
	return nil
}

func looksLikeTOTP(code string, digits int) bool {
	trimmed := strings.TrimSpace(code)
	return len(trimmed) == digits && isNumericString(trimmed)
}

// ProvisionTOTP generates and stores a pending TOTP secret. The profile is
// not enabled until ConfirmTOTPSetup verifies one code, proving the owner's
// authenticator holds the secret.
func (e *Engine) ProvisionTOTP(ctx context.Context, accountID string) (*TOTPProvision, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	if _, err := e.consumeRate(ctx, RateSensitive); err != nil {
		return nil, err
	}

	account, err := e.provider.GetAccountByID(ctx, accountID)
	if err != nil {
		return nil, wrapStoreErr(err)
	}

	tf, err := e.provider.GetTwoFactor(ctx, accountID)
	if err != nil && !errors.Is(err, ErrAccountNotFound) {
		return nil, wrapStoreErr(err)
	}
	if tf != nil && tf.Enabled {
		return nil, ErrTwoFactorAlreadyEnabled
	}

	raw, encoded, err := e.totp.GenerateSecret()
	if err != nil {
		return nil, err
	}
	if err := e.provider.SaveTwoFactorSecret(ctx, accountID, raw); err != nil {
		return nil, wrapStoreErr(err)
	}

	return &TOTPProvision{
		Secret: encoded,
		URI:    e.totp.ProvisionURI(encoded, account.Email),
	}, nil
}

// ConfirmTOTPSetup verifies one code against the pending secret, enables the
// profile, and returns the freshly generated backup codes. The plaintext
// codes exist only in this response.
func (e *Engine) ConfirmTOTPSetup(ctx context.Context, accountID, code string) ([]string, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	if _, err := e.consumeRate(ctx, RateTwoFactor); err != nil {
		return nil, err
	}

	tf, err := e.provider.GetTwoFactor(ctx, accountID)
	if err != nil && !errors.Is(err, ErrAccountNotFound) {
		return nil, wrapStoreErr(err)
	}
	if tf == nil || len(tf.Secret) == 0 {
		return nil, ErrTwoFactorNotEnabled
	}
	if tf.Enabled {
		return nil, ErrTwoFactorAlreadyEnabled
	}

	ok, counter, err := e.totp.VerifyCode(tf.Secret, code, e.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		e.metricInc(MetricTwoFactorFailure)
		return nil, ErrTOTPInvalid
	}

	if err := e.provider.EnableTwoFactor(ctx, accountID); err != nil {
		return nil, wrapStoreErr(err)
	}
	if e.config.TwoFactor.ReplayProtection {
		if err := e.provider.UpdateTwoFactorCounter(ctx, accountID, counter); err != nil {
			return nil, wrapStoreErr(err)
		}
	}

	plaintext, records, err := e.generateBackupCodes()
	if err != nil {
		return nil, err
	}
	if err := e.provider.ReplaceBackupCodes(ctx, accountID, records); err != nil {
		return nil, wrapStoreErr(err)
	}

	e.emitAudit(ctx, AuditEvent{EventType: AuditTwoFactorEnabled, AccountID: accountID, Success: true})
	return plaintext, nil
}

// DisableTwoFactor turns the profile off after one last code verification.
// Backup codes and trusted devices are wiped with it.
func (e *Engine) DisableTwoFactor(ctx context.Context, accountID, code string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	if _, err := e.consumeRate(ctx, RateSensitive); err != nil {
		return err
	}

	tf, err := e.provider.GetTwoFactor(ctx, accountID)
	if err != nil && !errors.Is(err, ErrAccountNotFound) {
		return wrapStoreErr(err)
	}
	if tf == nil || !tf.Enabled {
		return ErrTwoFactorNotEnabled
	}

	if err := e.verifySecondFactor(ctx, accountID, tf, code); err != nil {
		return err
	}

	if err := e.provider.DisableTwoFactor(ctx, accountID); err != nil {
		return wrapStoreErr(err)
	}
	if err := e.provider.ReplaceBackupCodes(ctx, accountID, nil); err != nil {
		return wrapStoreErr(err)
	}
	if err := e.devices.RemoveAll(ctx, accountID); err != nil {
		return wrapStoreErr(err)
	}

	e.emitAudit(ctx, AuditEvent{EventType: AuditTwoFactorDisabled, AccountID: accountID, Success: true})
	return nil
}

// RegenerateBackupCodes replaces the full set after a code verification.
// Previously issued codes stop working immediately.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, accountID, code string) ([]string, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	if _, err := e.consumeRate(ctx, RateSensitive); err != nil {
		return nil, err
	}

	tf, err := e.provider.GetTwoFactor(ctx, accountID)
	if err != nil && !errors.Is(err, ErrAccountNotFound) {
		return nil, wrapStoreErr(err)
	}
	if tf == nil || !tf.Enabled {
		return nil, ErrTwoFactorNotEnabled
	}

	if err := e.verifySecondFactor(ctx, accountID, tf, code); err != nil {
		return nil, err
	}

	plaintext, records, err := e.generateBackupCodes()
	if err != nil {
		return nil, err
	}
	if err := e.provider.ReplaceBackupCodes(ctx, accountID, records); err != nil {
		return nil, wrapStoreErr(err)
	}

	e.metricInc(MetricBackupCodeRegenerated)
	e.emitAudit(ctx, AuditEvent{EventType: AuditBackupCodesRegenerated, AccountID: accountID, Success: true})
	return plaintext, nil
}

// TwoFactorStatus reports the account's second-factor posture, including the
// live trusted-device list.
func (e *Engine) TwoFactorStatus(ctx context.Context, accountID string) (*TwoFactorStatus, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	tf, err := e.provider.GetTwoFactor(ctx, accountID)
	if err != nil && !errors.Is(err, ErrAccountNotFound) {
		return nil, wrapStoreErr(err)
	}

	status := &TwoFactorStatus{}
	if tf != nil {
		status.Enabled = tf.Enabled
		status.PendingSetup = !tf.Enabled && len(tf.Secret) > 0
	}
	if status.Enabled {
		remaining, err := e.provider.CountBackupCodes(ctx, accountID)
		if err != nil {
			return nil, wrapStoreErr(err)
		}
		status.BackupCodesRemaining = remaining
	}

	devices, err := e.devices.List(ctx, accountID, e.now())
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	status.TrustedDevices = toTrustedDevices(devices)

	return status, nil
}

func (e *Engine) generateBackupCodes() ([]string, []BackupCodeRecord, error) {
	count := e.config.TwoFactor.BackupCodeCount
	plaintext := make([]string, 0, count)
	records := make([]BackupCodeRecord, 0, count)
	for i := 0; i < count; i++ {
		code, err := internal.NewBackupCode()
		if err != nil {
			return nil, nil, err
		}
		plaintext = append(plaintext, code)
		records = append(records, BackupCodeRecord{Hash: internal.HashCode(internal.CanonicalizeBackupCode(code))})
	}
	return plaintext, records, nil
}

func toTrustedDevices(in []stores.Device) []TrustedDevice {
	out := make([]TrustedDevice, 0, len(in))
	for _, d := range in {
		out = append(out, TrustedDevice{
			DeviceID:  d.DeviceID,
			Label:     d.Label,
			AddedAt:   time.Unix(d.AddedAt, 0),
			LastUsed:  time.Unix(d.LastUsed, 0),
			ExpiresAt: time.Unix(d.ExpiresAt, 0),
		})
	}
	return out
}

package authcore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/authcore-io/authcore/internal"
	"github.com/authcore-io/authcore/internal/stores"
)

// Register creates an account through the provider. The password is hashed
// before it crosses the provider boundary; plaintext never leaves this call.
// The account starts unverified and cannot log in until VerifyEmail runs.
func (e *Engine) Register(ctx context.Context, input RegisterInput) (AccountRecord, error) {
	if e == nil {
		return AccountRecord{}, ErrEngineNotReady
	}

	if _, err := e.consumeRate(ctx, RateRegistration); err != nil {
		return AccountRecord{}, err
	}

	email := strings.ToLower(strings.TrimSpace(input.Email))
	if e.config.Features.InputValidation {
		if !validEmail(email) {
			return AccountRecord{}, ErrInvalidCredentials
		}
		if err := validatePassword(input.Password); err != nil {
			return AccountRecord{}, err
		}
	}

	hash, err := e.hasher.Hash(input.Password)
	if err != nil {
		return AccountRecord{}, err
	}

	account, err := e.provider.CreateAccount(ctx, CreateAccountInput{
		Email:        email,
		Username:     strings.TrimSpace(input.Username),
		PasswordHash: hash,
		Role:         input.Role,
	})
	if errors.Is(err, ErrAccountExists) {
		e.metricInc(MetricRegisterDuplicate)
		return AccountRecord{}, ErrAccountExists
	}
	if err != nil {
		return AccountRecord{}, wrapStoreErr(err)
	}

	e.metricInc(MetricRegisterSuccess)
	e.emitAudit(ctx, AuditEvent{EventType: AuditRegister, AccountID: account.AccountID, Success: true})
	return account, nil
}

// RequestEmailVerification issues a single-use verification token for the
// account behind email. Delivery is the caller's concern; the engine only
// mints and later redeems the token. An unknown or already verified address
// returns an empty token with no error, so the endpoint cannot be used to
// enumerate accounts.
func (e *Engine) RequestEmailVerification(ctx context.Context, email string) (string, error) {
	if e == nil {
		return "", ErrEngineNotReady
	}

	if _, err := e.consumeRate(ctx, RatePasswordReset); err != nil {
		return "", err
	}

	account, err := e.provider.GetAccountByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, ErrAccountNotFound) {
		return "", nil
	}
	if err != nil {
		return "", wrapStoreErr(err)
	}
	if account.EmailVerified {
		return "", nil
	}

	cid, err := internal.NewSessionID()
	if err != nil {
		return "", err
	}
	secret, err := internal.NewChallengeSecret()
	if err != nil {
		return "", err
	}

	if err := e.challenges.Put(ctx, cid.String(), account.AccountID, internal.HashChallengeSecret(secret)); err != nil {
		return "", wrapStoreErr(err)
	}

	token, err := internal.EncodeChallengeToken(cid.String(), secret)
	if err != nil {
		return "", err
	}

	e.metricInc(MetricEmailVerificationIssued)
	return token, nil
}

// VerifyEmail redeems a verification token and marks the account verified.
// Tokens are single-use; a second redemption fails.
func (e *Engine) VerifyEmail(ctx context.Context, token string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	challengeID, secret, err := internal.DecodeChallengeToken(token)
	if err != nil {
		e.metricInc(MetricEmailVerificationFailure)
		return ErrVerificationInvalid
	}

	accountID, err := e.challenges.Consume(ctx, challengeID, internal.HashChallengeSecret(secret))
	if errors.Is(err, stores.ErrChallengeInvalid) {
		e.metricInc(MetricEmailVerificationFailure)
		return ErrVerificationInvalid
	}
	if err != nil {
		return wrapStoreErr(err)
	}

	if err := e.provider.MarkEmailVerified(ctx, accountID); err != nil {
		return wrapStoreErr(err)
	}

	e.metricInc(MetricEmailVerificationSuccess)
	e.emitAudit(ctx, AuditEvent{EventType: AuditEmailVerified, AccountID: accountID, Success: true})
	return nil
}

// RequestPasswordReset issues a single-use reset token for the account behind
// email. Delivery is the caller's concern; the engine only mints and later
// redeems the token. An unknown address returns an empty token with no error,
// so the endpoint cannot be used to enumerate accounts.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	if e == nil {
		return "", ErrEngineNotReady
	}

	if _, err := e.consumeRate(ctx, RatePasswordReset); err != nil {
		return "", err
	}

	account, err := e.provider.GetAccountByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, ErrAccountNotFound) {
		return "", nil
	}
	if err != nil {
		return "", wrapStoreErr(err)
	}

	cid, err := internal.NewSessionID()
	if err != nil {
		return "", err
	}
	secret, err := internal.NewChallengeSecret()
	if err != nil {
		return "", err
	}

	if err := e.resets.Put(ctx, cid.String(), account.AccountID, internal.HashChallengeSecret(secret)); err != nil {
		return "", wrapStoreErr(err)
	}

	token, err := internal.EncodeChallengeToken(cid.String(), secret)
	if err != nil {
		return "", err
	}

	e.metricInc(MetricPasswordResetIssued)
	e.emitAudit(ctx, AuditEvent{EventType: AuditPasswordResetRequested, AccountID: account.AccountID, Success: true})
	return token, nil
}

// ResetPassword redeems a reset token and installs the new password. Tokens
// are single-use. Every session of the account is terminated, and a standing
// lockout is cleared: the mailbox owner just proved control of the account,
// so failures racked up against the old password no longer apply.
func (e *Engine) ResetPassword(ctx context.Context, token, next string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	challengeID, secret, err := internal.DecodeChallengeToken(token)
	if err != nil {
		e.metricInc(MetricPasswordResetFailure)
		return ErrResetInvalid
	}

	// Policy runs before consumption so a weak password does not burn the
	// token.
	if e.config.Features.InputValidation {
		if err := validatePassword(next); err != nil {
			return err
		}
	}

	accountID, err := e.resets.Consume(ctx, challengeID, internal.HashChallengeSecret(secret))
	if errors.Is(err, stores.ErrChallengeInvalid) {
		e.metricInc(MetricPasswordResetFailure)
		return ErrResetInvalid
	}
	if err != nil {
		return wrapStoreErr(err)
	}

	hash, err := e.hasher.Hash(next)
	if err != nil {
		return err
	}
	if err := e.provider.UpdatePasswordHash(ctx, accountID, hash); err != nil {
		return wrapStoreErr(err)
	}
	if err := e.provider.UpdateLockout(ctx, accountID, 0, time.Time{}); err != nil {
		return wrapStoreErr(err)
	}

	rows, err := e.sessions.List(ctx, accountID, e.now())
	if err != nil {
		return wrapStoreErr(err)
	}
	for _, row := range rows {
		if _, err := e.sessions.Delete(ctx, accountID, row.SessionID); err != nil {
			return wrapStoreErr(err)
		}
		e.metricInc(MetricSessionInvalidated)
	}

	e.metricInc(MetricPasswordResetSuccess)
	e.emitAudit(ctx, AuditEvent{EventType: AuditPasswordReset, AccountID: accountID, Success: true})
	return nil
}

// ChangePassword swaps the account's password after verifying the current
// one. Every session except keepSessionID is terminated, cutting off anyone
// holding tokens issued under the old password; pass an empty keepSessionID
// to terminate all of them.
func (e *Engine) ChangePassword(ctx context.Context, accountID, keepSessionID, current, next string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	if _, err := e.consumeRate(ctx, RateSensitive); err != nil {
		return err
	}

	account, err := e.provider.GetAccountByID(ctx, accountID)
	if err != nil {
		return wrapStoreErr(err)
	}

	ok, err := e.hasher.Verify(current, account.PasswordHash)
	if err != nil {
		return err
	}
	if !ok {
		e.metricInc(MetricPasswordChangeFailure)
		return ErrInvalidCredentials
	}

	if next == current {
		e.metricInc(MetricPasswordChangeFailure)
		return ErrPasswordReuse
	}
	if e.config.Features.InputValidation {
		if err := validatePassword(next); err != nil {
			return err
		}
	}

	hash, err := e.hasher.Hash(next)
	if err != nil {
		return err
	}
	if err := e.provider.UpdatePasswordHash(ctx, accountID, hash); err != nil {
		return wrapStoreErr(err)
	}

	rows, err := e.sessions.List(ctx, accountID, e.now())
	if err != nil {
		return wrapStoreErr(err)
	}
	for _, row := range rows {
		if row.SessionID == keepSessionID {
			continue
		}
		if _, err := e.sessions.Delete(ctx, accountID, row.SessionID); err != nil {
			return wrapStoreErr(err)
		}
		e.metricInc(MetricSessionInvalidated)
	}

	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, AuditEvent{EventType: AuditPasswordChanged, AccountID: accountID, Success: true})
	return nil
}

// validatePassword is the minimum bar for new passwords: 8..128 bytes with
// at least one letter and one digit. Providers wanting a stricter policy
// enforce it before CreateAccount returns.
func validatePassword(pass string) error {
	if len(pass) < 8 || len(pass) > 128 {
		return ErrPasswordPolicy
	}
	var hasLetter, hasDigit bool
	for _, r := range pass {
		switch {
		case r >= '0' && r <= '9':
			hasDigit = true
		case r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z':
			hasLetter = true
		}
	}
	if !hasLetter || !hasDigit {
		return ErrPasswordPolicy
	}
	return nil
}

// validEmail accepts the address shapes a mail relay would: one @, a
// non-empty local part, and a dotted domain. Full RFC parsing is the mail
// system's job.
func validEmail(email string) bool {
	at := strings.IndexByte(email, '@')
	if at <= 0 || at == len(email)-1 {
		return false
	}
	domain := email[at+1:]
	if strings.IndexByte(domain, '@') >= 0 {
		return false
	}
	dot := strings.IndexByte(domain, '.')
	if dot <= 0 || dot == len(domain)-1 {
		return false
	}
	return len(email) <= 254
}

package authcore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/finchsec/authcore/internal/stores"
)

// GenerateTwoFactorSetup starts (or restarts) TOTP enrollment. It mints a
// fresh secret, opens a pending setup session, and returns the material the
// user needs for their authenticator app. Nothing on the account changes
// until [Engine.EnableTwoFactor] confirms a working code; restarting simply
// replaces the pending session and its candidate secret.
func (e *Engine) GenerateTwoFactorSetup(ctx context.Context, accountID string) (*TwoFactorSetup, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if accountID == "" {
		return nil, ErrInvalidInput
	}

	account, err := e.store.GetAccountByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !account.Active {
		return nil, ErrAccountInactive
	}

	raw, encoded, err := e.totp.GenerateSecret()
	if err != nil {
		return nil, err
	}

	now := e.now()
	err = e.setupSessions.Save(ctx, stores.SetupSessionRecord{
		AccountID: account.AccountID,
		Secret:    raw,
		CreatedAt: now,
		ExpiresAt: now.Add(e.config.SetupSession.TTL),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metrics.Inc(MetricSetupStarted)
	e.auditSuccess(ctx, auditEventSetupStarted, account.AccountID, nil)

	return &TwoFactorSetup{
		Secret:      encoded,
		ManualEntry: FormatManualEntry(encoded),
		URI:         e.totp.ProvisionURI(encoded, account.Email),
	}, nil
}

// EnableTwoFactor confirms enrollment with one valid code from the pending
// setup session and activates the secret on the account. It returns the
// account's recovery codes in plaintext, the only time they are visible.
//
// A wrong code consumes one attempt but never extends the session's expiry.
// Exhausting the attempt budget discards the session; so does letting it
// expire. Either way enrollment starts over from
// [Engine.GenerateTwoFactorSetup].
func (e *Engine) EnableTwoFactor(ctx context.Context, accountID, code string) ([]string, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if accountID == "" || strings.TrimSpace(code) == "" {
		return nil, ErrInvalidInput
	}

	session, err := e.setupSessions.Get(ctx, accountID)
	if err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			return nil, ErrSetupSessionExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if session.Attempts >= e.config.SetupSession.MaxAttempts {
		_ = e.setupSessions.Delete(ctx, accountID)
		return nil, ErrSetupAttemptsExceeded
	}

	ok, err := e.totp.VerifyCode(session.Secret, code, e.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		attempts, incErr := e.setupSessions.IncrementAttempts(ctx, accountID)
		if incErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, incErr)
		}
		if attempts >= e.config.SetupSession.MaxAttempts {
			_ = e.setupSessions.Delete(ctx, accountID)
			return nil, ErrSetupAttemptsExceeded
		}
		return nil, ErrTOTPCodeInvalid
	}

	if err := e.store.EnableTwoFactor(ctx, accountID, session.Secret); err != nil {
		return nil, err
	}

	codes, hashes, err := generateRecoveryBatch(accountID, e.config.RecoveryCodes.Count, e.config.RecoveryCodes.Length)
	if err != nil {
		return nil, err
	}
	if err := e.store.ReplaceRecoveryCodes(ctx, accountID, hashes); err != nil {
		return nil, err
	}

	_ = e.setupSessions.Delete(ctx, accountID)

	e.metrics.Inc(MetricSetupCompleted)
	e.auditSuccess(ctx, auditEventTwoFactorEnabled, accountID, nil)
	e.auditSuccess(ctx, auditEventRecoveryReplaced, accountID, map[string]string{
		"count": strconv.Itoa(len(codes)),
	})

	return codes, nil
}

// GenerateRecoveryCodes issues the first batch of recovery codes for an
// enrolled account. If a batch already exists it refuses; replacing spent
// codes is [Engine.RegenerateRecoveryCodes]'s job.
func (e *Engine) GenerateRecoveryCodes(ctx context.Context, accountID string) ([]string, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	account, err := e.store.GetAccountByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !account.TwoFactorEnabled {
		return nil, ErrTwoFactorNotEnabled
	}

	existing, err := e.store.RecoveryCodeCount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if existing > 0 {
		return nil, ErrRecoveryCodesExist
	}

	return e.replaceRecoveryCodes(ctx, accountID)
}

// RegenerateRecoveryCodes replaces the account's recovery codes with a
// fresh batch. Old codes die immediately; batches never merge.
func (e *Engine) RegenerateRecoveryCodes(ctx context.Context, accountID string) ([]string, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	account, err := e.store.GetAccountByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !account.TwoFactorEnabled {
		return nil, ErrTwoFactorNotEnabled
	}

	return e.replaceRecoveryCodes(ctx, accountID)
}

// RecoveryCodesRemaining reports how many unused codes the account holds.
func (e *Engine) RecoveryCodesRemaining(ctx context.Context, accountID string) (int, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}
	return e.store.RecoveryCodeCount(ctx, accountID)
}

// DisableTwoFactor removes the second factor after re-proving the password.
// The TOTP secret and every recovery code are discarded and all live
// sessions are revoked; the account cannot log in again until it re-enrolls.
func (e *Engine) DisableTwoFactor(ctx context.Context, accountID, currentPassword string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if accountID == "" || currentPassword == "" {
		return ErrInvalidInput
	}

	account, err := e.store.GetAccountByID(ctx, accountID)
	if err != nil {
		return err
	}
	if !account.TwoFactorEnabled {
		return ErrTwoFactorNotEnabled
	}

	ok, err := e.hasher.Verify(currentPassword, account.PasswordHash)
	if err != nil {
		return err
	}
	if !ok {
		e.auditFailure(ctx, auditEventTwoFactorDisabled, accountID, "password mismatch")
		return ErrInvalidInput
	}

	if err := e.store.DisableTwoFactor(ctx, accountID); err != nil {
		return err
	}
	if err := e.store.ReplaceRecoveryCodes(ctx, accountID, nil); err != nil {
		return err
	}
	_ = e.setupSessions.Delete(ctx, accountID)

	if e.sessions != nil {
		if err := e.sessions.RevokeAll(ctx, accountID); err != nil {
			e.log.Error().Err(err).Str("account_id", accountID).Msg("session revocation failed")
		}
	}

	e.auditSuccess(ctx, auditEventTwoFactorDisabled, accountID, nil)
	return nil
}

func (e *Engine) replaceRecoveryCodes(ctx context.Context, accountID string) ([]string, error) {
	codes, hashes, err := generateRecoveryBatch(accountID, e.config.RecoveryCodes.Count, e.config.RecoveryCodes.Length)
	if err != nil {
		return nil, err
	}
	if err := e.store.ReplaceRecoveryCodes(ctx, accountID, hashes); err != nil {
		return nil, err
	}

	e.auditSuccess(ctx, auditEventRecoveryReplaced, accountID, map[string]string{
		"count": strconv.Itoa(len(codes)),
	})
	return codes, nil
}

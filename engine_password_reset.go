package authcore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/finchsec/authcore/internal/secrets"
	"github.com/finchsec/authcore/internal/stores"
)

// IssuePasswordResetToken creates a single-use reset token for the account
// and returns its plaintext, the only time the plaintext exists outside the
// caller's delivery channel. Any previously active token for the account is
// invalidated first; at most one token is redeemable at a time.
//
// The engine does not resolve emails here on purpose: the caller performs
// the lookup and must respond identically whether or not the address
// matched an account.
func (e *Engine) IssuePasswordResetToken(ctx context.Context, accountID string) (string, error) {
	if e == nil {
		return "", ErrEngineNotReady
	}
	if accountID == "" {
		return "", ErrInvalidInput
	}

	account, err := e.store.GetAccountByID(ctx, accountID)
	if err != nil {
		return "", err
	}
	if !account.Active {
		return "", ErrAccountInactive
	}

	secret, err := secrets.NewTokenSecret(e.config.PasswordReset.SecretLength)
	if err != nil {
		return "", err
	}

	now := e.now()
	rec := stores.ResetTokenRecord{
		TokenID:    uuid.NewString(),
		AccountID:  account.AccountID,
		SecretHash: secrets.HashToken(secret),
		CreatedAt:  now,
		ExpiresAt:  now.Add(e.config.PasswordReset.TokenTTL),
	}
	// Superseding the old token and creating the new one is one store
	// transaction, so concurrent issues leave exactly one redeemable token.
	if _, err := e.resetTokens.Issue(ctx, rec, now); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metrics.Inc(MetricResetTokenIssued)
	e.auditSuccess(ctx, auditEventResetIssued, account.AccountID, map[string]string{
		"token_id": rec.TokenID,
	})

	return secrets.EncodeToken(secret), nil
}

// ValidatePasswordResetToken checks a submitted token without consuming it.
// Unknown, malformed and expired tokens are indistinguishable; a token that
// was already redeemed reports that truthfully.
func (e *Engine) ValidatePasswordResetToken(ctx context.Context, token string) (*ResetToken, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	rec, err := e.lookupResetToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if rec.Used {
		return nil, ErrResetTokenAlreadyUsed
	}
	return exportResetToken(rec), nil
}

// RedeemPasswordResetToken consumes a valid token. Exactly one redemption
// can win; every later attempt gets ErrResetTokenAlreadyUsed and mutates
// nothing, so the recorded redemption time never moves.
func (e *Engine) RedeemPasswordResetToken(ctx context.Context, token string) (*ResetToken, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	rec, err := e.lookupResetToken(ctx, token)
	if err != nil {
		return nil, err
	}

	now := e.now()
	alreadyUsed, err := e.resetTokens.MarkUsed(ctx, rec.TokenID, rec.AccountID, now)
	if err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			return nil, ErrResetTokenInvalid
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if alreadyUsed {
		e.metrics.Inc(MetricResetTokenRejected)
		e.auditFailure(ctx, auditEventResetRejected, rec.AccountID, "token already used")
		return nil, ErrResetTokenAlreadyUsed
	}

	rec.Used = true
	rec.UsedAt = now

	e.metrics.Inc(MetricResetTokenRedeemed)
	e.auditSuccess(ctx, auditEventResetRedeemed, rec.AccountID, map[string]string{
		"token_id": rec.TokenID,
	})
	return exportResetToken(rec), nil
}

// ResetPassword is the full self-service flow: validate the token, vet the
// new password, consume the token, store the new hash. The token survives a
// policy rejection untouched so the user may retry with a better password;
// it is consumed only once the new password is accepted.
//
// Completing a reset clears the failure counter, lifts any lockout, and
// revokes every live session.
func (e *Engine) ResetPassword(ctx context.Context, token, newPassword string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	rec, err := e.lookupResetToken(ctx, token)
	if err != nil {
		return err
	}
	if rec.Used {
		return ErrResetTokenAlreadyUsed
	}

	if violations := e.policy.Validate(newPassword); len(violations) > 0 {
		msgs := make([]string, len(violations))
		for i, v := range violations {
			msgs[i] = v.Message
		}
		return fmt.Errorf("%w: %s", ErrPasswordPolicy, strings.Join(msgs, "; "))
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return err
	}

	now := e.now()
	alreadyUsed, err := e.resetTokens.MarkUsed(ctx, rec.TokenID, rec.AccountID, now)
	if err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			return ErrResetTokenInvalid
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if alreadyUsed {
		e.metrics.Inc(MetricResetTokenRejected)
		e.auditFailure(ctx, auditEventResetRejected, rec.AccountID, "token already used")
		return ErrResetTokenAlreadyUsed
	}

	if err := e.store.UpdatePasswordHash(ctx, rec.AccountID, hash); err != nil {
		return err
	}
	if err := e.store.ClearFailures(ctx, rec.AccountID); err != nil {
		e.log.Error().Err(err).Str("account_id", rec.AccountID).Msg("failed to clear failure counter")
	}
	e.lockCache.Delete(rec.AccountID)

	if e.sessions != nil {
		if err := e.sessions.RevokeAll(ctx, rec.AccountID); err != nil {
			e.log.Error().Err(err).Str("account_id", rec.AccountID).Msg("session revocation failed")
		}
	}

	e.metrics.Inc(MetricResetTokenRedeemed)
	e.auditSuccess(ctx, auditEventResetCompleted, rec.AccountID, map[string]string{
		"token_id": rec.TokenID,
	})
	return nil
}

// SweepExpiredTokens deletes used and expired reset token records older
// than the retention window. Run it periodically; frequency only affects
// how long dead records linger.
func (e *Engine) SweepExpiredTokens(ctx context.Context) (int, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}

	deleted, err := e.resetTokens.Sweep(ctx, e.now())
	if err != nil {
		return deleted, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if deleted > 0 {
		e.auditSuccess(ctx, auditEventResetSwept, "", map[string]string{
			"deleted": strconv.Itoa(deleted),
		})
	}
	return deleted, nil
}

// lookupResetToken decodes and resolves a plaintext token, rejecting
// everything that must look identical to the caller: malformed input,
// unknown hash, expiry, and inactive owner.
func (e *Engine) lookupResetToken(ctx context.Context, token string) (*stores.ResetTokenRecord, error) {
	raw, err := secrets.DecodeToken(strings.TrimSpace(token))
	if err != nil {
		return nil, ErrResetTokenInvalid
	}

	rec, err := e.resetTokens.GetByHash(ctx, secrets.HashToken(raw))
	if err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			return nil, ErrResetTokenInvalid
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if e.now().After(rec.ExpiresAt) {
		return nil, ErrResetTokenInvalid
	}

	account, err := e.store.GetAccountByID(ctx, rec.AccountID)
	if err != nil || !account.Active {
		return nil, ErrResetTokenInvalid
	}

	return rec, nil
}

func exportResetToken(rec *stores.ResetTokenRecord) *ResetToken {
	return &ResetToken{
		TokenID:   rec.TokenID,
		AccountID: rec.AccountID,
		CreatedAt: rec.CreatedAt,
		ExpiresAt: rec.ExpiresAt,
		Used:      rec.Used,
		UsedAt:    rec.UsedAt,
	}
}

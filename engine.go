package authcore

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/finchsec/authcore/internal/stores"
	"github.com/finchsec/authcore/password"
)

// Engine is the account-security core: credential verification, mandatory
// TOTP second factor, recovery codes, progressive lockout, and single-use
// password-reset tokens. Construct it through [New]; the zero value is not
// usable. All methods are safe for concurrent use.
type Engine struct {
	config Config
	store  CredentialStore

	hasher    *password.Hasher
	dummyHash string
	policy    *password.Policy
	totp      *totpManager
	backoff   backoffPolicy

	resetTokens   *stores.ResetTokenStore
	setupSessions *stores.SetupSessionStore
	sessions      *sessionManager

	// lockCache keeps lockout deadlines in process so a locked account is
	// rejected without touching the credential store. The store copy is the
	// source of truth; the cache is a read-through shortcut.
	lockCache *ttlcache.Cache[string, time.Time]

	redis   redis.UniversalClient
	metrics *Metrics
	audit   *auditDispatcher
	log     zerolog.Logger
	now     func() time.Time
}

// Close stops background workers. The engine must not be used afterwards.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
	if e.lockCache != nil {
		e.lockCache.Stop()
	}
}

// Metrics exposes the engine's counters. Nil when metrics are disabled.
func (e *Engine) Metrics() *Metrics {
	if e == nil {
		return nil
	}
	return e.metrics
}

// AuditDropped reports how many audit events the dispatcher discarded
// because its buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// Login verifies the first factor. It never completes authentication on its
// own: the best possible outcome is OutcomeRequiresTwoFactor, after which
// the caller must obtain a code and call [Engine.VerifyTwoFactor].
//
// Unknown email, wrong password, inactive account and backend failure all
// produce the same OutcomeFailed result. An account without an enrolled
// second factor also fails, with a message directing the user to enroll.
func (e *Engine) Login(ctx context.Context, email, pass string) (*AuthResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || pass == "" {
		return failedResult(), nil
	}

	account, err := e.store.GetAccountByEmail(ctx, email)
	if err != nil {
		// Burn a verification either way so unknown emails are not
		// distinguishable by response time.
		_, _ = e.hasher.Verify(pass, e.dummyHash)
		e.auditFailure(ctx, auditEventLoginFailure, "", "account lookup")
		e.metrics.Inc(MetricLoginFailure)
		return failedResult(), nil
	}

	// Inactive accounts answer exactly like unknown emails, even when a
	// lockout window would otherwise apply.
	if !account.Active {
		e.auditFailure(ctx, auditEventLoginFailure, account.AccountID, "account inactive")
		e.metrics.Inc(MetricLoginFailure)
		return failedResult(), nil
	}

	if remaining := e.lockoutRemaining(account); remaining > 0 {
		e.auditFailure(ctx, auditEventLoginLockedOut, account.AccountID, "lockout active")
		e.metrics.Inc(MetricLoginLockedOut)
		return lockedOutResult(remaining), nil
	}

	ok, err := e.hasher.Verify(pass, account.PasswordHash)
	if err != nil {
		e.log.Error().Err(err).Str("account_id", account.AccountID).Msg("password hash verification failed")
		e.metrics.Inc(MetricLoginFailure)
		return failedResult(), nil
	}
	if !ok {
		e.auditFailure(ctx, auditEventLoginFailure, account.AccountID, "wrong password")
		e.metrics.Inc(MetricLoginFailure)
		return e.registerFailure(ctx, account.AccountID), nil
	}

	if !account.TwoFactorEnabled {
		e.auditFailure(ctx, auditEventLoginFailure, account.AccountID, "two-factor not enrolled")
		e.metrics.Inc(MetricLoginFailure)
		return &AuthResult{Outcome: OutcomeFailed, AccountID: account.AccountID, Message: msgTwoFactorRequired}, nil
	}

	e.maybeRehash(ctx, account.AccountID, pass, account.PasswordHash)

	return &AuthResult{
		Outcome:   OutcomeRequiresTwoFactor,
		AccountID: account.AccountID,
		Message:   "two-factor code required",
	}, nil
}

// VerifyTwoFactor completes a login started by [Engine.Login]. It accepts a
// TOTP code or a single-use recovery code; which one was submitted is
// inferred from its shape. Failures feed the same counter as password
// failures, so alternating attack surfaces does not dodge the lockout.
func (e *Engine) VerifyTwoFactor(ctx context.Context, accountID, code string) (*AuthResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if accountID == "" || strings.TrimSpace(code) == "" {
		return failedResult(), nil
	}

	account, err := e.store.GetAccountByID(ctx, accountID)
	if err != nil {
		e.metrics.Inc(MetricTwoFactorFailure)
		return failedResult(), nil
	}

	if !account.Active {
		e.metrics.Inc(MetricTwoFactorFailure)
		return failedResult(), nil
	}

	if remaining := e.lockoutRemaining(account); remaining > 0 {
		e.auditFailure(ctx, auditEventLoginLockedOut, account.AccountID, "lockout active")
		e.metrics.Inc(MetricLoginLockedOut)
		return lockedOutResult(remaining), nil
	}
	if !account.TwoFactorEnabled {
		return &AuthResult{Outcome: OutcomeFailed, AccountID: account.AccountID, Message: msgTwoFactorRequired}, nil
	}

	trimmed := strings.TrimSpace(code)
	if len(trimmed) == e.config.TOTP.Digits && isDigits(trimmed) {
		ok, err := e.totp.VerifyCode(account.TwoFactorSecret, trimmed, e.now())
		if err != nil {
			e.log.Error().Err(err).Str("account_id", account.AccountID).Msg("totp verification failed")
			e.metrics.Inc(MetricTwoFactorFailure)
			return failedResult(), nil
		}
		if ok {
			e.metrics.Inc(MetricTwoFactorSuccess)
			e.auditSuccess(ctx, auditEventTwoFactorSuccess, account.AccountID, nil)
			return e.completeLogin(ctx, account.AccountID)
		}
	} else {
		hash := recoveryCodeHash(account.AccountID, canonicalizeRecoveryCode(trimmed))
		consumed, err := e.store.ConsumeRecoveryCode(ctx, account.AccountID, hash)
		if err != nil {
			e.log.Error().Err(err).Str("account_id", account.AccountID).Msg("recovery code consume failed")
			e.metrics.Inc(MetricRecoveryCodeFailed)
			return failedResult(), nil
		}
		if consumed {
			remaining, _ := e.store.RecoveryCodeCount(ctx, account.AccountID)
			e.metrics.Inc(MetricRecoveryCodeUsed)
			e.auditSuccess(ctx, auditEventRecoveryUsed, account.AccountID, map[string]string{
				"codes_remaining": strconv.Itoa(remaining),
			})
			return e.completeLogin(ctx, account.AccountID)
		}
		e.metrics.Inc(MetricRecoveryCodeFailed)
		e.auditFailure(ctx, auditEventRecoveryFailed, account.AccountID, "unknown or spent code")
		return e.registerFailure(ctx, account.AccountID), nil
	}

	e.metrics.Inc(MetricTwoFactorFailure)
	e.auditFailure(ctx, auditEventTwoFactorFailure, account.AccountID, "wrong code")
	return e.registerFailure(ctx, account.AccountID), nil
}

// ValidateCredentials checks email and password only, with the same lockout
// and counter behavior as [Engine.Login] but no two-factor continuation.
// Intended for non-login checks such as confirming identity before a
// sensitive settings change.
func (e *Engine) ValidateCredentials(ctx context.Context, email, pass string) (*AuthResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || pass == "" {
		return failedResult(), nil
	}

	account, err := e.store.GetAccountByEmail(ctx, email)
	if err != nil {
		_, _ = e.hasher.Verify(pass, e.dummyHash)
		return failedResult(), nil
	}

	if !account.Active {
		return failedResult(), nil
	}
	if remaining := e.lockoutRemaining(account); remaining > 0 {
		return lockedOutResult(remaining), nil
	}

	ok, err := e.hasher.Verify(pass, account.PasswordHash)
	if err != nil {
		return failedResult(), nil
	}
	if !ok {
		return e.registerFailure(ctx, account.AccountID), nil
	}

	return &AuthResult{Outcome: OutcomeSuccess, AccountID: account.AccountID}, nil
}

// IsTwoFactorEnabled reports the account's enrollment state.
func (e *Engine) IsTwoFactorEnabled(ctx context.Context, accountID string) (bool, error) {
	if e == nil {
		return false, ErrEngineNotReady
	}
	account, err := e.store.GetAccountByID(ctx, accountID)
	if err != nil {
		return false, err
	}
	return account.TwoFactorEnabled, nil
}

// ValidateSession resolves a session token to its account id. It fails once
// the session was revoked, regardless of the token's embedded expiry.
func (e *Engine) ValidateSession(ctx context.Context, token string) (string, error) {
	if e == nil {
		return "", ErrEngineNotReady
	}
	if e.sessions == nil {
		return "", ErrSessionsDisabled
	}
	return e.sessions.Validate(ctx, token)
}

// Logout revokes the session the token names.
func (e *Engine) Logout(ctx context.Context, token string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if e.sessions == nil {
		return ErrSessionsDisabled
	}
	if err := e.sessions.Revoke(ctx, token); err != nil {
		return err
	}
	e.metrics.Inc(MetricSessionRevoked)
	e.auditSuccess(ctx, auditEventSessionRevoked, "", nil)
	return nil
}

// RevokeAllSessions kills every live session of the account. Called
// internally after password resets and 2FA changes; exported for callers
// who need the same hammer.
func (e *Engine) RevokeAllSessions(ctx context.Context, accountID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if e.sessions == nil {
		return ErrSessionsDisabled
	}
	if err := e.sessions.RevokeAll(ctx, accountID); err != nil {
		return err
	}
	e.metrics.Inc(MetricSessionRevoked)
	e.auditSuccess(ctx, auditEventSessionRevoked, accountID, map[string]string{"scope": "all"})
	return nil
}

// completeLogin is the single point where authentication fully succeeds:
// counter cleared, last login stamped, session issued when enabled.
func (e *Engine) completeLogin(ctx context.Context, accountID string) (*AuthResult, error) {
	if err := e.store.ClearFailures(ctx, accountID); err != nil {
		e.log.Error().Err(err).Str("account_id", accountID).Msg("failed to clear failure counter")
	}
	e.lockCache.Delete(accountID)

	if err := e.store.UpdateLastLogin(ctx, accountID, e.now()); err != nil {
		e.log.Warn().Err(err).Str("account_id", accountID).Msg("failed to stamp last login")
	}

	result := &AuthResult{Outcome: OutcomeSuccess, AccountID: accountID, Message: "authenticated"}

	if e.sessions != nil {
		token, err := e.sessions.Issue(ctx, accountID)
		if err != nil {
			e.log.Error().Err(err).Str("account_id", accountID).Msg("session issuance failed")
		} else {
			result.SessionToken = token
			e.metrics.Inc(MetricSessionIssued)
		}
	}

	e.metrics.Inc(MetricLoginSuccess)
	e.auditSuccess(ctx, auditEventLoginSuccess, accountID, nil)
	return result, nil
}

// registerFailure bumps the shared counter and arms a lockout window when
// the new count calls for one. It returns the result for this attempt.
func (e *Engine) registerFailure(ctx context.Context, accountID string) *AuthResult {
	count, err := e.store.IncrementFailures(ctx, accountID)
	if err != nil {
		e.log.Error().Err(err).Str("account_id", accountID).Msg("failed to increment failure counter")
		return failedResult()
	}

	if !e.backoff.arms(count) {
		return failedResult()
	}

	window := e.backoff.windowFor(count)
	until := e.now().Add(window)
	if err := e.store.SetLockout(ctx, accountID, until); err != nil {
		e.log.Error().Err(err).Str("account_id", accountID).Msg("failed to persist lockout")
	}
	e.lockCache.Set(accountID, until, window)

	e.metrics.Inc(MetricLoginLockedOut)
	e.auditFailure(ctx, auditEventLoginLockedOut, accountID, "lockout armed")
	return lockedOutResult(window)
}

// lockoutRemaining returns the active wait, zero when the account may
// proceed. The in-process cache answers first; the account record covers
// fresh processes and multi-instance deployments.
func (e *Engine) lockoutRemaining(account Account) time.Duration {
	now := e.now()

	if item := e.lockCache.Get(account.AccountID); item != nil {
		if remaining := item.Value().Sub(now); remaining > 0 {
			return remaining
		}
	}

	if !account.LockedUntil.IsZero() {
		if remaining := account.LockedUntil.Sub(now); remaining > 0 {
			return remaining
		}
	}
	return 0
}

// maybeRehash upgrades a stored hash to the current cost parameters after a
// successful verification. Best effort; login proceeds regardless.
func (e *Engine) maybeRehash(ctx context.Context, accountID, pass, encoded string) {
	if !e.config.Password.RehashOnVerify {
		return
	}
	needs, err := e.hasher.NeedsRehash(encoded)
	if err != nil || !needs {
		return
	}
	fresh, err := e.hasher.Hash(pass)
	if err != nil {
		return
	}
	if err := e.store.UpdatePasswordHash(ctx, accountID, fresh); err != nil {
		e.log.Warn().Err(err).Str("account_id", accountID).Msg("hash upgrade not persisted")
	}
}

func (e *Engine) auditSuccess(ctx context.Context, eventType, accountID string, metadata map[string]string) {
	e.audit.Emit(ctx, AuditEvent{
		Timestamp: e.now(),
		EventType: eventType,
		AccountID: accountID,
		IP:        clientIPFromContext(ctx),
		Success:   true,
		Metadata:  metadata,
	})
}

func (e *Engine) auditFailure(ctx context.Context, eventType, accountID, reason string) {
	e.audit.Emit(ctx, AuditEvent{
		Timestamp: e.now(),
		EventType: eventType,
		AccountID: accountID,
		IP:        clientIPFromContext(ctx),
		Success:   false,
		Error:     reason,
	})
}

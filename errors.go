package authcore

import "errors"

var (
	// ErrEngineNotReady is returned when an Engine method is called before
	// the engine was constructed through [Builder.Build].
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrAccountNotFound is returned by [CredentialStore] implementations
	// when no account matches the given email or id. The engine never
	// surfaces it to callers of the login path.
	ErrAccountNotFound = errors.New("account not found")
	// ErrAccountInactive is returned by management operations on a
	// deactivated account.
	ErrAccountInactive = errors.New("account inactive")
	// ErrStoreUnavailable wraps credential store or Redis failures. The
	// login path never surfaces it; management operations may.
	ErrStoreUnavailable = errors.New("backing store unavailable")
	// ErrInvalidInput is returned for malformed identifiers or codes.
	// No state is mutated.
	ErrInvalidInput = errors.New("invalid input")

	// ErrTwoFactorNotEnabled is returned by operations that require an
	// already enrolled account, such as recovery code regeneration.
	ErrTwoFactorNotEnabled = errors.New("two-factor not enabled")
	// ErrSetupSessionExpired is returned when no pending setup session
	// exists for the account or the session passed its TTL. The setup flow
	// must be restarted; there is no retry in place.
	ErrSetupSessionExpired = errors.New("two-factor setup session expired")
	// ErrSetupAttemptsExceeded is returned when the pending setup session
	// consumed its attempt budget. The session is discarded.
	ErrSetupAttemptsExceeded = errors.New("two-factor setup attempts exceeded")
	// ErrTOTPCodeInvalid is returned when a submitted code does not match
	// the pending or active TOTP secret.
	ErrTOTPCodeInvalid = errors.New("invalid totp code")
	// ErrRecoveryCodesExist is returned by GenerateRecoveryCodes when the
	// account already holds a batch; use RegenerateRecoveryCodes instead.
	ErrRecoveryCodesExist = errors.New("recovery codes already issued")

	// ErrResetTokenInvalid covers every reset-token rejection that must not
	// be distinguishable to the caller: unknown token, expired token, and
	// token owned by an inactive account all map here.
	ErrResetTokenInvalid = errors.New("reset token invalid or expired")
	// ErrResetTokenAlreadyUsed is returned when redeeming a token a second
	// time. The second redemption mutates nothing.
	ErrResetTokenAlreadyUsed = errors.New("reset token already used")
	// ErrPasswordPolicy is returned when a new password fails the
	// configured policy. Violations carry detail; the sentinel wraps them.
	ErrPasswordPolicy = errors.New("password policy violation")

	// ErrSessionsDisabled is returned by session operations when the engine
	// was built without session issuance.
	ErrSessionsDisabled = errors.New("session issuance disabled")
	// ErrSessionNotFound is returned when validating a session token whose
	// backing record was revoked or expired.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionTokenInvalid is returned for a malformed or badly signed
	// session token.
	ErrSessionTokenInvalid = errors.New("invalid session token")
)

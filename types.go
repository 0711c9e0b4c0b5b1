package authcore

import (
	"context"
	"time"
)

// Account is the full account record held by the caller's [CredentialStore].
// The engine reads every field and mutates only the security-relevant ones
// (failure counter, lockout timestamp, last login, 2FA material, password
// hash), always through the store's own methods.
type Account struct {
	AccountID        string
	Email            string
	PasswordHash     string
	Active           bool
	TwoFactorEnabled bool
	TwoFactorSecret  []byte
	FailedAttempts   int
	LockedUntil      time.Time // zero value means not locked
	LastLoginAt      time.Time // zero value means never logged in
}

// CredentialStore is the primary interface callers must implement to
// integrate authcore with their account database. Lookup by email is
// case-insensitive; the engine lowercases before calling.
//
// IncrementFailures, SetLockout, ClearFailures and ConsumeRecoveryCode must
// be atomic per account: two concurrent requests for the same account must
// not both observe a stale failure count, and a recovery code hash must be
// consumable exactly once. Implementations back these with row-level
// transactions, optimistic concurrency, or single-key Redis commands.
type CredentialStore interface {
	GetAccountByEmail(ctx context.Context, email string) (Account, error)
	GetAccountByID(ctx context.Context, accountID string) (Account, error)
	UpdatePasswordHash(ctx context.Context, accountID, passwordHash string) error

	// IncrementFailures atomically bumps the shared failure counter and
	// returns the new count.
	IncrementFailures(ctx context.Context, accountID string) (int, error)
	SetLockout(ctx context.Context, accountID string, until time.Time) error
	// ClearFailures zeroes the failure counter and clears the lockout
	// timestamp in one update.
	ClearFailures(ctx context.Context, accountID string) error
	UpdateLastLogin(ctx context.Context, accountID string, at time.Time) error

	EnableTwoFactor(ctx context.Context, accountID string, secret []byte) error
	DisableTwoFactor(ctx context.Context, accountID string) error

	// ReplaceRecoveryCodes swaps the account's full batch of recovery code
	// hashes. There must be no window in which both batches are redeemable.
	ReplaceRecoveryCodes(ctx context.Context, accountID string, hashes [][32]byte) error
	// ConsumeRecoveryCode removes the matching hash if present and reports
	// whether it was found. A hash is consumable at most once.
	ConsumeRecoveryCode(ctx context.Context, accountID string, hash [32]byte) (bool, error)
	RecoveryCodeCount(ctx context.Context, accountID string) (int, error)
}

// Outcome tags an [AuthResult]. Every login-path call maps to exactly one
// outcome; store failures collapse into OutcomeFailed so the caller cannot
// distinguish them from bad credentials.
type Outcome uint8

const (
	// OutcomeFailed is the generic rejection: unknown email, wrong password,
	// wrong code, inactive account, missing 2FA enrollment, or a backend
	// failure. The carried message never identifies which.
	OutcomeFailed Outcome = iota
	// OutcomeSuccess means password and second factor both passed.
	OutcomeSuccess
	// OutcomeRequiresTwoFactor means the password matched and the caller
	// must now obtain a TOTP or recovery code and call VerifyTwoFactor.
	OutcomeRequiresTwoFactor
	// OutcomeLockedOut means a backoff window is active. RetryAfter carries
	// the remaining wait.
	OutcomeLockedOut
)

// String returns the outcome name for logs and tests.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRequiresTwoFactor:
		return "requires_two_factor"
	case OutcomeLockedOut:
		return "locked_out"
	default:
		return "failed"
	}
}

// AuthResult is returned by [Engine.Login], [Engine.VerifyTwoFactor] and
// [Engine.ValidateCredentials]. It is never persisted.
type AuthResult struct {
	Outcome   Outcome
	AccountID string
	// SessionToken is set on OutcomeSuccess from VerifyTwoFactor when
	// session issuance is enabled.
	SessionToken string
	// Message is safe to show to the end user. For OutcomeFailed it is one
	// of two fixed strings and carries no enumeration signal.
	Message string
	// RetryAfter is the remaining lockout window for OutcomeLockedOut.
	RetryAfter time.Duration
}

// TwoFactorSetup is returned by [Engine.GenerateTwoFactorSetup]. Secret and
// ManualEntry are shown to the user exactly once; the engine retains only
// the pending setup session.
type TwoFactorSetup struct {
	// Secret is the base32-encoded shared secret.
	Secret string
	// ManualEntry is Secret grouped into 4-character uppercase blocks for
	// human transcription into an authenticator app.
	ManualEntry string
	// URI is the otpauth:// provisioning URI embedding issuer and account
	// label for QR-based enrollment.
	URI string
}

// ResetToken is the stored password-reset token record returned by
// [Engine.ValidatePasswordResetToken]. The plaintext secret is never part
// of it.
type ResetToken struct {
	TokenID   string
	AccountID string
	CreatedAt time.Time
	ExpiresAt time.Time
	Used      bool
	UsedAt    time.Time // zero value until redeemed
}

const (
	msgInvalidCredentials = "invalid credentials"
	msgTwoFactorRequired  = "two-factor authentication is required for all accounts"
)

func failedResult() *AuthResult {
	return &AuthResult{Outcome: OutcomeFailed, Message: msgInvalidCredentials}
}

func lockedOutResult(remaining time.Duration) *AuthResult {
	return &AuthResult{Outcome: OutcomeLockedOut, Message: "too many failed attempts", RetryAfter: remaining}
}

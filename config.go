package authcore

import (
	"errors"
	"time"
)

// Config holds every tunable of the engine. Zero values are filled from
// defaultConfig by [Builder.Build]; [Config.Validate] rejects combinations
// that would weaken the security model.
type Config struct {
	Policy        PolicyConfig
	Password      PasswordConfig
	TOTP          TOTPConfig
	RecoveryCodes RecoveryCodeConfig
	Backoff       BackoffConfig
	PasswordReset PasswordResetConfig
	SetupSession  SetupSessionConfig
	Session       SessionConfig
	Audit         AuditConfig
	Metrics       MetricsConfig
}

/*
====================================
PASSWORD POLICY CONFIG
====================================
*/

// PolicyConfig configures password strength validation. Only the length
// rule is authoritative by default; the category-mix and entropy rules are
// available but must be switched on explicitly.
type PolicyConfig struct {
	MinLength int
	// RequireCategoryMix additionally demands 3 of 4 character categories
	// (upper, lower, digit, symbol). Off by default.
	RequireCategoryMix bool
	// MinEntropyBits, when > 0, additionally enforces an entropy floor.
	MinEntropyBits float64
}

/*
====================================
PASSWORD HASH CONFIG
====================================
*/

// PasswordConfig holds argon2id parameters for credential hashing.
type PasswordConfig struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	// RehashOnVerify upgrades stored hashes to the current parameters after
	// a successful verification.
	RehashOnVerify bool
}

/*
====================================
TOTP CONFIG
====================================
*/

// TOTPConfig configures the clock-based code validator.
type TOTPConfig struct {
	Issuer    string
	Digits    int
	Period    int // seconds per step
	Algorithm string
	// Skew is the accepted clock drift in whole steps on each side of now.
	Skew int
}

// RecoveryCodeConfig configures single-use backup codes.
type RecoveryCodeConfig struct {
	Count  int
	Length int
}

/*
====================================
LOCKOUT / BACKOFF CONFIG
====================================
*/

// BackoffTier maps a failure count to the wait window armed when the shared
// counter reaches that count.
type BackoffTier struct {
	Threshold int
	Window    time.Duration
}

// BackoffConfig holds the escalation ladder. Tiers must be strictly
// monotonic in both threshold and window.
type BackoffConfig struct {
	Tiers []BackoffTier
}

/*
====================================
RESET TOKEN CONFIG
====================================
*/

// PasswordResetConfig configures single-use reset tokens.
type PasswordResetConfig struct {
	TokenTTL time.Duration
	// SecretLength is the token entropy in bytes. Minimum 32.
	SecretLength int
	// Retention keeps used and expired records for audit before Sweep may
	// delete them.
	Retention   time.Duration
	RedisPrefix string
}

// SetupSessionConfig bounds the window in which a freshly generated 2FA
// secret is pending activation.
type SetupSessionConfig struct {
	TTL         time.Duration
	MaxAttempts int
	RedisPrefix string
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig configures signed session tokens issued on full
// password+2FA success. When disabled, Login still works; it just returns
// no token and Logout is unavailable.
type SessionConfig struct {
	Enabled     bool
	SigningKey  []byte // HMAC-SHA256 key, 32 bytes minimum
	TTL         time.Duration
	RedisPrefix string
}

// AuditConfig configures the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig configures in-process counters.
type MetricsConfig struct {
	Enabled bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

func defaultConfig() Config {
	return Config{
		Policy: PolicyConfig{
			MinLength:          12,
			RequireCategoryMix: false,
			MinEntropyBits:     0,
		},
		Password: PasswordConfig{
			Memory:         65536,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			RehashOnVerify: true,
		},
		TOTP: TOTPConfig{
			Issuer:    "authcore",
			Digits:    6,
			Period:    30,
			Algorithm: "SHA1",
			Skew:      1,
		},
		RecoveryCodes: RecoveryCodeConfig{
			Count:  10,
			Length: 10,
		},
		Backoff: BackoffConfig{
			Tiers: []BackoffTier{
				{Threshold: 5, Window: 30 * time.Second},
				{Threshold: 8, Window: 2 * time.Minute},
				{Threshold: 10, Window: 10 * time.Minute},
			},
		},
		PasswordReset: PasswordResetConfig{
			TokenTTL:     24 * time.Hour,
			SecretLength: 32,
			Retention:    30 * 24 * time.Hour,
			RedisPrefix:  "prt",
		},
		SetupSession: SetupSessionConfig{
			TTL:         10 * time.Minute,
			MaxAttempts: 5,
			RedisPrefix: "tfs",
		},
		Session: SessionConfig{
			Enabled:     false,
			TTL:         12 * time.Hour,
			RedisPrefix: "ssn",
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
		},
	}
}

// Validate checks the configuration for values that would weaken the
// security model or produce undefined behavior at runtime.
func (c Config) Validate() error {
	if c.Policy.MinLength < 8 {
		return errors.New("policy MinLength must be >= 8")
	}
	if c.Policy.MinEntropyBits < 0 {
		return errors.New("policy MinEntropyBits must be >= 0")
	}

	if c.TOTP.Digits < 6 || c.TOTP.Digits > 10 {
		return errors.New("totp Digits must be between 6 and 10")
	}
	if c.TOTP.Period <= 0 {
		return errors.New("totp Period must be > 0")
	}
	if c.TOTP.Skew < 0 || c.TOTP.Skew > 2 {
		return errors.New("totp Skew must be between 0 and 2")
	}
	switch c.TOTP.Algorithm {
	case "", "SHA1", "SHA256", "SHA512":
	default:
		return errors.New("totp Algorithm must be SHA1, SHA256 or SHA512")
	}

	if c.RecoveryCodes.Count < 1 {
		return errors.New("recovery code Count must be >= 1")
	}
	if c.RecoveryCodes.Length < 8 {
		return errors.New("recovery code Length must be >= 8")
	}
	// An all-digit recovery code of TOTP length would be indistinguishable
	// from a TOTP code when submitted without its separator.
	if c.RecoveryCodes.Length == c.TOTP.Digits {
		return errors.New("recovery code Length must differ from totp Digits")
	}

	if err := validateBackoffTiers(c.Backoff.Tiers); err != nil {
		return err
	}

	if c.PasswordReset.TokenTTL <= 0 {
		return errors.New("password reset TokenTTL must be > 0")
	}
	if c.PasswordReset.SecretLength < 32 {
		return errors.New("password reset SecretLength must be >= 32 bytes")
	}
	if c.PasswordReset.Retention <= 0 {
		return errors.New("password reset Retention must be > 0")
	}

	if c.SetupSession.TTL <= 0 {
		return errors.New("setup session TTL must be > 0")
	}
	if c.SetupSession.MaxAttempts < 1 {
		return errors.New("setup session MaxAttempts must be >= 1")
	}

	if c.Session.Enabled {
		if len(c.Session.SigningKey) < 32 {
			return errors.New("session SigningKey must be >= 32 bytes")
		}
		if c.Session.TTL <= 0 {
			return errors.New("session TTL must be > 0")
		}
	}

	return nil
}

func validateBackoffTiers(tiers []BackoffTier) error {
	if len(tiers) == 0 {
		return errors.New("backoff requires at least one tier")
	}
	for i, tier := range tiers {
		if tier.Threshold < 1 {
			return errors.New("backoff tier threshold must be >= 1")
		}
		if tier.Window <= 0 {
			return errors.New("backoff tier window must be > 0")
		}
		if i > 0 {
			if tier.Threshold <= tiers[i-1].Threshold {
				return errors.New("backoff tier thresholds must be strictly increasing")
			}
			if tier.Window <= tiers[i-1].Window {
				return errors.New("backoff tier windows must be strictly increasing")
			}
		}
	}
	return nil
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Backoff.Tiers = append([]BackoffTier(nil), cfg.Backoff.Tiers...)
	out.Session.SigningKey = append([]byte(nil), cfg.Session.SigningKey...)
	return out
}

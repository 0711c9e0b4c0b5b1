package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/finchsec/authcore/internal/stores"
)

// AccountSecurityReport is the safe introspection view of an account's
// security state, meant for admin tooling and support dashboards. It
// intentionally excludes password hashes, TOTP secrets, and recovery code
// material.
type AccountSecurityReport struct {
	AccountID        string
	Email            string
	Active           bool
	TwoFactorEnabled bool
	// PendingSetup reports an open enrollment session that has not been
	// confirmed yet.
	PendingSetup      bool
	RecoveryCodesLeft int
	FailedAttempts    int
	LockedUntil       time.Time
	LockoutRemaining  time.Duration
	LastLoginAt       time.Time
	ActiveResetTokens int
}

// HealthStatus is an on-demand backend health result.
type HealthStatus struct {
	RedisAvailable bool
	RedisLatency   time.Duration
}

// SecurityReport assembles the account's current security posture.
func (e *Engine) SecurityReport(ctx context.Context, accountID string) (*AccountSecurityReport, error) {
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

	report := &AccountSecurityReport{
		AccountID:        account.AccountID,
		Email:            account.Email,
		Active:           account.Active,
		TwoFactorEnabled: account.TwoFactorEnabled,
		FailedAttempts:   account.FailedAttempts,
		LockedUntil:      account.LockedUntil,
		LockoutRemaining: e.lockoutRemaining(account),
		LastLoginAt:      account.LastLoginAt,
	}

	if count, err := e.store.RecoveryCodeCount(ctx, accountID); err == nil {
		report.RecoveryCodesLeft = count
	}

	if _, err := e.setupSessions.Get(ctx, accountID); err == nil {
		report.PendingSetup = true
	} else if !errors.Is(err, stores.ErrNotFound) {
		return nil, err
	}

	if count, err := e.resetTokens.ActiveCount(ctx, accountID); err == nil {
		report.ActiveResetTokens = count
	}

	return report, nil
}

// Health pings the Redis backend and reports round-trip latency. The
// credential store is the caller's own and is not probed here.
func (e *Engine) Health(ctx context.Context) HealthStatus {
	if e == nil || e.redis == nil {
		return HealthStatus{}
	}

	start := time.Now()
	err := e.redis.Ping(ctx).Err()
	latency := time.Since(start)

	if err != nil {
		return HealthStatus{RedisAvailable: false}
	}
	return HealthStatus{RedisAvailable: true, RedisLatency: latency}
}

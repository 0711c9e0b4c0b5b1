package authcore

import "sync/atomic"

// MetricID identifies one in-process counter.
type MetricID int

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricLoginLockedOut
	MetricTwoFactorSuccess
	MetricTwoFactorFailure
	MetricRecoveryCodeUsed
	MetricRecoveryCodeFailed
	MetricResetTokenIssued
	MetricResetTokenRedeemed
	MetricResetTokenRejected
	MetricSetupStarted
	MetricSetupCompleted
	MetricSessionIssued
	MetricSessionRevoked
	metricCount
)

var metricNames = [metricCount]string{
	MetricLoginSuccess:       "login_success",
	MetricLoginFailure:       "login_failure",
	MetricLoginLockedOut:     "login_locked_out",
	MetricTwoFactorSuccess:   "two_factor_success",
	MetricTwoFactorFailure:   "two_factor_failure",
	MetricRecoveryCodeUsed:   "recovery_code_used",
	MetricRecoveryCodeFailed: "recovery_code_failed",
	MetricResetTokenIssued:   "reset_token_issued",
	MetricResetTokenRedeemed: "reset_token_redeemed",
	MetricResetTokenRejected: "reset_token_rejected",
	MetricSetupStarted:       "setup_started",
	MetricSetupCompleted:     "setup_completed",
	MetricSessionIssued:      "session_issued",
	MetricSessionRevoked:     "session_revoked",
}

// String returns the metric's snapshot key.
func (id MetricID) String() string {
	if id < 0 || id >= metricCount {
		return "unknown"
	}
	return metricNames[id]
}

// Metrics is a fixed set of lock-free counters. A nil *Metrics is valid and
// counts nothing, so call sites need no enabled checks.
type Metrics struct {
	counters [metricCount]atomic.Uint64
}

func newMetrics(cfg MetricsConfig) *Metrics {
	if !cfg.Enabled {
		return nil
	}
	return &Metrics{}
}

// Inc adds one to the counter.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || id < 0 || id >= metricCount {
		return
	}
	m.counters[id].Add(1)
}

// Get returns the current value of one counter.
func (m *Metrics) Get(id MetricID) uint64 {
	if m == nil || id < 0 || id >= metricCount {
		return 0
	}
	return m.counters[id].Load()
}

// Snapshot returns every counter keyed by name. The map is a copy.
func (m *Metrics) Snapshot() map[string]uint64 {
	out := make(map[string]uint64, metricCount)
	for id := MetricID(0); id < metricCount; id++ {
		if m == nil {
			out[metricNames[id]] = 0
		} else {
			out[metricNames[id]] = m.counters[id].Load()
		}
	}
	return out
}

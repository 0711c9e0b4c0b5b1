package authcore

import "time"

// backoffPolicy converts the shared failure count into a wait window. It is
// stateless: the counter and the locked-until timestamp live on the account
// record and are mutated atomically by the credential store.
//
// One counter deliberately spans password and 2FA failures. Separate
// counters would let an attacker who holds the password guess codes
// indefinitely without ever crossing a threshold, and vice versa.
type backoffPolicy struct {
	tiers []BackoffTier
}

func newBackoffPolicy(cfg BackoffConfig) backoffPolicy {
	return backoffPolicy{tiers: cfg.Tiers}
}

// windowFor returns the wait window for the given failure count: the window
// of the highest tier whose threshold the count has reached, or zero below
// the first tier.
func (p backoffPolicy) windowFor(count int) time.Duration {
	var window time.Duration
	for _, tier := range p.tiers {
		if count < tier.Threshold {
			break
		}
		window = tier.Window
	}
	return window
}

// arms reports whether a failure that moved the counter to count must set a
// new locked-until timestamp. That happens when the count lands exactly on
// a tier threshold, and on every failure past the last tier so the longest
// window keeps re-arming.
func (p backoffPolicy) arms(count int) bool {
	if len(p.tiers) == 0 {
		return false
	}
	for _, tier := range p.tiers {
		if count == tier.Threshold {
			return true
		}
	}
	return count > p.tiers[len(p.tiers)-1].Threshold
}

package authcore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, rdb
}

// testClock is a hand-cranked time source shared by engine and test. It
// starts at the real wall clock because Redis key TTLs are computed against
// real time; only the logical clock advances during a test.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Now().Truncate(time.Second)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// mockCredentialStore is an in-memory CredentialStore for engine tests.
type mockCredentialStore struct {
	mu       sync.Mutex
	accounts map[string]*Account
	byEmail  map[string]string
	recovery map[string]map[[32]byte]bool
	failWith error
}

func newMockCredentialStore() *mockCredentialStore {
	return &mockCredentialStore{
		accounts: map[string]*Account{},
		byEmail:  map[string]string{},
		recovery: map[string]map[[32]byte]bool{},
	}
}

func (m *mockCredentialStore) add(account Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := account
	m.accounts[account.AccountID] = &copied
	m.byEmail[account.Email] = account.AccountID
}

func (m *mockCredentialStore) GetAccountByEmail(_ context.Context, email string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return Account{}, m.failWith
	}
	id, ok := m.byEmail[email]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return *m.accounts[id], nil
}

func (m *mockCredentialStore) GetAccountByID(_ context.Context, accountID string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return Account{}, m.failWith
	}
	account, ok := m.accounts[accountID]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return *account, nil
}

func (m *mockCredentialStore) UpdatePasswordHash(_ context.Context, accountID, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	account.PasswordHash = passwordHash
	return nil
}

func (m *mockCredentialStore) IncrementFailures(_ context.Context, accountID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[accountID]
	if !ok {
		return 0, ErrAccountNotFound
	}
	account.FailedAttempts++
	return account.FailedAttempts, nil
}

func (m *mockCredentialStore) SetLockout(_ context.Context, accountID string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	account.LockedUntil = until
	return nil
}

func (m *mockCredentialStore) ClearFailures(_ context.Context, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	account.FailedAttempts = 0
	account.LockedUntil = time.Time{}
	return nil
}

func (m *mockCredentialStore) UpdateLastLogin(_ context.Context, accountID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	account.LastLoginAt = at
	return nil
}

func (m *mockCredentialStore) EnableTwoFactor(_ context.Context, accountID string, secret []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	account.TwoFactorEnabled = true
	account.TwoFactorSecret = append([]byte(nil), secret...)
	return nil
}

func (m *mockCredentialStore) DisableTwoFactor(_ context.Context, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	account.TwoFactorEnabled = false
	account.TwoFactorSecret = nil
	return nil
}

func (m *mockCredentialStore) ReplaceRecoveryCodes(_ context.Context, accountID string, hashes [][32]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	batch := map[[32]byte]bool{}
	for _, h := range hashes {
		batch[h] = true
	}
	m.recovery[accountID] = batch
	return nil
}

func (m *mockCredentialStore) ConsumeRecoveryCode(_ context.Context, accountID string, hash [32]byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	batch := m.recovery[accountID]
	if !batch[hash] {
		return false, nil
	}
	delete(batch, hash)
	return true, nil
}

func (m *mockCredentialStore) RecoveryCodeCount(_ context.Context, accountID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.recovery[accountID]), nil
}

func (m *mockCredentialStore) failedAttempts(accountID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if account, ok := m.accounts[accountID]; ok {
		return account.FailedAttempts
	}
	return -1
}

func engineTestConfig() Config {
	cfg := defaultConfig()
	// Hashing floors keep the test suite fast; production defaults are much
	// heavier.
	cfg.Password.Memory = 8192
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Backoff.Tiers = []BackoffTier{
		{Threshold: 5, Window: 30 * time.Second},
		{Threshold: 8, Window: 2 * time.Minute},
		{Threshold: 10, Window: 10 * time.Minute},
	}
	return cfg
}

type testEngine struct {
	engine *Engine
	store  *mockCredentialStore
	mr     *miniredis.Miniredis
	rdb    *redis.Client
	clock  *testClock
}

func newTestEngine(t *testing.T, cfg Config) *testEngine {
	t.Helper()

	mr, rdb := newTestRedis(t)
	store := newMockCredentialStore()
	clock := newTestClock()

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithCredentialStore(store).
		WithClock(clock.Now).
		Build()
	if err != nil {
		mr.Close()
		t.Fatalf("Build failed: %v", err)
	}

	t.Cleanup(func() {
		engine.Close()
		mr.Close()
	})

	return &testEngine{engine: engine, store: store, mr: mr, rdb: rdb, clock: clock}
}

// seedAccount registers an account with the given password, hashed with the
// engine's own parameters.
func (te *testEngine) seedAccount(t *testing.T, accountID, email, pass string, twoFactor bool) []byte {
	t.Helper()

	hash, err := te.engine.hasher.Hash(pass)
	if err != nil {
		t.Fatalf("seed hash failed: %v", err)
	}

	account := Account{
		AccountID:    accountID,
		Email:        email,
		PasswordHash: hash,
		Active:       true,
	}
	if twoFactor {
		secret := []byte("12345678901234567890")
		account.TwoFactorEnabled = true
		account.TwoFactorSecret = secret
	}
	te.store.add(account)
	return account.TwoFactorSecret
}

// totpAt computes the code the authenticator app would show at ts.
func totpAt(t *testing.T, secret []byte, cfg TOTPConfig, ts time.Time) string {
	t.Helper()
	code, err := hotpCode(secret, ts.Unix()/int64(cfg.Period), cfg.Digits, cfg.Algorithm)
	if err != nil {
		t.Fatalf("hotpCode failed: %v", err)
	}
	return code
}

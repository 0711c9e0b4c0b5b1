package redisstore

import (
	"context"
	"crypto/sha256"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/finchsec/authcore"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(rdb, "acct")
}

func seed(t *testing.T, s *Store) string {
	t.Helper()
	accountID, err := s.CreateAccount(context.Background(), "alice@example.com", "$argon2id$fake")
	if err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	return accountID
}

func TestCreateAndLookupAccount(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	accountID := seed(t, s)

	byID, err := s.GetAccountByID(ctx, accountID)
	if err != nil {
		t.Fatalf("GetAccountByID failed: %v", err)
	}
	byEmail, err := s.GetAccountByEmail(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("GetAccountByEmail failed: %v", err)
	}

	if byID.AccountID != byEmail.AccountID {
		t.Fatal("lookups disagree")
	}
	if !byID.Active || byID.TwoFactorEnabled || byID.FailedAttempts != 0 {
		t.Fatalf("unexpected fresh account %+v", byID)
	}

	if _, err := s.GetAccountByEmail(ctx, "nobody@example.com"); !errors.Is(err, authcore.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
	if _, err := s.GetAccountByID(ctx, "ghost"); !errors.Is(err, authcore.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestDuplicateEmailRejected(t *testing.T) {
	s := newStore(t)
	seed(t, s)

	if _, err := s.CreateAccount(context.Background(), "alice@example.com", "hash"); err == nil {
		t.Fatal("duplicate email accepted")
	}
}

func TestFailureCounterLifecycle(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	accountID := seed(t, s)

	for want := 1; want <= 3; want++ {
		got, err := s.IncrementFailures(ctx, accountID)
		if err != nil {
			t.Fatalf("IncrementFailures failed: %v", err)
		}
		if got != want {
			t.Fatalf("expected count %d, got %d", want, got)
		}
	}

	until := time.Now().Add(time.Minute).Truncate(time.Second)
	if err := s.SetLockout(ctx, accountID, until); err != nil {
		t.Fatalf("SetLockout failed: %v", err)
	}

	account, err := s.GetAccountByID(ctx, accountID)
	if err != nil {
		t.Fatalf("GetAccountByID failed: %v", err)
	}
	if account.FailedAttempts != 3 || !account.LockedUntil.Equal(until) {
		t.Fatalf("state not persisted: %+v", account)
	}

	if err := s.ClearFailures(ctx, accountID); err != nil {
		t.Fatalf("ClearFailures failed: %v", err)
	}
	account, err = s.GetAccountByID(ctx, accountID)
	if err != nil {
		t.Fatalf("GetAccountByID failed: %v", err)
	}
	if account.FailedAttempts != 0 || !account.LockedUntil.IsZero() {
		t.Fatalf("clear incomplete: %+v", account)
	}
}

func TestTwoFactorLifecycle(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	accountID := seed(t, s)
	secret := []byte("12345678901234567890")

	if err := s.EnableTwoFactor(ctx, accountID, secret); err != nil {
		t.Fatalf("EnableTwoFactor failed: %v", err)
	}
	account, err := s.GetAccountByID(ctx, accountID)
	if err != nil {
		t.Fatalf("GetAccountByID failed: %v", err)
	}
	if !account.TwoFactorEnabled || string(account.TwoFactorSecret) != string(secret) {
		t.Fatalf("secret not persisted: %+v", account)
	}

	if err := s.DisableTwoFactor(ctx, accountID); err != nil {
		t.Fatalf("DisableTwoFactor failed: %v", err)
	}
	account, err = s.GetAccountByID(ctx, accountID)
	if err != nil {
		t.Fatalf("GetAccountByID failed: %v", err)
	}
	if account.TwoFactorEnabled || account.TwoFactorSecret != nil {
		t.Fatalf("secret survived disable: %+v", account)
	}
}

func TestRecoveryCodesConsumeExactlyOnce(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	accountID := seed(t, s)

	hashes := [][32]byte{
		sha256.Sum256([]byte("code-one")),
		sha256.Sum256([]byte("code-two")),
	}
	if err := s.ReplaceRecoveryCodes(ctx, accountID, hashes); err != nil {
		t.Fatalf("ReplaceRecoveryCodes failed: %v", err)
	}

	count, err := s.RecoveryCodeCount(ctx, accountID)
	if err != nil {
		t.Fatalf("RecoveryCodeCount failed: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 codes, got %d", count)
	}

	ok, err := s.ConsumeRecoveryCode(ctx, accountID, hashes[0])
	if err != nil {
		t.Fatalf("ConsumeRecoveryCode failed: %v", err)
	}
	if !ok {
		t.Fatal("stored code not consumable")
	}

	ok, err = s.ConsumeRecoveryCode(ctx, accountID, hashes[0])
	if err != nil {
		t.Fatalf("ConsumeRecoveryCode failed: %v", err)
	}
	if ok {
		t.Fatal("code consumed twice")
	}

	ok, err = s.ConsumeRecoveryCode(ctx, accountID, sha256.Sum256([]byte("never-issued")))
	if err != nil {
		t.Fatalf("ConsumeRecoveryCode failed: %v", err)
	}
	if ok {
		t.Fatal("unknown code consumed")
	}
}

func TestReplaceRecoveryCodesDropsOldBatch(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	accountID := seed(t, s)

	oldHash := sha256.Sum256([]byte("old-code"))
	if err := s.ReplaceRecoveryCodes(ctx, accountID, [][32]byte{oldHash}); err != nil {
		t.Fatalf("ReplaceRecoveryCodes failed: %v", err)
	}
	newHash := sha256.Sum256([]byte("new-code"))
	if err := s.ReplaceRecoveryCodes(ctx, accountID, [][32]byte{newHash}); err != nil {
		t.Fatalf("ReplaceRecoveryCodes failed: %v", err)
	}

	ok, err := s.ConsumeRecoveryCode(ctx, accountID, oldHash)
	if err != nil {
		t.Fatalf("ConsumeRecoveryCode failed: %v", err)
	}
	if ok {
		t.Fatal("old batch still consumable")
	}
	ok, err = s.ConsumeRecoveryCode(ctx, accountID, newHash)
	if err != nil {
		t.Fatalf("ConsumeRecoveryCode failed: %v", err)
	}
	if !ok {
		t.Fatal("new batch not consumable")
	}
}

func TestUpdatePasswordHashAndLastLogin(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	accountID := seed(t, s)

	if err := s.UpdatePasswordHash(ctx, accountID, "$argon2id$new"); err != nil {
		t.Fatalf("UpdatePasswordHash failed: %v", err)
	}
	if err := s.UpdatePasswordHash(ctx, "ghost", "x"); !errors.Is(err, authcore.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}

	at := time.Now().Truncate(time.Second)
	if err := s.UpdateLastLogin(ctx, accountID, at); err != nil {
		t.Fatalf("UpdateLastLogin failed: %v", err)
	}

	account, err := s.GetAccountByID(ctx, accountID)
	if err != nil {
		t.Fatalf("GetAccountByID failed: %v", err)
	}
	if account.PasswordHash != "$argon2id$new" || !account.LastLoginAt.Equal(at) {
		t.Fatalf("updates lost: %+v", account)
	}
}

func TestSetActive(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	accountID := seed(t, s)

	if err := s.SetActive(ctx, accountID, false); err != nil {
		t.Fatalf("SetActive failed: %v", err)
	}
	account, err := s.GetAccountByID(ctx, accountID)
	if err != nil {
		t.Fatalf("GetAccountByID failed: %v", err)
	}
	if account.Active {
		t.Fatal("account still active")
	}
}

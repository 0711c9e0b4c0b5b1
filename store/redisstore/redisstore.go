// Package redisstore is a ready-made [authcore.CredentialStore] backed by
// Redis. It exists for deployments that keep accounts in Redis anyway and
// as the reference for the atomicity the interface demands; most
// integrators will instead adapt their own account database.
package redisstore

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/finchsec/authcore"
)

var _ authcore.CredentialStore = (*Store)(nil)

// Store keeps one hash per account, an email index, and a set of recovery
// code hashes per account. Counter and recovery operations ride on single
// Redis commands, which makes them atomic without transactions.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

// New creates a Store. An empty prefix defaults to "acct".
func New(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "acct"
	}
	return &Store{redis: client, prefix: prefix}
}

func (s *Store) accountKey(accountID string) string {
	return s.prefix + ":id:" + accountID
}

func (s *Store) emailKey(email string) string {
	return s.prefix + ":email:" + strings.ToLower(email)
}

func (s *Store) recoveryKey(accountID string) string {
	return s.prefix + ":rc:" + accountID
}

// CreateAccount registers a new account with the given password hash and
// returns its generated id.
func (s *Store) CreateAccount(ctx context.Context, email, passwordHash string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || passwordHash == "" {
		return "", errors.New("email and password hash are required")
	}

	accountID := uuid.NewString()
	ok, err := s.redis.SetNX(ctx, s.emailKey(email), accountID, 0).Result()
	if err != nil {
		return "", fmt.Errorf("%w: %v", authcore.ErrStoreUnavailable, err)
	}
	if !ok {
		return "", errors.New("email already registered")
	}

	err = s.redis.HSet(ctx, s.accountKey(accountID), map[string]interface{}{
		"email":         email,
		"password_hash": passwordHash,
		"active":        1,
		"two_factor":    0,
		"failures":      0,
	}).Err()
	if err != nil {
		return "", fmt.Errorf("%w: %v", authcore.ErrStoreUnavailable, err)
	}
	return accountID, nil
}

// SetActive flips the account's active flag.
func (s *Store) SetActive(ctx context.Context, accountID string, active bool) error {
	val := 0
	if active {
		val = 1
	}
	if err := s.redis.HSet(ctx, s.accountKey(accountID), "active", val).Err(); err != nil {
		return fmt.Errorf("%w: %v", authcore.ErrStoreUnavailable, err)
	}
	return nil
}

// GetAccountByEmail implements authcore.CredentialStore.
func (s *Store) GetAccountByEmail(ctx context.Context, email string) (authcore.Account, error) {
	accountID, err := s.redis.Get(ctx, s.emailKey(email)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return authcore.Account{}, authcore.ErrAccountNotFound
		}
		return authcore.Account{}, fmt.Errorf("%w: %v", authcore.ErrStoreUnavailable, err)
	}
	return s.GetAccountByID(ctx, accountID)
}

// GetAccountByID implements authcore.CredentialStore.
func (s *Store) GetAccountByID(ctx context.Context, accountID string) (authcore.Account, error) {
	fields, err := s.redis.HGetAll(ctx, s.accountKey(accountID)).Result()
	if err != nil {
		return authcore.Account{}, fmt.Errorf("%w: %v", authcore.ErrStoreUnavailable, err)
	}
	if len(fields) == 0 {
		return authcore.Account{}, authcore.ErrAccountNotFound
	}

	account := authcore.Account{
		AccountID:        accountID,
		Email:            fields["email"],
		PasswordHash:     fields["password_hash"],
		Active:           fields["active"] == "1",
		TwoFactorEnabled: fields["two_factor"] == "1",
	}
	account.FailedAttempts, _ = strconv.Atoi(fields["failures"])

	if raw := fields["secret"]; raw != "" {
		secret, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return authcore.Account{}, errors.New("corrupt two-factor secret")
		}
		account.TwoFactorSecret = secret
	}
	if ts, err := strconv.ParseInt(fields["locked_until"], 10, 64); err == nil && ts > 0 {
		account.LockedUntil = time.Unix(ts, 0)
	}
	if ts, err := strconv.ParseInt(fields["last_login"], 10, 64); err == nil && ts > 0 {
		account.LastLoginAt = time.Unix(ts, 0)
	}

	return account, nil
}

// UpdatePasswordHash implements authcore.CredentialStore.
func (s *Store) UpdatePasswordHash(ctx context.Context, accountID, passwordHash string) error {
	if err := s.exists(ctx, accountID); err != nil {
		return err
	}
	if err := s.redis.HSet(ctx, s.accountKey(accountID), "password_hash", passwordHash).Err(); err != nil {
		return fmt.Errorf("%w: %v", authcore.ErrStoreUnavailable, err)
	}
	return nil
}

// IncrementFailures implements authcore.CredentialStore. HIncrBy gives the
// required per-account atomicity.
func (s *Store) IncrementFailures(ctx context.Context, accountID string) (int, error) {
	count, err := s.redis.HIncrBy(ctx, s.accountKey(accountID), "failures", 1).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", authcore.ErrStoreUnavailable, err)
	}
	return int(count), nil
}

// SetLockout implements authcore.CredentialStore.
func (s *Store) SetLockout(ctx context.Context, accountID string, until time.Time) error {
	if err := s.redis.HSet(ctx, s.accountKey(accountID), "locked_until", until.Unix()).Err(); err != nil {
		return fmt.Errorf("%w: %v", authcore.ErrStoreUnavailable, err)
	}
	return nil
}

// ClearFailures implements authcore.CredentialStore.
func (s *Store) ClearFailures(ctx context.Context, accountID string) error {
	err := s.redis.HSet(ctx, s.accountKey(accountID), "failures", 0, "locked_until", 0).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", authcore.ErrStoreUnavailable, err)
	}
	return nil
}

// UpdateLastLogin implements authcore.CredentialStore.
func (s *Store) UpdateLastLogin(ctx context.Context, accountID string, at time.Time) error {
	if err := s.redis.HSet(ctx, s.accountKey(accountID), "last_login", at.Unix()).Err(); err != nil {
		return fmt.Errorf("%w: %v", authcore.ErrStoreUnavailable, err)
	}
	return nil
}

// EnableTwoFactor implements authcore.CredentialStore.
func (s *Store) EnableTwoFactor(ctx context.Context, accountID string, secret []byte) error {
	if err := s.exists(ctx, accountID); err != nil {
		return err
	}
	err := s.redis.HSet(ctx, s.accountKey(accountID),
		"two_factor", 1,
		"secret", base64.StdEncoding.EncodeToString(secret),
	).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", authcore.ErrStoreUnavailable, err)
	}
	return nil
}

// DisableTwoFactor implements authcore.CredentialStore.
func (s *Store) DisableTwoFactor(ctx context.Context, accountID string) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.accountKey(accountID), "two_factor", 0)
		pipe.HDel(ctx, s.accountKey(accountID), "secret")
		pipe.Del(ctx, s.recoveryKey(accountID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", authcore.ErrStoreUnavailable, err)
	}
	return nil
}

// ReplaceRecoveryCodes implements authcore.CredentialStore. Delete and
// re-add run in one transaction so no moment exposes both batches.
func (s *Store) ReplaceRecoveryCodes(ctx context.Context, accountID string, hashes [][32]byte) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.recoveryKey(accountID))
		for _, h := range hashes {
			pipe.SAdd(ctx, s.recoveryKey(accountID), hex.EncodeToString(h[:]))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", authcore.ErrStoreUnavailable, err)
	}
	return nil
}

// ConsumeRecoveryCode implements authcore.CredentialStore. SRem removes at
// most one copy and reports whether it did, so a code can never be spent
// twice even under concurrent attempts.
func (s *Store) ConsumeRecoveryCode(ctx context.Context, accountID string, hash [32]byte) (bool, error) {
	removed, err := s.redis.SRem(ctx, s.recoveryKey(accountID), hex.EncodeToString(hash[:])).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", authcore.ErrStoreUnavailable, err)
	}
	return removed > 0, nil
}

// RecoveryCodeCount implements authcore.CredentialStore.
func (s *Store) RecoveryCodeCount(ctx context.Context, accountID string) (int, error) {
	count, err := s.redis.SCard(ctx, s.recoveryKey(accountID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", authcore.ErrStoreUnavailable, err)
	}
	return int(count), nil
}

func (s *Store) exists(ctx context.Context, accountID string) error {
	n, err := s.redis.Exists(ctx, s.accountKey(accountID)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", authcore.ErrStoreUnavailable, err)
	}
	if n == 0 {
		return authcore.ErrAccountNotFound
	}
	return nil
}

package stores

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound means no record matches. Callers map it to their own
	// non-enumerating rejection.
	ErrNotFound = errors.New("record not found")
	// ErrUnavailable wraps any Redis failure.
	ErrUnavailable = errors.New("store unavailable")
)

// ResetTokenRecord is the persisted form of a password-reset token. Only
// the SHA-256 of the secret is stored; lookup is by that hash.
type ResetTokenRecord struct {
	TokenID    string
	AccountID  string
	SecretHash [32]byte
	CreatedAt  time.Time
	ExpiresAt  time.Time
	Used       bool
	UsedAt     time.Time
}

// ResetTokenStore keeps reset tokens in Redis hashes with three views:
// the record by token id, a hash-to-id index for validation lookups, and a
// per-account set of active token ids used to enforce at-most-one-active.
// Records carry a TTL of token TTL plus retention so Redis collects
// whatever Sweep has not.
type ResetTokenStore struct {
	redis     redis.UniversalClient
	prefix    string
	retention time.Duration
}

func NewResetTokenStore(redisClient redis.UniversalClient, prefix string, retention time.Duration) *ResetTokenStore {
	if prefix == "" {
		prefix = "prt"
	}
	return &ResetTokenStore{redis: redisClient, prefix: prefix, retention: retention}
}

func (s *ResetTokenStore) recordKey(tokenID string) string {
	return s.prefix + ":t:" + tokenID
}

func (s *ResetTokenStore) indexKey(hash [32]byte) string {
	return s.prefix + ":h:" + hex.EncodeToString(hash[:])
}

func (s *ResetTokenStore) activeKey(accountID string) string {
	return s.prefix + ":a:" + accountID
}

// Create persists a token record as-is, without superseding the account's
// other active tokens. Issue is the normal path; Create exists for placing
// records in a known state.
func (s *ResetTokenStore) Create(ctx context.Context, rec ResetTokenRecord) error {
	keep := time.Until(rec.ExpiresAt) + s.retention

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		s.createInPipe(ctx, pipe, rec, keep)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *ResetTokenStore) createInPipe(ctx context.Context, pipe redis.Pipeliner, rec ResetTokenRecord, keep time.Duration) {
	pipe.HSet(ctx, s.recordKey(rec.TokenID), map[string]interface{}{
		"account": rec.AccountID,
		"hash":    hex.EncodeToString(rec.SecretHash[:]),
		"created": rec.CreatedAt.Unix(),
		"expires": rec.ExpiresAt.Unix(),
		"used":    0,
		"used_at": 0,
	})
	pipe.Expire(ctx, s.recordKey(rec.TokenID), keep)
	pipe.Set(ctx, s.indexKey(rec.SecretHash), rec.TokenID, keep)
	pipe.SAdd(ctx, s.activeKey(rec.AccountID), rec.TokenID)
	pipe.Expire(ctx, s.activeKey(rec.AccountID), keep)
}

// Issue marks every currently active token of the account as used and
// creates rec as the single active token, in one transaction. The
// read-mark-create sequence runs under WATCH on the account's active set,
// so two racing issues cannot both keep their token active: the loser's
// EXEC aborts and it retries against the winner's set, superseding the
// winner. Returns how many prior tokens it invalidated.
func (s *ResetTokenStore) Issue(ctx context.Context, rec ResetTokenRecord, now time.Time) (int, error) {
	// Wider retry budget than MarkUsed: any number of issuers can collide
	// on the same active set, not just two redeemers.
	const maxRetries = 16
	keep := time.Until(rec.ExpiresAt) + s.retention
	activeKey := s.activeKey(rec.AccountID)

	for i := 0; i < maxRetries; i++ {
		var invalidated int

		txErr := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			ids, err := tx.SMembers(ctx, activeKey).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			invalidated = len(ids)

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				for _, id := range ids {
					pipe.HSet(ctx, s.recordKey(id), "used", 1, "used_at", now.Unix())
				}
				pipe.Del(ctx, activeKey)
				s.createInPipe(ctx, pipe, rec, keep)
				return nil
			})
			return err
		}, activeKey)

		if txErr == redis.TxFailedErr {
			continue
		}
		if txErr != nil {
			return 0, fmt.Errorf("%w: %v", ErrUnavailable, txErr)
		}
		return invalidated, nil
	}

	return 0, fmt.Errorf("%w: issue contention", ErrUnavailable)
}

// ActiveCount reports how many unredeemed tokens the account holds.
func (s *ResetTokenStore) ActiveCount(ctx context.Context, accountID string) (int, error) {
	count, err := s.redis.SCard(ctx, s.activeKey(accountID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return int(count), nil
}

// GetByHash resolves a submitted secret hash to its record. Unknown hash
// and vanished record both return ErrNotFound; the caller must not expose
// the difference.
func (s *ResetTokenStore) GetByHash(ctx context.Context, hash [32]byte) (*ResetTokenRecord, error) {
	tokenID, err := s.redis.Get(ctx, s.indexKey(hash)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return s.Get(ctx, tokenID)
}

// Get loads one record by token id.
func (s *ResetTokenStore) Get(ctx context.Context, tokenID string) (*ResetTokenRecord, error) {
	fields, err := s.redis.HGetAll(ctx, s.recordKey(tokenID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return decodeResetFields(tokenID, fields)
}

// MarkUsed stamps the token as redeemed. It reports alreadyUsed=true, with
// no mutation, when a previous redemption won; used_at is written at most
// once. The check-and-set runs under WATCH so two racing redemptions
// cannot both report first use.
func (s *ResetTokenStore) MarkUsed(ctx context.Context, tokenID, accountID string, at time.Time) (alreadyUsed bool, err error) {
	const maxRetries = 4
	key := s.recordKey(tokenID)

	for i := 0; i < maxRetries; i++ {
		var already bool

		txErr := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			used, err := tx.HGet(ctx, key, "used").Result()
			if err != nil {
				return err
			}
			if used == "1" {
				already = true
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, key, "used", 1, "used_at", at.Unix())
				pipe.SRem(ctx, s.activeKey(accountID), tokenID)
				return nil
			})
			return err
		}, key)

		if txErr == redis.TxFailedErr {
			continue
		}
		if txErr != nil {
			if errors.Is(txErr, redis.Nil) {
				return false, ErrNotFound
			}
			return false, fmt.Errorf("%w: %v", ErrUnavailable, txErr)
		}
		return already, nil
	}

	return false, fmt.Errorf("%w: mark-used contention", ErrUnavailable)
}

// Sweep deletes records that are used or expired and whose reference time
// (used-at, else expiry) lies more than the retention window in the past.
// Younger dead records stay for audit. Returns the number deleted.
func (s *ResetTokenStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	var (
		cursor  uint64
		deleted int
	)
	cutoff := now.Add(-s.retention)

	for {
		keys, next, err := s.redis.Scan(ctx, cursor, s.prefix+":t:*", 100).Result()
		if err != nil {
			return deleted, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}

		for _, key := range keys {
			fields, err := s.redis.HGetAll(ctx, key).Result()
			if err != nil || len(fields) == 0 {
				continue
			}
			tokenID := key[len(s.prefix)+3:]
			rec, err := decodeResetFields(tokenID, fields)
			if err != nil {
				continue
			}

			ref := rec.ExpiresAt
			if rec.Used {
				ref = rec.UsedAt
			}
			dead := rec.Used || now.After(rec.ExpiresAt)
			if !dead || !ref.Before(cutoff) {
				continue
			}

			_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				pipe.Del(ctx, s.indexKey(rec.SecretHash))
				pipe.SRem(ctx, s.activeKey(rec.AccountID), tokenID)
				return nil
			})
			if err == nil {
				deleted++
			}
		}

		cursor = next
		if cursor == 0 {
			return deleted, nil
		}
	}
}

func decodeResetFields(tokenID string, fields map[string]string) (*ResetTokenRecord, error) {
	rawHash, err := hex.DecodeString(fields["hash"])
	if err != nil || len(rawHash) != 32 {
		return nil, errors.New("corrupt reset record hash")
	}

	rec := &ResetTokenRecord{
		TokenID:   tokenID,
		AccountID: fields["account"],
		Used:      fields["used"] == "1",
	}
	copy(rec.SecretHash[:], rawHash)

	created, err := strconv.ParseInt(fields["created"], 10, 64)
	if err != nil {
		return nil, errors.New("corrupt reset record created")
	}
	expires, err := strconv.ParseInt(fields["expires"], 10, 64)
	if err != nil {
		return nil, errors.New("corrupt reset record expires")
	}
	rec.CreatedAt = time.Unix(created, 0)
	rec.ExpiresAt = time.Unix(expires, 0)

	if usedAt, err := strconv.ParseInt(fields["used_at"], 10, 64); err == nil && usedAt > 0 {
		rec.UsedAt = time.Unix(usedAt, 0)
	}

	return rec, nil
}

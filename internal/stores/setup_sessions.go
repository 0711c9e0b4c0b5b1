package stores

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// SetupSessionRecord is a pending two-factor enrollment: the candidate
// secret waiting for one successful code check before it becomes active.
type SetupSessionRecord struct {
	AccountID string
	Secret    []byte
	CreatedAt time.Time
	ExpiresAt time.Time
	Attempts  int
}

// SetupSessionStore keeps at most one pending setup session per account.
// Saving replaces any prior session, so restarting enrollment discards the
// earlier candidate secret. Redis TTL is the expiry; a missing key and an
// expired session are the same thing.
type SetupSessionStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewSetupSessionStore(redisClient redis.UniversalClient, prefix string) *SetupSessionStore {
	if prefix == "" {
		prefix = "tfs"
	}
	return &SetupSessionStore{redis: redisClient, prefix: prefix}
}

func (s *SetupSessionStore) key(accountID string) string {
	return s.prefix + ":" + accountID
}

// Save writes the session, replacing any previous one for the account.
func (s *SetupSessionStore) Save(ctx context.Context, rec SetupSessionRecord) error {
	ttl := time.Until(rec.ExpiresAt)
	if ttl <= 0 {
		return errors.New("setup session already expired")
	}

	key := s.key(rec.AccountID)
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, map[string]interface{}{
			"secret":   base64.StdEncoding.EncodeToString(rec.Secret),
			"created":  rec.CreatedAt.Unix(),
			"expires":  rec.ExpiresAt.Unix(),
			"attempts": rec.Attempts,
		})
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Get loads the pending session. ErrNotFound covers both never-started and
// expired.
func (s *SetupSessionStore) Get(ctx context.Context, accountID string) (*SetupSessionRecord, error) {
	fields, err := s.redis.HGetAll(ctx, s.key(accountID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	secret, err := base64.StdEncoding.DecodeString(fields["secret"])
	if err != nil {
		return nil, errors.New("corrupt setup session secret")
	}
	created, err := strconv.ParseInt(fields["created"], 10, 64)
	if err != nil {
		return nil, errors.New("corrupt setup session created")
	}
	expires, err := strconv.ParseInt(fields["expires"], 10, 64)
	if err != nil {
		return nil, errors.New("corrupt setup session expires")
	}
	attempts, _ := strconv.Atoi(fields["attempts"])

	return &SetupSessionRecord{
		AccountID: accountID,
		Secret:    secret,
		CreatedAt: time.Unix(created, 0),
		ExpiresAt: time.Unix(expires, 0),
		Attempts:  attempts,
	}, nil
}

// IncrementAttempts bumps the failed-code counter without touching the
// session's expiry, and returns the new count.
func (s *SetupSessionStore) IncrementAttempts(ctx context.Context, accountID string) (int, error) {
	count, err := s.redis.HIncrBy(ctx, s.key(accountID), "attempts", 1).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return int(count), nil
}

// Delete discards the pending session, on activation or on attempt
// exhaustion.
func (s *SetupSessionStore) Delete(ctx context.Context, accountID string) error {
	if err := s.redis.Del(ctx, s.key(accountID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

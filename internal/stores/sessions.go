package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SessionStore keeps the revocation side of login sessions: a record per
// session id plus a per-account set so a password reset or 2FA change can
// revoke everything at once. The signed token itself is stateless; a token
// whose record is gone is dead.
type SessionStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewSessionStore(redisClient redis.UniversalClient, prefix string) *SessionStore {
	if prefix == "" {
		prefix = "ssn"
	}
	return &SessionStore{redis: redisClient, prefix: prefix}
}

func (s *SessionStore) sessionKey(sessionID string) string {
	return s.prefix + ":s:" + sessionID
}

func (s *SessionStore) accountKey(accountID string) string {
	return s.prefix + ":a:" + accountID
}

// Save records a live session for ttl.
func (s *SessionStore) Save(ctx context.Context, sessionID, accountID string, ttl time.Duration) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.sessionKey(sessionID), accountID, ttl)
		pipe.SAdd(ctx, s.accountKey(accountID), sessionID)
		pipe.Expire(ctx, s.accountKey(accountID), ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Account returns the owning account of a live session, or ErrNotFound.
func (s *SessionStore) Account(ctx context.Context, sessionID string) (string, error) {
	accountID, err := s.redis.Get(ctx, s.sessionKey(sessionID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return accountID, nil
}

// Delete revokes one session. Deleting an absent session is a no-op.
func (s *SessionStore) Delete(ctx context.Context, sessionID string) error {
	accountID, err := s.redis.Get(ctx, s.sessionKey(sessionID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.sessionKey(sessionID))
		pipe.SRem(ctx, s.accountKey(accountID), sessionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// DeleteAllForAccount revokes every live session of an account.
func (s *SessionStore) DeleteAllForAccount(ctx context.Context, accountID string) error {
	ids, err := s.redis.SMembers(ctx, s.accountKey(accountID)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			pipe.Del(ctx, s.sessionKey(id))
		}
		pipe.Del(ctx, s.accountKey(accountID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

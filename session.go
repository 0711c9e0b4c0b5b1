package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/finchsec/authcore/internal/secrets"
	"github.com/finchsec/authcore/internal/stores"
)

// sessionManager issues and revokes signed session tokens. The token is an
// HS256 JWT whose jti points at a Redis revocation record; validation
// requires both a good signature and a live record, so revocation takes
// effect immediately despite the stateless signature.
type sessionManager struct {
	cfg   SessionConfig
	store *stores.SessionStore
	now   func() time.Time
}

func newSessionManager(cfg SessionConfig, store *stores.SessionStore, now func() time.Time) *sessionManager {
	if !cfg.Enabled {
		return nil
	}
	return &sessionManager{cfg: cfg, store: store, now: now}
}

// Issue mints a token for the account and records the session.
func (m *sessionManager) Issue(ctx context.Context, accountID string) (string, error) {
	sessionID, err := secrets.NewSessionID()
	if err != nil {
		return "", err
	}

	now := m.now()
	claims := jwt.RegisteredClaims{
		ID:        sessionID,
		Subject:   accountID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(m.cfg.TTL)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.cfg.SigningKey)
	if err != nil {
		return "", err
	}

	if err := m.store.Save(ctx, sessionID, accountID, m.cfg.TTL); err != nil {
		return "", err
	}
	return signed, nil
}

// Validate checks signature, expiry and the revocation record, returning
// the owning account id.
func (m *sessionManager) Validate(ctx context.Context, token string) (string, error) {
	sessionID, accountID, err := m.parse(token)
	if err != nil {
		return "", ErrSessionTokenInvalid
	}

	stored, err := m.store.Account(ctx, sessionID)
	if err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			return "", ErrSessionNotFound
		}
		return "", err
	}
	if stored != accountID {
		return "", ErrSessionTokenInvalid
	}
	return accountID, nil
}

// Revoke kills the single session the token names. The signature must
// verify; a caller cannot revoke sessions it does not hold.
func (m *sessionManager) Revoke(ctx context.Context, token string) error {
	sessionID, _, err := m.parse(token)
	if err != nil {
		return ErrSessionTokenInvalid
	}
	return m.store.Delete(ctx, sessionID)
}

// RevokeAll kills every live session of the account.
func (m *sessionManager) RevokeAll(ctx context.Context, accountID string) error {
	return m.store.DeleteAllForAccount(ctx, accountID)
}

func (m *sessionManager) parse(token string) (sessionID, accountID string, err error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.cfg.SigningKey, nil
	}, jwt.WithTimeFunc(m.now), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return "", "", ErrSessionTokenInvalid
	}
	if claims.ID == "" || claims.Subject == "" {
		return "", "", ErrSessionTokenInvalid
	}
	return claims.ID, claims.Subject, nil
}

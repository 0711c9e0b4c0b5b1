package authcore

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func sessionTestConfig() Config {
	cfg := engineTestConfig()
	cfg.Session.Enabled = true
	cfg.Session.SigningKey = []byte("0123456789abcdef0123456789abcdef")
	return cfg
}

func completeTestLogin(t *testing.T, te *testEngine, secret []byte, cfg Config) string {
	t.Helper()
	ctx := context.Background()

	result, err := te.engine.Login(ctx, "alice@example.com", "correct horse battery")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if result.Outcome != OutcomeRequiresTwoFactor {
		t.Fatalf("expected requires_two_factor, got %s", result.Outcome)
	}

	result, err = te.engine.VerifyTwoFactor(ctx, "u1", totpAt(t, secret, cfg.TOTP, te.clock.Now()))
	if err != nil {
		t.Fatalf("VerifyTwoFactor failed: %v", err)
	}
	if result.Outcome != OutcomeSuccess {
		t.Fatalf("expected success, got %s", result.Outcome)
	}
	if result.SessionToken == "" {
		t.Fatal("expected a session token")
	}
	return result.SessionToken
}

func TestSessionIssuedOnFullSuccessOnly(t *testing.T) {
	cfg := sessionTestConfig()
	te := newTestEngine(t, cfg)
	secret := te.seedAccount(t, "u1", "alice@example.com", "correct horse battery", true)
	ctx := context.Background()

	// The first factor alone yields no token.
	result, err := te.engine.Login(ctx, "alice@example.com", "correct horse battery")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if result.SessionToken != "" {
		t.Fatal("no token before the second factor")
	}

	token := completeTestLogin(t, te, secret, cfg)

	accountID, err := te.engine.ValidateSession(ctx, token)
	if err != nil {
		t.Fatalf("ValidateSession failed: %v", err)
	}
	if accountID != "u1" {
		t.Fatalf("unexpected account %q", accountID)
	}
}

func TestLogoutRevokesImmediately(t *testing.T) {
	cfg := sessionTestConfig()
	te := newTestEngine(t, cfg)
	secret := te.seedAccount(t, "u1", "alice@example.com", "correct horse battery", true)
	ctx := context.Background()

	token := completeTestLogin(t, te, secret, cfg)

	if err := te.engine.Logout(ctx, token); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}

	// The signature is still good, but the session record is gone.
	_, err := te.engine.ValidateSession(ctx, token)
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}

	// Logging out twice is harmless.
	if err := te.engine.Logout(ctx, token); err != nil {
		t.Fatalf("second Logout failed: %v", err)
	}
}

func TestTamperedSessionTokenRejected(t *testing.T) {
	cfg := sessionTestConfig()
	te := newTestEngine(t, cfg)
	secret := te.seedAccount(t, "u1", "alice@example.com", "correct horse battery", true)
	ctx := context.Background()

	token := completeTestLogin(t, te, secret, cfg)

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("unexpected token shape %q", token)
	}
	tampered := parts[0] + "." + parts[1] + ".AAAA" + parts[2][4:]

	_, err := te.engine.ValidateSession(ctx, tampered)
	if !errors.Is(err, ErrSessionTokenInvalid) {
		t.Fatalf("expected ErrSessionTokenInvalid, got %v", err)
	}
	if err := te.engine.Logout(ctx, "garbage"); !errors.Is(err, ErrSessionTokenInvalid) {
		t.Fatalf("expected ErrSessionTokenInvalid, got %v", err)
	}
}

func TestSessionTokenExpires(t *testing.T) {
	cfg := sessionTestConfig()
	te := newTestEngine(t, cfg)
	secret := te.seedAccount(t, "u1", "alice@example.com", "correct horse battery", true)
	ctx := context.Background()

	token := completeTestLogin(t, te, secret, cfg)

	te.clock.Advance(cfg.Session.TTL + time.Minute)

	_, err := te.engine.ValidateSession(ctx, token)
	if !errors.Is(err, ErrSessionTokenInvalid) {
		t.Fatalf("expected ErrSessionTokenInvalid after expiry, got %v", err)
	}
}

func TestResetPasswordRevokesAllSessions(t *testing.T) {
	cfg := sessionTestConfig()
	te := newTestEngine(t, cfg)
	secret := te.seedAccount(t, "u1", "alice@example.com", "correct horse battery", true)
	ctx := context.Background()

	tokenA := completeTestLogin(t, te, secret, cfg)
	tokenB := completeTestLogin(t, te, secret, cfg)

	reset, err := te.engine.IssuePasswordResetToken(ctx, "u1")
	if err != nil {
		t.Fatalf("IssuePasswordResetToken failed: %v", err)
	}
	if err := te.engine.ResetPassword(ctx, reset, "completely new password"); err != nil {
		t.Fatalf("ResetPassword failed: %v", err)
	}

	for _, token := range []string{tokenA, tokenB} {
		if _, err := te.engine.ValidateSession(ctx, token); !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("expected ErrSessionNotFound, got %v", err)
		}
	}
}

func TestSessionOperationsWhenDisabled(t *testing.T) {
	te := newTestEngine(t, engineTestConfig())

	if _, err := te.engine.ValidateSession(context.Background(), "anything"); !errors.Is(err, ErrSessionsDisabled) {
		t.Fatalf("expected ErrSessionsDisabled, got %v", err)
	}
	if err := te.engine.Logout(context.Background(), "anything"); !errors.Is(err, ErrSessionsDisabled) {
		t.Fatalf("expected ErrSessionsDisabled, got %v", err)
	}
}

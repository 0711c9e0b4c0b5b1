package authcore

import (
	"context"
	"testing"
)

func TestSecurityReport(t *testing.T) {
	te := newTestEngine(t, engineTestConfig())
	te.seedAccount(t, "u1", "alice@example.com", "correct horse battery", true)
	ctx := context.Background()

	if _, err := te.engine.GenerateRecoveryCodes(ctx, "u1"); err != nil {
		t.Fatalf("GenerateRecoveryCodes failed: %v", err)
	}
	if _, err := te.engine.IssuePasswordResetToken(ctx, "u1"); err != nil {
		t.Fatalf("IssuePasswordResetToken failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := te.engine.Login(ctx, "alice@example.com", "wrong"); err != nil {
			t.Fatalf("Login failed: %v", err)
		}
	}

	report, err := te.engine.SecurityReport(ctx, "u1")
	if err != nil {
		t.Fatalf("SecurityReport failed: %v", err)
	}

	if !report.TwoFactorEnabled || !report.Active {
		t.Fatalf("flags wrong: %+v", report)
	}
	if report.FailedAttempts != 2 {
		t.Fatalf("expected 2 failed attempts, got %d", report.FailedAttempts)
	}
	if report.RecoveryCodesLeft != engineTestConfig().RecoveryCodes.Count {
		t.Fatalf("expected full code batch, got %d", report.RecoveryCodesLeft)
	}
	if report.ActiveResetTokens != 1 {
		t.Fatalf("expected 1 active reset token, got %d", report.ActiveResetTokens)
	}
	if report.PendingSetup {
		t.Fatal("no setup session open")
	}
	if report.LockoutRemaining != 0 {
		t.Fatalf("no lockout expected, got %v", report.LockoutRemaining)
	}
}

func TestSecurityReportShowsPendingSetup(t *testing.T) {
	te := newTestEngine(t, engineTestConfig())
	te.seedAccount(t, "u1", "alice@example.com", "correct horse battery", false)

	if _, err := te.engine.GenerateTwoFactorSetup(context.Background(), "u1"); err != nil {
		t.Fatalf("GenerateTwoFactorSetup failed: %v", err)
	}

	report, err := te.engine.SecurityReport(context.Background(), "u1")
	if err != nil {
		t.Fatalf("SecurityReport failed: %v", err)
	}
	if !report.PendingSetup {
		t.Fatal("pending setup not reported")
	}
}

func TestHealthReportsRedis(t *testing.T) {
	te := newTestEngine(t, engineTestConfig())

	status := te.engine.Health(context.Background())
	if !status.RedisAvailable {
		t.Fatal("redis should be reachable")
	}

	te.mr.Close()
	status = te.engine.Health(context.Background())
	if status.RedisAvailable {
		t.Fatal("closed redis reported healthy")
	}
}

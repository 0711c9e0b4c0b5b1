// Package authcore implements the account-security core of a login system:
// credential verification, mandatory TOTP second-factor enrollment and
// verification, single-use recovery codes, progressive lockout/backoff on
// repeated failures, and single-use password-reset tokens.
//
// The package is a library, not a service. The surrounding application owns
// persistence of account records and implements [CredentialStore]; the
// engine owns its own short-lived state (pending 2FA setup sessions, reset
// tokens, revocable login sessions) in Redis. Engine methods are safe to
// call from multiple goroutines after construction through [Builder.Build].
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Engine], [Builder], [Config],
// and value types (AuthResult, TwoFactorSetup, ResetToken). Flow internals
// (secret generation, token codecs, Redis record stores) live under
// internal/ and are never exported.
//
// # What this package must NOT do
//
//   - Render pages, route HTTP, or send email. Token and code transport is
//     the caller's problem.
//   - Reveal through any returned result whether an email exists, which
//     factor failed, or why a reset token was rejected beyond "invalid".
//   - Log or persist a TOTP secret, reset token, or recovery code in
//     plaintext. Only hashes and opaque forms outlive the response that
//     first reveals them.
package authcore

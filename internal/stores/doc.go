// Package stores holds the engine-owned Redis record stores: password
// reset tokens, pending two-factor setup sessions, and revocable login
// sessions. Account records themselves belong to the caller's credential
// store, not here.
package stores

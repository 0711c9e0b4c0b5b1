// Package secrets generates and hashes the opaque random material used by
// reset tokens and session identifiers. Everything comes from crypto/rand;
// there is no fallback source.
package secrets

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
)

// MinTokenBytes is the floor on reset-token entropy.
const MinTokenBytes = 32

// NewTokenSecret returns n random bytes, n >= MinTokenBytes.
func NewTokenSecret(n int) ([]byte, error) {
	if n < MinTokenBytes {
		return nil, errors.New("token secret below minimum entropy")
	}
	secret := make([]byte, n)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	return secret, nil
}

// HashToken is the one-way form under which token secrets are persisted
// and looked up.
func HashToken(secret []byte) [32]byte {
	return sha256.Sum256(secret)
}

// EncodeToken renders a secret as the plaintext handed to the user,
// base64url without padding.
func EncodeToken(secret []byte) string {
	return base64.RawURLEncoding.EncodeToString(secret)
}

// DecodeToken reverses EncodeToken. It rejects anything that cannot have
// come from EncodeToken with at least MinTokenBytes of entropy.
func DecodeToken(token string) ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, err
	}
	if len(raw) < MinTokenBytes {
		return nil, errors.New("token too short")
	}
	return raw, nil
}

// NewSessionID returns a 16-byte random id in base64url form.
func NewSessionID() (string, error) {
	var sid [16]byte
	if _, err := rand.Read(sid[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(sid[:]), nil
}

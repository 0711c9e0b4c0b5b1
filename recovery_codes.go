package authcore

import (
	"crypto/rand"
	"crypto/sha256"
	"math/big"
	"strings"
)

// recoveryCodeAlphabet omits 0/O/1/I to survive transcription from paper.
const recoveryCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// newRecoveryCode draws length characters from the alphabet using the
// platform CSPRNG. Plaintext codes exist only in the response that first
// returns them; everything persisted is a hash.
func newRecoveryCode(length int) (string, error) {
	var b strings.Builder
	b.Grow(length)
	max := big.NewInt(int64(len(recoveryCodeAlphabet)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(recoveryCodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// formatRecoveryCode splits a code in half with a dash for readability.
func formatRecoveryCode(code string) string {
	n := len(code)
	if n < 8 {
		return code
	}
	mid := n / 2
	return code[:mid] + "-" + code[mid:]
}

// canonicalizeRecoveryCode strips separators and uppercases so users may
// submit codes with or without the display formatting.
func canonicalizeRecoveryCode(code string) string {
	s := strings.ToUpper(strings.TrimSpace(code))
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, " ", "")
	return s
}

// recoveryCodeHash binds the hash to the owning account so an identical
// code issued to two accounts never produces a shared hash.
func recoveryCodeHash(accountID, canonicalCode string) [32]byte {
	data := make([]byte, 0, len(accountID)+1+len(canonicalCode))
	data = append(data, accountID...)
	data = append(data, 0)
	data = append(data, canonicalCode...)
	return sha256.Sum256(data)
}

// generateRecoveryBatch produces count formatted plaintext codes and the
// matching hash batch for storage.
func generateRecoveryBatch(accountID string, count, length int) ([]string, [][32]byte, error) {
	codes := make([]string, 0, count)
	hashes := make([][32]byte, 0, count)
	for i := 0; i < count; i++ {
		raw, err := newRecoveryCode(length)
		if err != nil {
			return nil, nil, err
		}
		hashes = append(hashes, recoveryCodeHash(accountID, canonicalizeRecoveryCode(raw)))
		codes = append(codes, formatRecoveryCode(raw))
	}
	return codes, hashes, nil
}

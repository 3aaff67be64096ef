package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

const (
	VerificationTokenTTL  = 24 * time.Hour
	PasswordResetTokenTTL = time.Hour

	secretBytes = 32
)

// Secret is a freshly issued one-time token. Only Hash and Expiry are stored;
// Plaintext goes to the user.
type Secret struct {
	Plaintext string
	Hash      string
	Expiry    time.Time
}

// IssueSecret draws 32 random bytes and returns them hex-encoded together with
// their lookup hash and an expiry ttl after now.
func IssueSecret(now time.Time, ttl time.Duration) (Secret, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return Secret{}, fmt.Errorf("read random bytes: %w", err)
	}
	plain := hex.EncodeToString(buf)
	return Secret{Plaintext: plain, Hash: HashSecret(plain), Expiry: now.Add(ttl)}, nil
}

// HashSecret returns the hex SHA-256 digest of a token.
func HashSecret(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}

package transfer

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"
)

var (
	ErrChallengeNotFound = errors.New("no active challenge for this transfer")
	ErrCodeExpired       = errors.New("verification code expired")
	ErrCodeInvalid       = errors.New("verification code does not match")
	ErrCodeExhausted     = errors.New("verification attempts exhausted")
)

// Challenge TTL and attempt limits.
const (
	DefaultChallengeTTL  = 10 * time.Minute
	MaxChallengeAttempts = 3
)

// Challenge is the one-time-code gate attached to a transfer while it sits
// in pending_2fa. Only the code's hash is kept at rest.
type Challenge struct {
	TransferID  string    `json:"transferId"`
	CodeHash    string    `json:"-"`
	IssuedAt    time.Time `json:"issuedAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"maxAttempts"`
}

// NewChallenge issues a challenge for a transfer. The returned code is shown
// to the notifier exactly once and never stored.
func NewChallenge(transferID string, issuedAt time.Time, ttl time.Duration) (*Challenge, string, error) {
	if ttl <= 0 {
		ttl = DefaultChallengeTTL
	}
	code, err := generateCode()
	if err != nil {
		return nil, "", err
	}
	return &Challenge{
		TransferID:  transferID,
		CodeHash:    hashCode(code),
		IssuedAt:    issuedAt,
		ExpiresAt:   issuedAt.Add(ttl),
		MaxAttempts: MaxChallengeAttempts,
	}, code, nil
}

// Expired reports whether the challenge is past its window. The boundary is
// inclusive: a code presented exactly at ExpiresAt is already dead.
func (c *Challenge) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Verify checks a presented code. The attempt counter is the caller's to
// persist; Verify only inspects it.
func (c *Challenge) Verify(code string, now time.Time) error {
	if c.Expired(now) {
		return ErrCodeExpired
	}
	if c.Attempts >= c.MaxAttempts {
		return ErrCodeExhausted
	}
	if subtle.ConstantTimeCompare([]byte(hashCode(code)), []byte(c.CodeHash)) != 1 {
		return ErrCodeInvalid
	}
	return nil
}

// generateCode returns a uniform 6-digit code.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", fmt.Errorf("generate verification code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func hashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

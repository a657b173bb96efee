package transfer

import (
	"errors"
	"testing"
	"time"
)

func TestNewChallenge_CodeShape(t *testing.T) {
	issued := time.Now()
	c, code, err := NewChallenge("tr_1", issued, DefaultChallengeTTL)
	if err != nil {
		t.Fatalf("NewChallenge failed: %v", err)
	}
	if len(code) != 6 {
		t.Errorf("Expected a 6-digit code, got %q", code)
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			t.Errorf("Expected digits only, got %q", code)
		}
	}
	if c.CodeHash == code {
		t.Error("Code must not be stored in the clear")
	}
	if !c.ExpiresAt.Equal(issued.Add(10 * time.Minute)) {
		t.Errorf("Expected a 10 minute window, got %s", c.ExpiresAt.Sub(issued))
	}
}

func TestChallenge_VerifyCorrectCode(t *testing.T) {
	issued := time.Now()
	c, code, err := NewChallenge("tr_1", issued, DefaultChallengeTTL)
	if err != nil {
		t.Fatalf("NewChallenge failed: %v", err)
	}
	if err := c.Verify(code, issued.Add(time.Minute)); err != nil {
		t.Errorf("Correct code rejected: %v", err)
	}
	if err := c.Verify("000000", issued.Add(time.Minute)); !errors.Is(err, ErrCodeInvalid) && code != "000000" {
		t.Errorf("Expected ErrCodeInvalid, got %v", err)
	}
}

func TestChallenge_ExpiryBoundary(t *testing.T) {
	issued := time.Now()
	c, code, err := NewChallenge("tr_1", issued, 10*time.Minute)
	if err != nil {
		t.Fatalf("NewChallenge failed: %v", err)
	}

	// One second inside the window still verifies.
	if err := c.Verify(code, issued.Add(10*time.Minute-time.Second)); err != nil {
		t.Errorf("Code inside the window rejected: %v", err)
	}
	// Exactly at the boundary the code is dead.
	if err := c.Verify(code, issued.Add(10*time.Minute)); !errors.Is(err, ErrCodeExpired) {
		t.Errorf("Expected ErrCodeExpired exactly at expiry, got %v", err)
	}
	if err := c.Verify(code, issued.Add(11*time.Minute)); !errors.Is(err, ErrCodeExpired) {
		t.Errorf("Expected ErrCodeExpired past expiry, got %v", err)
	}
}

func TestChallenge_AttemptsExhausted(t *testing.T) {
	issued := time.Now()
	c, code, err := NewChallenge("tr_1", issued, DefaultChallengeTTL)
	if err != nil {
		t.Fatalf("NewChallenge failed: %v", err)
	}

	c.Attempts = MaxChallengeAttempts
	if err := c.Verify(code, issued.Add(time.Minute)); !errors.Is(err, ErrCodeExhausted) {
		t.Errorf("Expected ErrCodeExhausted even for the correct code, got %v", err)
	}
}

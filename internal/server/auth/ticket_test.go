package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/yury-opolev/safeexchange-sub001/internal/clock"
	"github.com/yury-opolev/safeexchange-sub001/internal/common"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestIssueAndVerify_Success(t *testing.T) {
	t.Parallel()

	clk := clock.Fake(t0)
	iss := NewTicketIssuer([]byte("super-secret"), time.Hour, clk)

	tok, issuedAt, err := iss.Issue("s1", "c1")
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}
	if !issuedAt.Equal(t0) {
		t.Fatalf("issuedAt mismatch: got %v want %v", issuedAt, t0)
	}
	if err := iss.Verify(tok, "s1", "c1"); err != nil {
		t.Fatalf("Verify error: %v", err)
	}
}

func TestIssue_Distinct(t *testing.T) {
	t.Parallel()

	iss := NewTicketIssuer([]byte("k"), time.Hour, clock.Fake(t0))
	a, _, _ := iss.Issue("s1", "c1")
	b, _, _ := iss.Issue("s1", "c1")
	if a == b {
		t.Fatalf("two tickets issued at the same instant are identical")
	}
}

func TestVerify_Expired(t *testing.T) {
	t.Parallel()

	clk := clock.Fake(t0)
	iss := NewTicketIssuer([]byte("secret"), time.Hour, clk)
	tok, _, err := iss.Issue("s1", "c1")
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	clk.Advance(59 * time.Minute)
	if err := iss.Verify(tok, "s1", "c1"); err != nil {
		t.Fatalf("ticket should still be valid: %v", err)
	}

	clk.Advance(time.Minute)
	if err := iss.Verify(tok, "s1", "c1"); !errors.Is(err, common.ErrTokenExpired) {
		t.Fatalf("expected common.ErrTokenExpired, got %v", err)
	}
}

func TestVerify_WrongBinding(t *testing.T) {
	t.Parallel()

	iss := NewTicketIssuer([]byte("secret"), time.Hour, clock.Fake(t0))
	tok, _, _ := iss.Issue("s1", "c1")

	if err := iss.Verify(tok, "s1", "c2"); !errors.Is(err, common.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for other content, got %v", err)
	}
	if err := iss.Verify(tok, "s2", "c1"); !errors.Is(err, common.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for other secret, got %v", err)
	}
}

func TestVerify_WrongSecret(t *testing.T) {
	t.Parallel()

	clk := clock.Fake(t0)
	tok, _, _ := NewTicketIssuer([]byte("right-secret"), time.Hour, clk).Issue("s1", "c1")

	err := NewTicketIssuer([]byte("wrong-secret"), time.Hour, clk).Verify(tok, "s1", "c1")
	if !errors.Is(err, common.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for invalid signature, got %v", err)
	}
}

func TestVerify_Malformed(t *testing.T) {
	t.Parallel()

	iss := NewTicketIssuer([]byte("k"), time.Hour, clock.Fake(t0))
	if err := iss.Verify("not.a.jwt", "s1", "c1"); !errors.Is(err, common.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for malformed token, got %v", err)
	}
}

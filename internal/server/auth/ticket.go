// Package auth issues and verifies content access tickets: HS256 JWTs bound to
// one content of one secret and valid for a fixed timeout.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/yury-opolev/safeexchange-sub001/internal/clock"
	"github.com/yury-opolev/safeexchange-sub001/internal/common"
)

// TicketClaims binds a ticket to a content.
type TicketClaims struct {
	jwt.RegisteredClaims
	SecretID    string `json:"sid"`
	ContentName string `json:"cnt"`
}

// TicketIssuer signs and checks access tickets.
type TicketIssuer struct {
	secret  []byte
	timeout time.Duration
	clock   clock.Clock
}

// NewTicketIssuer returns an issuer whose tickets expire timeout after issue.
func NewTicketIssuer(secret []byte, timeout time.Duration, clk clock.Clock) *TicketIssuer {
	return &TicketIssuer{secret: secret, timeout: timeout, clock: clk}
}

// Timeout is the lifetime of issued tickets.
func (i *TicketIssuer) Timeout() time.Duration { return i.timeout }

// Issue returns a fresh ticket for the content and the time it was issued.
// Every call yields a distinct ticket.
func (i *TicketIssuer) Issue(secretID, contentName string) (string, time.Time, error) {
	now := i.clock.Now().Truncate(time.Second)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, TicketClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.timeout)),
		},
		SecretID:    secretID,
		ContentName: contentName,
	})

	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign ticket: %w", err)
	}
	return signed, now, nil
}

// Verify checks the signature, the expiry against the injected clock and the
// content binding. It returns common.ErrTokenExpired or common.ErrInvalidToken.
func (i *TicketIssuer) Verify(ticket, secretID, contentName string) error {
	claims := &TicketClaims{}
	token, err := jwt.ParseWithClaims(ticket, claims, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.clock.Now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return common.ErrTokenExpired
		}
		return fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
	}
	if !token.Valid || claims.SecretID != secretID || claims.ContentName != contentName {
		return common.ErrInvalidToken
	}
	return nil
}

// Package directory abstracts the external identity directory that knows
// which groups a user belongs to.
package directory

import (
	"context"
	"errors"
	"sync"
)

// ErrConsentRequired reports that the directory refused the lookup until the
// user grants consent. Group-based authorization stays degraded until then.
var ErrConsentRequired = errors.New("directory consent required")

// GroupDirectory returns the group ids of a user account.
type GroupDirectory interface {
	MemberOf(ctx context.Context, accountID string) ([]string, error)
}

// Func adapts an ordinary function to GroupDirectory.
type Func func(ctx context.Context, accountID string) ([]string, error)

// MemberOf implements GroupDirectory.
func (f Func) MemberOf(ctx context.Context, accountID string) ([]string, error) {
	return f(ctx, accountID)
}

// Static is a fixed membership table, used when no directory is configured.
type Static struct {
	mu      sync.RWMutex
	members map[string][]string
}

// NewStatic returns a table seeded with members (account id to group ids).
func NewStatic(members map[string][]string) *Static {
	s := &Static{members: make(map[string][]string, len(members))}
	for k, v := range members {
		s.members[k] = append([]string(nil), v...)
	}
	return s
}

// Set replaces the groups of an account.
func (s *Static) Set(accountID string, groups ...string) {
	s.mu.Lock()
	s.members[accountID] = append([]string(nil), groups...)
	s.mu.Unlock()
}

// MemberOf implements GroupDirectory. Unknown accounts belong to no group.
func (s *Static) MemberOf(_ context.Context, accountID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.members[accountID]...), nil
}

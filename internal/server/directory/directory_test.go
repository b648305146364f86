package directory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFunc(t *testing.T) {
	var d GroupDirectory = Func(func(ctx context.Context, accountID string) ([]string, error) {
		if accountID == "carol" {
			return nil, ErrConsentRequired
		}
		return []string{"g-" + accountID}, nil
	})

	got, err := d.MemberOf(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"g-bob"}, got)

	_, err = d.MemberOf(context.Background(), "carol")
	require.ErrorIs(t, err, ErrConsentRequired)
}

func TestStatic(t *testing.T) {
	seed := map[string][]string{"bob": {"g1"}}
	s := NewStatic(seed)
	seed["bob"][0] = "changed"

	got, err := s.MemberOf(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"g1"}, got)

	s.Set("bob", "g2", "g3")
	got, err = s.MemberOf(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"g2", "g3"}, got)

	got, err = s.MemberOf(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, got)
}

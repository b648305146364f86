package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yury-opolev/safeexchange-sub001/internal/clock"
	"github.com/yury-opolev/safeexchange-sub001/internal/logging"
	"github.com/yury-opolev/safeexchange-sub001/internal/server/directory"
)

type scriptedDirectory struct {
	calls  atomic.Int32
	groups []string
	err    error
	mu     sync.Mutex
}

func (d *scriptedDirectory) set(groups []string, err error) {
	d.mu.Lock()
	d.groups, d.err = groups, err
	d.mu.Unlock()
}

func (d *scriptedDirectory) MemberOf(context.Context, string) ([]string, error) {
	d.calls.Add(1)
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.groups...), d.err
}

func newCache(dir directory.GroupDirectory) (*GroupMembershipCache, *clock.FakeClock) {
	clk := clock.Fake(t0)
	return NewGroupMembershipCache(dir, clk, 10*time.Minute, 30*time.Second, logging.Nop()), clk
}

func TestGroupsFor_CachesUntilSyncInterval(t *testing.T) {
	dir := &scriptedDirectory{groups: []string{"Team-A"}}
	cache, clk := newCache(dir)
	ctx := context.Background()

	assert.Equal(t, []string{"team-a"}, cache.GroupsFor(ctx, "Bob@example.com"))
	assert.Equal(t, []string{"team-a"}, cache.GroupsFor(ctx, "bob@example.com"))
	assert.EqualValues(t, 1, dir.calls.Load())

	clk.Advance(10 * time.Minute)
	cache.GroupsFor(ctx, "bob@example.com")
	assert.EqualValues(t, 1, dir.calls.Load(), "entry is valid up to and including ValidUntil")

	dir.set([]string{"team-b"}, nil)
	clk.Advance(time.Second)
	assert.Equal(t, []string{"team-b"}, cache.GroupsFor(ctx, "bob@example.com"))
	assert.EqualValues(t, 2, dir.calls.Load())

	m, ok := cache.Membership("bob@example.com")
	require.True(t, ok)
	assert.Equal(t, clk.Now().Add(10*time.Minute), m.ValidUntil)
	assert.False(t, m.ConsentRequired)
}

func TestGroupsFor_FailureKeepsPreviousGroupsAndRetriesSooner(t *testing.T) {
	dir := &scriptedDirectory{groups: []string{"team-a"}}
	cache, clk := newCache(dir)
	ctx := context.Background()

	cache.GroupsFor(ctx, "bob@example.com")
	clk.Advance(11 * time.Minute)

	dir.set(nil, errors.New("directory unavailable"))
	assert.Equal(t, []string{"team-a"}, cache.GroupsFor(ctx, "bob@example.com"))

	m, ok := cache.Membership("bob@example.com")
	require.True(t, ok)
	assert.Equal(t, clk.Now().Add(30*time.Second), m.ValidUntil)
	assert.False(t, m.ConsentRequired)

	clk.Advance(31 * time.Second)
	dir.set([]string{"team-c"}, nil)
	assert.Equal(t, []string{"team-c"}, cache.GroupsFor(ctx, "bob@example.com"))
	assert.EqualValues(t, 3, dir.calls.Load())
}

func TestGroupsFor_ConsentRequired(t *testing.T) {
	dir := &scriptedDirectory{err: fmt.Errorf("token exchange: %w", directory.ErrConsentRequired)}
	cache, _ := newCache(dir)

	assert.Empty(t, cache.GroupsFor(context.Background(), "bob@example.com"))
	m, ok := cache.Membership("bob@example.com")
	require.True(t, ok)
	assert.True(t, m.ConsentRequired)
}

func TestGroupsFor_ConcurrentCallersShareOneSync(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	dir := directory.Func(func(ctx context.Context, _ string) ([]string, error) {
		calls.Add(1)
		<-release
		return []string{"team-a"}, nil
	})
	cache, _ := newCache(dir)

	const callers = 8
	var wg sync.WaitGroup
	results := make([][]string, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = cache.GroupsFor(context.Background(), "bob@example.com")
		}()
	}

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load())
	for _, r := range results {
		assert.Equal(t, []string{"team-a"}, r)
	}
}

func TestInvalidate_ForcesSync(t *testing.T) {
	dir := &scriptedDirectory{groups: []string{"team-a"}}
	cache, _ := newCache(dir)
	ctx := context.Background()

	cache.GroupsFor(ctx, "bob@example.com")
	cache.Invalidate("BOB@example.com")
	cache.GroupsFor(ctx, "bob@example.com")
	assert.EqualValues(t, 2, dir.calls.Load())
}

// ctxDirectory fails once the context it is called with is done.
type ctxDirectory struct {
	groups []string
}

func (d ctxDirectory) MemberOf(ctx context.Context, _ string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return d.groups, nil
}

func TestGroupsFor_CancelledCallerStillSyncs(t *testing.T) {
	cache, clk := newCache(ctxDirectory{groups: []string{"team-a"}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Equal(t, []string{"team-a"}, cache.GroupsFor(ctx, "bob@example.com"))

	m, ok := cache.Membership("bob@example.com")
	require.True(t, ok)
	assert.Equal(t, clk.Now().Add(10*time.Minute), m.ValidUntil)
	assert.False(t, m.ConsentRequired)
}

package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/yury-opolev/safeexchange-sub001/internal/clock"
	"github.com/yury-opolev/safeexchange-sub001/internal/common"
	"github.com/yury-opolev/safeexchange-sub001/internal/logging"
	"github.com/yury-opolev/safeexchange-sub001/internal/server/directory"
	"github.com/yury-opolev/safeexchange-sub001/internal/server/models"
	"golang.org/x/sync/singleflight"
)

// GroupResolver returns the groups a user currently belongs to.
type GroupResolver interface {
	GroupsFor(ctx context.Context, userID string) []string
}

// GroupMembershipCache remembers directory lookups per user. A user's entry is
// refreshed at most once per sync interval; a failed refresh keeps the last
// known groups and is retried after the shorter retry interval.
type GroupMembershipCache struct {
	dir           directory.GroupDirectory
	clock         clock.Clock
	syncInterval  time.Duration
	retryInterval time.Duration
	log           logging.Logger

	mu      sync.RWMutex
	entries map[string]*models.GroupMembership
	flight  singleflight.Group
}

// NewGroupMembershipCache builds an empty cache over dir.
func NewGroupMembershipCache(dir directory.GroupDirectory, clk clock.Clock, syncInterval, retryInterval time.Duration, log logging.Logger) *GroupMembershipCache {
	return &GroupMembershipCache{
		dir:           dir,
		clock:         clk,
		syncInterval:  syncInterval,
		retryInterval: retryInterval,
		log:           log.With("module", "groupcache"),
		entries:       make(map[string]*models.GroupMembership),
	}
}

var _ GroupResolver = (*GroupMembershipCache)(nil)

func (c *GroupMembershipCache) fresh(userID string, now time.Time) (*models.GroupMembership, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[userID]
	if !ok {
		return nil, false
	}
	return e, !now.After(e.ValidUntil)
}

// GroupsFor returns the cached groups of userID, asking the directory first
// when the entry is due. Concurrent callers for the same user share one
// directory call, which is not cancelled with the caller that started it.
func (c *GroupMembershipCache) GroupsFor(ctx context.Context, userID string) []string {
	userID = common.NormalizeSubjectID(userID)

	if e, ok := c.fresh(userID, c.clock.Now()); ok {
		return append([]string(nil), e.Groups...)
	}

	v, _, _ := c.flight.Do(userID, func() (any, error) {
		now := c.clock.Now()
		prev, ok := c.fresh(userID, now)
		if ok {
			return prev.Groups, nil
		}
		return c.sync(context.WithoutCancel(ctx), userID, prev, now).Groups, nil
	})

	groups, _ := v.([]string)
	return append([]string(nil), groups...)
}

func (c *GroupMembershipCache) sync(ctx context.Context, userID string, prev *models.GroupMembership, now time.Time) *models.GroupMembership {
	next := &models.GroupMembership{}

	groups, err := c.dir.MemberOf(ctx, userID)
	if err != nil {
		if prev != nil {
			next.Groups = prev.Groups
		}
		next.ConsentRequired = errors.Is(err, directory.ErrConsentRequired)
		next.ValidUntil = now.Add(c.retryInterval)
		c.log.Warn(ctx, "group sync failed, keeping cached groups",
			"user_id", userID,
			"cached", len(next.Groups),
			"consent_required", next.ConsentRequired,
			"error", err)
	} else {
		next.Groups = make([]string, 0, len(groups))
		for _, g := range groups {
			next.Groups = append(next.Groups, common.NormalizeSubjectID(g))
		}
		next.ValidUntil = now.Add(c.syncInterval)
		c.log.Debug(ctx, "group sync done", "user_id", userID, "groups", len(next.Groups))
	}

	c.mu.Lock()
	c.entries[userID] = next
	c.mu.Unlock()
	return next
}

// Membership returns a copy of the cached entry of userID.
func (c *GroupMembershipCache) Membership(userID string) (models.GroupMembership, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[common.NormalizeSubjectID(userID)]
	if !ok {
		return models.GroupMembership{}, false
	}
	out := *e
	out.Groups = append([]string(nil), e.Groups...)
	return out, true
}

// Invalidate makes the next lookup of userID go to the directory.
func (c *GroupMembershipCache) Invalidate(userID string) {
	c.mu.Lock()
	delete(c.entries, common.NormalizeSubjectID(userID))
	c.mu.Unlock()
}

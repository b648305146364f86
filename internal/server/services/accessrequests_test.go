package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yury-opolev/safeexchange-sub001/internal/common"
	"github.com/yury-opolev/safeexchange-sub001/internal/dbx"
	"github.com/yury-opolev/safeexchange-sub001/internal/logging"
	"github.com/yury-opolev/safeexchange-sub001/internal/server/models"
	"github.com/yury-opolev/safeexchange-sub001/internal/server/notify"
	"github.com/yury-opolev/safeexchange-sub001/internal/server/repositories/accessrequests"
	"github.com/yury-opolev/safeexchange-sub001/internal/server/repositories/memory"
)

func TestAccessRequest_ApproveGrantsAndNotifies(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createSecret(t, alice, "s2", models.ExpirationMetadata{})

	req, err := env.requests.RequestAccess(ctx, bob, "s2", models.PermissionRead)
	require.NoError(t, err)
	require.NotNil(t, req)
	assert.Equal(t, models.RequestInProgress, req.Status)
	assert.Equal(t, []models.Subject{alice}, req.Recipients)

	sent := env.inbox.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, alice, sent[0].to)
	assert.Equal(t, notify.KindAccessRequested, sent[0].msg.Kind)
	assert.Equal(t, req.ID, sent[0].msg.RequestID)

	incoming, err := env.requests.ListIncoming(ctx, alice)
	require.NoError(t, err)
	require.Len(t, incoming, 1)
	assert.Equal(t, req.ID, incoming[0].ID)

	env.clk.Advance(time.Minute)
	ok, err := env.requests.ApproveAccessRequest(ctx, alice, req.ID, "s2")
	require.NoError(t, err)
	assert.True(t, ok)

	allowed, err := env.authz.IsAuthorized(ctx, models.SubjectUser, bob.ID, "s2", models.PermissionRead)
	require.NoError(t, err)
	assert.True(t, allowed)

	stored, err := env.mem.AccessRequests(nil).Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestApproved, stored.Status)
	assert.Equal(t, alice.ID, stored.FinishedBy)
	require.NotNil(t, stored.FinishedAt)
	assert.Equal(t, t0.Add(time.Minute), *stored.FinishedAt)

	sent = env.inbox.messages()
	require.Len(t, sent, 2)
	assert.Equal(t, bob, sent[1].to)
	assert.Equal(t, notify.KindAccessDecided, sent[1].msg.Kind)
	assert.Equal(t, models.RequestApproved, sent[1].msg.Status)

	// a finished request cannot be decided again
	ok, err = env.requests.DenyAccessRequest(ctx, alice, req.ID, "s2")
	require.NoError(t, err)
	assert.False(t, ok)

	incoming, err = env.requests.ListIncoming(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, incoming)
}

func TestAccessRequest_Deny(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createSecret(t, alice, "s2", models.ExpirationMetadata{})

	req, err := env.requests.RequestAccess(ctx, bob, "s2", models.PermissionRead|models.PermissionWrite)
	require.NoError(t, err)

	ok, err := env.requests.DenyAccessRequest(ctx, alice, req.ID, "s2")
	require.NoError(t, err)
	assert.True(t, ok)

	rows := env.permissionRows(t, "s2")
	require.Len(t, rows, 1, "deny grants nothing")

	stored, err := env.mem.AccessRequests(nil).Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestRejected, stored.Status)
}

func TestAccessRequest_IdenticalRequestIsReused(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createSecret(t, alice, "s2", models.ExpirationMetadata{})

	first, err := env.requests.RequestAccess(ctx, bob, "s2", models.PermissionRead)
	require.NoError(t, err)
	second, err := env.requests.RequestAccess(ctx, models.Subject{Type: models.SubjectUser, ID: "BOB@example.com"}, "s2", models.PermissionRead)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, env.inbox.messages(), 1, "recipients are notified once")

	other, err := env.requests.RequestAccess(ctx, bob, "s2", models.PermissionWrite)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)

	out, err := env.requests.ListOutgoing(ctx, bob)
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

// lostRace stores a competing identical request right before the first
// Create and then reports the duplicate.
type lostRace struct {
	*memory.Store
	winner *models.AccessRequest
}

func (l *lostRace) AccessRequests(db dbx.DBTX) accessrequests.Repository {
	return &lostRaceRequests{Repository: l.Store.AccessRequests(db), race: l}
}

type lostRaceRequests struct {
	accessrequests.Repository
	race *lostRace
}

func (r *lostRaceRequests) Create(ctx context.Context, ar *models.AccessRequest) error {
	if r.race.winner == nil {
		w := *ar
		w.ID = "winner"
		r.race.winner = &w
		if err := r.Repository.Create(ctx, &w); err != nil {
			return err
		}
		return common.ErrorAlreadyExists
	}
	return r.Repository.Create(ctx, ar)
}

func TestAccessRequest_DuplicateCreateReturnsStoredRequest(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createSecret(t, alice, "s2", models.ExpirationMetadata{})

	race := &lostRace{Store: env.mem}
	store := Store{Tx: env.mem, Repos: race}
	workflow := NewAccessRequestWorkflow(store, env.authz, env.inbox, env.clk, logging.Nop())

	req, err := workflow.RequestAccess(ctx, bob, "s2", models.PermissionRead)
	require.NoError(t, err)
	require.NotNil(t, req)
	assert.Equal(t, "winner", req.ID)
	assert.Empty(t, env.inbox.messages(), "the stored request already notified its recipients")

	out, err := env.requests.ListOutgoing(ctx, bob)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "winner", out[0].ID)
}

func TestAccessRequest_ConcurrentIdenticalRequests(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createSecret(t, alice, "s2", models.ExpirationMetadata{})

	const n = 8
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req, err := env.requests.RequestAccess(ctx, bob, "s2", models.PermissionRead)
			if assert.NoError(t, err) && assert.NotNil(t, req) {
				ids[i] = req.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	out, err := env.requests.ListOutgoing(ctx, bob)
	require.NoError(t, err)
	assert.Len(t, out, 1)
	assert.Len(t, env.inbox.messages(), 1)
}

func TestAccessRequest_ApproveReadWrite(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createSecret(t, alice, "s2", models.ExpirationMetadata{})

	rw := models.PermissionRead | models.PermissionWrite
	req, err := env.requests.RequestAccess(ctx, bob, "s2", rw)
	require.NoError(t, err)
	require.NotNil(t, req)

	ok, err := env.requests.ApproveAccessRequest(ctx, alice, req.ID, "s2")
	require.NoError(t, err)
	require.True(t, ok)

	allowed, err := env.authz.IsAuthorized(ctx, models.SubjectUser, bob.ID, "s2", rw)
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = env.authz.IsAuthorized(ctx, models.SubjectUser, bob.ID, "s2", models.PermissionGrantAccess)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestAccessRequest_UnauthorizedApproverChangesNothing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createSecret(t, alice, "s2", models.ExpirationMetadata{})
	// carol can read but not grant
	require.NoError(t, env.authz.SetPermission(ctx, nil, "s2", models.SubjectUser, carol.ID, models.PermissionRead))

	req, err := env.requests.RequestAccess(ctx, bob, "s2", models.PermissionRead)
	require.NoError(t, err)

	ok, err := env.requests.ApproveAccessRequest(ctx, carol, req.ID, "s2")
	require.NoError(t, err)
	assert.False(t, ok)

	stored, err := env.mem.AccessRequests(nil).Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestInProgress, stored.Status)
	allowed, err := env.authz.IsAuthorized(ctx, models.SubjectUser, bob.ID, "s2", models.PermissionRead)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestAccessRequest_SilentFalse(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createSecret(t, alice, "s1", models.ExpirationMetadata{})
	env.createSecret(t, alice, "s2", models.ExpirationMetadata{})

	req, err := env.requests.RequestAccess(ctx, bob, "s2", models.PermissionRead)
	require.NoError(t, err)

	for name, id := range map[string]string{
		"malformed id": "not-a-uuid",
		"unknown id":   "6f1c2a8e-1d8b-4f43-9a57-1f1f0c7f0d11",
	} {
		ok, err := env.requests.ApproveAccessRequest(ctx, alice, id, "s2")
		require.NoError(t, err, name)
		assert.False(t, ok, name)
	}

	// request belongs to another secret
	ok, err := env.requests.ApproveAccessRequest(ctx, alice, req.ID, "s1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRequestAccess_UnknownSecret(t *testing.T) {
	env := newTestEnv(t)

	req, err := env.requests.RequestAccess(context.Background(), bob, "nope", models.PermissionRead)
	require.NoError(t, err)
	assert.Nil(t, req)
	assert.Empty(t, env.inbox.messages())
}

func TestRequestAccess_Validation(t *testing.T) {
	env := newTestEnv(t)
	env.createSecret(t, alice, "s2", models.ExpirationMetadata{})

	_, err := env.requests.RequestAccess(context.Background(), bob, "s2", models.PermissionNone)
	assert.ErrorIs(t, err, common.ErrorValidation)
}

func TestAccessRequest_RecipientSnapshotIsKept(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createSecret(t, alice, "s2", models.ExpirationMetadata{})

	req, err := env.requests.RequestAccess(ctx, bob, "s2", models.PermissionRead)
	require.NoError(t, err)

	// carol gains GrantAccess after the request was made
	require.NoError(t, env.authz.SetPermission(ctx, nil, "s2", models.SubjectUser, carol.ID, models.PermissionGrantAccess))

	incoming, err := env.requests.ListIncoming(ctx, carol)
	require.NoError(t, err)
	assert.Empty(t, incoming)

	ok, err := env.requests.ApproveAccessRequest(ctx, carol, req.ID, "s2")
	require.NoError(t, err)
	assert.True(t, ok)
}

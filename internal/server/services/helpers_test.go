package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/yury-opolev/safeexchange-sub001/internal/clock"
	"github.com/yury-opolev/safeexchange-sub001/internal/logging"
	"github.com/yury-opolev/safeexchange-sub001/internal/server/auth"
	"github.com/yury-opolev/safeexchange-sub001/internal/server/blobstore"
	"github.com/yury-opolev/safeexchange-sub001/internal/server/directory"
	"github.com/yury-opolev/safeexchange-sub001/internal/server/models"
	"github.com/yury-opolev/safeexchange-sub001/internal/server/notify"
	"github.com/yury-opolev/safeexchange-sub001/internal/server/repositories/memory"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

var (
	alice = models.Subject{Type: models.SubjectUser, ID: "alice@example.com"}
	bob   = models.Subject{Type: models.SubjectUser, ID: "bob@example.com"}
	carol = models.Subject{Type: models.SubjectUser, ID: "carol@example.com"}
)

type sentMessage struct {
	to  models.Subject
	msg notify.Message
}

// recorder is a notify.Notifier that keeps every message.
type recorder struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (r *recorder) Notify(_ context.Context, to models.Subject, msg notify.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentMessage{to: to, msg: msg})
	return nil
}

func (r *recorder) messages() []sentMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sentMessage(nil), r.sent...)
}

type testEnv struct {
	clk   *clock.FakeClock
	mem   *memory.Store
	store Store
	blobs *blobstore.MemoryStore
	dir   *directory.Static
	inbox *recorder

	groups   *GroupMembershipCache
	authz    *AuthorizationResolver
	content  *ContentLifecycleManager
	purge    *ExpirationPurgeEngine
	secrets  *SecretService
	perms    *PermissionService
	requests *AccessRequestWorkflow
}

type envOption func(*envConfig)

type envConfig struct {
	blobs     blobstore.Store
	groupAuth bool
}

func withBlobStore(b blobstore.Store) envOption { return func(c *envConfig) { c.blobs = b } }

func withoutGroupAuth() envOption { return func(c *envConfig) { c.groupAuth = false } }

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	env := &testEnv{
		clk:   clock.Fake(t0),
		mem:   memory.NewStore(),
		blobs: blobstore.NewMemoryStore(),
		dir:   directory.NewStatic(nil),
		inbox: &recorder{},
	}
	cfg := envConfig{blobs: env.blobs, groupAuth: true}
	for _, o := range opts {
		o(&cfg)
	}

	log := logging.Nop()
	env.store = Store{DB: nil, Tx: env.mem, Repos: env.mem}
	env.groups = NewGroupMembershipCache(env.dir, env.clk, 10*time.Minute, 30*time.Second, log)
	env.authz = NewAuthorizationResolver(env.store, env.groups, cfg.groupAuth, log)
	tickets := auth.NewTicketIssuer([]byte("test-ticket-secret"), time.Hour, env.clk)
	env.content = NewContentLifecycleManager(env.store, cfg.blobs, tickets, env.clk, log)
	env.purge = NewExpirationPurgeEngine(env.store, cfg.blobs, env.clk, PurgeOptions{Workers: 4, IdleCheck: true}, log)
	env.secrets = NewSecretService(env.store, env.authz, env.content, env.purge, env.clk, log)
	env.perms = NewPermissionService(env.store, env.authz, env.clk, log)
	env.requests = NewAccessRequestWorkflow(env.store, env.authz, env.inbox, env.clk, log)
	return env
}

// createSecret creates a secret owned by owner and returns its main content
// name.
func (e *testEnv) createSecret(t *testing.T, owner models.Subject, id string, exp models.ExpirationMetadata) string {
	t.Helper()
	meta, err := e.secrets.CreateSecret(context.Background(), owner, SecretInput{
		SecretID:    id,
		Expiration:  exp,
		MainContent: ContentInput{ContentType: "text/plain"},
	})
	if err != nil {
		t.Fatalf("CreateSecret(%s): %v", id, err)
	}
	return meta.MainContent().ContentName
}

// fill uploads chunks into the content and finalizes it.
func (e *testEnv) fill(t *testing.T, secretID, contentName string, chunks ...string) {
	t.Helper()
	ctx := context.Background()
	ticket, err := e.content.BeginUpdate(ctx, secretID, contentName)
	if err != nil {
		t.Fatalf("BeginUpdate: %v", err)
	}
	for _, c := range chunks {
		if _, err := e.content.UploadChunk(ctx, secretID, contentName, ticket, []byte(c)); err != nil {
			t.Fatalf("UploadChunk: %v", err)
		}
	}
	if err := e.content.FinalizeContent(ctx, secretID, contentName, ticket); err != nil {
		t.Fatalf("FinalizeContent: %v", err)
	}
}

func (e *testEnv) permissionRows(t *testing.T, secretID string) []*models.SubjectPermissions {
	t.Helper()
	rows, err := e.authz.GetAllPermissions(context.Background(), secretID)
	if err != nil {
		t.Fatalf("GetAllPermissions: %v", err)
	}
	return rows
}

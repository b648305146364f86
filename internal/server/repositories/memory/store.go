// Package memory implements every repository in process memory. It backs the
// "memory" database setting and the service tests. Units of work are
// serialized and rolled back by restoring a snapshot; writes made outside a
// unit of work wait until the running one has finished, so a rollback never
// discards them.
package memory

import (
	"context"
	"database/sql"
	"sync"

	"github.com/yury-opolev/safeexchange-sub001/internal/dbx"
	"github.com/yury-opolev/safeexchange-sub001/internal/server/models"
	"github.com/yury-opolev/safeexchange-sub001/internal/server/repositories/accessrequests"
	"github.com/yury-opolev/safeexchange-sub001/internal/server/repositories/contents"
	"github.com/yury-opolev/safeexchange-sub001/internal/server/repositories/groups"
	"github.com/yury-opolev/safeexchange-sub001/internal/server/repositories/permissions"
	"github.com/yury-opolev/safeexchange-sub001/internal/server/repositories/repomanager"
	"github.com/yury-opolev/safeexchange-sub001/internal/server/repositories/secrets"
)

type permKey struct {
	secretID    string
	subjectType models.SubjectType
	subjectID   string
}

type state struct {
	secrets  map[string]*models.ObjectMetadata
	contents map[string]map[string]*models.ContentMetadata
	perms    map[permKey]models.PermissionType
	requests map[string]*models.AccessRequest
	groups   map[string]*models.GroupDictionaryItem
}

func newState() *state {
	return &state{
		secrets:  make(map[string]*models.ObjectMetadata),
		contents: make(map[string]map[string]*models.ContentMetadata),
		perms:    make(map[permKey]models.PermissionType),
		requests: make(map[string]*models.AccessRequest),
		groups:   make(map[string]*models.GroupDictionaryItem),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.secrets {
		c.secrets[k] = cloneSecret(v)
	}
	for k, byName := range s.contents {
		m := make(map[string]*models.ContentMetadata, len(byName))
		for name, v := range byName {
			m[name] = cloneContent(v)
		}
		c.contents[k] = m
	}
	for k, v := range s.perms {
		c.perms[k] = v
	}
	for k, v := range s.requests {
		c.requests[k] = cloneRequest(v)
	}
	for k, v := range s.groups {
		g := *v
		c.groups[k] = &g
	}
	return c
}

// Store holds all tables and vends repositories over them.
type Store struct {
	mu   sync.RWMutex
	data *state

	txMu sync.Mutex
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{data: newState()}
}

var (
	_ repomanager.RepositoryManager = (*Store)(nil)
	_ dbx.Transactor                = (*Store)(nil)
)

// txHandle is the handle passed to a unit of work. Repositories vended for it
// write without waiting for the unit of work to finish.
type txHandle struct {
	dbx.DBTX
}

// binding ties a repository to the store and records whether it was vended
// for a unit of work.
type binding struct {
	s    *Store
	inTx bool
}

func bind(s *Store, db dbx.DBTX) binding {
	_, inTx := db.(txHandle)
	return binding{s: s, inTx: inTx}
}

// lock takes the write locks and returns their release.
func (b binding) lock() func() {
	if !b.inTx {
		b.s.txMu.Lock()
	}
	b.s.mu.Lock()
	return func() {
		b.s.mu.Unlock()
		if !b.inTx {
			b.s.txMu.Unlock()
		}
	}
}

// WithTx runs fn as a unit of work. Changes made by fn are discarded when it
// fails. fn must write through repositories vended for the handle it gets;
// writing through any other handle blocks until fn returns. Units of work
// do not nest.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx dbx.DBTX) error) (err error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	snapshot := s.data.clone()
	s.mu.RUnlock()

	defer func() {
		if p := recover(); p != nil {
			s.restore(snapshot)
			panic(p)
		}
		if err != nil {
			s.restore(snapshot)
		}
	}()

	return fn(ctx, txHandle{})
}

func (s *Store) restore(snapshot *state) {
	s.mu.Lock()
	s.data = snapshot
	s.mu.Unlock()
}

// RunMigrations is a no-op for the in-memory store.
func (s *Store) RunMigrations(context.Context, *sql.DB) error { return nil }

// Secrets implements repomanager.RepositoryManager.
func (s *Store) Secrets(db dbx.DBTX) secrets.Repository { return &SecretsRepository{bind(s, db)} }

// Contents implements repomanager.RepositoryManager.
func (s *Store) Contents(db dbx.DBTX) contents.Repository { return &ContentsRepository{bind(s, db)} }

// Permissions implements repomanager.RepositoryManager.
func (s *Store) Permissions(db dbx.DBTX) permissions.Repository {
	return &PermissionsRepository{bind(s, db)}
}

// AccessRequests implements repomanager.RepositoryManager.
func (s *Store) AccessRequests(db dbx.DBTX) accessrequests.Repository {
	return &AccessRequestsRepository{bind(s, db)}
}

// Groups implements repomanager.RepositoryManager.
func (s *Store) Groups(db dbx.DBTX) groups.Repository { return &GroupsRepository{bind(s, db)} }

func cloneSecret(m *models.ObjectMetadata) *models.ObjectMetadata {
	c := *m
	c.Contents = nil
	return &c
}

func cloneContent(m *models.ContentMetadata) *models.ContentMetadata {
	c := *m
	c.Chunks = make([]*models.ChunkMetadata, 0, len(m.Chunks))
	for _, ch := range m.Chunks {
		cc := *ch
		c.Chunks = append(c.Chunks, &cc)
	}
	return &c
}

func cloneRequest(r *models.AccessRequest) *models.AccessRequest {
	c := *r
	c.Recipients = append([]models.Subject(nil), r.Recipients...)
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}

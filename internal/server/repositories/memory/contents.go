package memory

import (
	"context"
	"sort"
	"time"

	"github.com/yury-opolev/safeexchange-sub001/internal/common"
	"github.com/yury-opolev/safeexchange-sub001/internal/server/models"
)

// ContentsRepository is the in-memory contents.Repository.
type ContentsRepository struct{ binding }

func (r *ContentsRepository) Create(_ context.Context, c *models.ContentMetadata) error {
	defer r.lock()()
	byName := r.s.data.contents[c.SecretID]
	if byName == nil {
		byName = make(map[string]*models.ContentMetadata)
		r.s.data.contents[c.SecretID] = byName
	}
	if _, ok := byName[c.ContentName]; ok {
		return common.ErrorAlreadyExists
	}
	stored := cloneContent(c)
	stored.Chunks = nil
	byName[c.ContentName] = stored
	return nil
}

func (r *ContentsRepository) Get(_ context.Context, secretID, contentName string) (*models.ContentMetadata, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	c, ok := r.s.data.contents[secretID][contentName]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return cloneContent(c), nil
}

func (r *ContentsRepository) ListBySecret(_ context.Context, secretID string) ([]*models.ContentMetadata, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	byName := r.s.data.contents[secretID]
	if len(byName) == 0 {
		return nil, nil
	}
	result := make([]*models.ContentMetadata, 0, len(byName))
	for _, c := range byName {
		result = append(result, cloneContent(c))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Position < result[j].Position })
	return result, nil
}

func (r *ContentsRepository) BeginUpdate(_ context.Context, secretID, contentName, ticket string, setAt time.Time) error {
	defer r.lock()()
	c, ok := r.s.data.contents[secretID][contentName]
	if !ok {
		return common.ErrorNotFound
	}
	c.Status = models.ContentUpdating
	c.AccessTicket = ticket
	c.AccessTicketSetAt = setAt
	c.Chunks = nil
	return nil
}

func (r *ContentsRepository) updating(secretID, contentName, ticket string) (*models.ContentMetadata, error) {
	c, ok := r.s.data.contents[secretID][contentName]
	if !ok || c.Status != models.ContentUpdating || c.AccessTicket != ticket {
		return nil, common.ErrConflict
	}
	return c, nil
}

func (r *ContentsRepository) AppendChunk(_ context.Context, secretID, contentName, ticket string, chunk *models.ChunkMetadata) error {
	defer r.lock()()
	c, err := r.updating(secretID, contentName, ticket)
	if err != nil {
		return err
	}
	chunk.Position = len(c.Chunks)
	stored := *chunk
	c.Chunks = append(c.Chunks, &stored)
	return nil
}

func (r *ContentsRepository) Finalize(_ context.Context, secretID, contentName, ticket string) error {
	defer r.lock()()
	c, err := r.updating(secretID, contentName, ticket)
	if err != nil {
		return err
	}
	c.Status = models.ContentReady
	c.AccessTicket = ""
	return nil
}

func (r *ContentsRepository) Delete(_ context.Context, secretID, contentName string) error {
	defer r.lock()()
	delete(r.s.data.contents[secretID], contentName)
	return nil
}

func (r *ContentsRepository) DeleteBySecret(_ context.Context, secretID string) (int64, error) {
	defer r.lock()()
	n := int64(len(r.s.data.contents[secretID]))
	delete(r.s.data.contents, secretID)
	return n, nil
}

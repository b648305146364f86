package contents

import (
	"context"
	"time"

	"github.com/yury-opolev/safeexchange-sub001/internal/server/models"
)

// Repository persists content items and their chunk metadata. The ticket
// guarded methods return common.ErrConflict when the content is not updating
// under the presented ticket. AppendChunk assigns the chunk position itself,
// so concurrent appends under one ticket get distinct consecutive positions.
type Repository interface {
	Create(ctx context.Context, c *models.ContentMetadata) error
	Get(ctx context.Context, secretID, contentName string) (*models.ContentMetadata, error)
	ListBySecret(ctx context.Context, secretID string) ([]*models.ContentMetadata, error)

	BeginUpdate(ctx context.Context, secretID, contentName, ticket string, setAt time.Time) error
	AppendChunk(ctx context.Context, secretID, contentName, ticket string, chunk *models.ChunkMetadata) error
	Finalize(ctx context.Context, secretID, contentName, ticket string) error

	Delete(ctx context.Context, secretID, contentName string) error
	DeleteBySecret(ctx context.Context, secretID string) (int64, error)
}

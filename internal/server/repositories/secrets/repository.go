package secrets

import (
	"context"
	"time"

	"github.com/yury-opolev/safeexchange-sub001/internal/server/models"
)

// Repository persists secret headers (the ObjectMetadata row without its
// contents).
type Repository interface {
	Create(ctx context.Context, m *models.ObjectMetadata) error
	Get(ctx context.Context, secretID string) (*models.ObjectMetadata, error)
	TouchLastAccessed(ctx context.Context, secretID string, at time.Time) error
	UpdateExpiration(ctx context.Context, secretID string, exp models.ExpirationMetadata, modifiedBy string, at time.Time) error
	Delete(ctx context.Context, secretID string) error
	ListExpirationCandidates(ctx context.Context, now time.Time, includeIdle bool) ([]string, error)
}

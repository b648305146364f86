package permissions

import (
	"context"

	"github.com/yury-opolev/safeexchange-sub001/internal/server/models"
)

// Repository persists SubjectPermissions rows keyed by
// (secret_id, subject_type, subject_id).
type Repository interface {
	Get(ctx context.Context, secretID string, subjectType models.SubjectType, subjectID string) (*models.SubjectPermissions, error)
	Upsert(ctx context.Context, p *models.SubjectPermissions) error
	Delete(ctx context.Context, secretID string, subjectType models.SubjectType, subjectID string) error
	ListBySecret(ctx context.Context, secretID string) ([]*models.SubjectPermissions, error)
	DeleteBySecret(ctx context.Context, secretID string) (int64, error)
}

package accessrequests

import (
	"context"
	"time"

	"github.com/yury-opolev/safeexchange-sub001/internal/server/models"
)

// Repository persists access requests.
type Repository interface {
	// Create returns common.ErrorAlreadyExists if the id is taken or an
	// identical request is still in progress.
	Create(ctx context.Context, r *models.AccessRequest) error
	Get(ctx context.Context, id string) (*models.AccessRequest, error)
	FindInProgress(ctx context.Context, subjectType models.SubjectType, subjectName, objectName string, perm models.PermissionType) (*models.AccessRequest, error)
	// Finish moves an in-progress request to a terminal status. It returns
	// common.ErrConflict if the request is no longer in progress.
	Finish(ctx context.Context, id string, status models.RequestStatus, finishedBy string, at time.Time) error
	ListBySubject(ctx context.Context, subjectType models.SubjectType, subjectName string) ([]*models.AccessRequest, error)
	ListByRecipient(ctx context.Context, recipient models.Subject) ([]*models.AccessRequest, error)
	DeleteByObject(ctx context.Context, objectName string) (int64, error)
}

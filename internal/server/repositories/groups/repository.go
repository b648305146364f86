package groups

import (
	"context"

	"github.com/yury-opolev/safeexchange-sub001/internal/server/models"
)

// Repository persists the dictionary of groups that have received grants.
type Repository interface {
	// CreateIfAbsent inserts g unless a group with the same id exists and
	// reports whether this call created it.
	CreateIfAbsent(ctx context.Context, g *models.GroupDictionaryItem) (bool, error)
	Get(ctx context.Context, groupID string) (*models.GroupDictionaryItem, error)
}

package memory

import (
	"context"

	"github.com/yury-opolev/safeexchange-sub001/internal/common"
	"github.com/yury-opolev/safeexchange-sub001/internal/server/models"
)

// GroupsRepository is the in-memory groups.Repository.
type GroupsRepository struct{ binding }

func (r *GroupsRepository) CreateIfAbsent(_ context.Context, g *models.GroupDictionaryItem) (bool, error) {
	defer r.lock()()
	if _, ok := r.s.data.groups[g.GroupID]; ok {
		return false, nil
	}
	stored := *g
	r.s.data.groups[g.GroupID] = &stored
	return true, nil
}

func (r *GroupsRepository) Get(_ context.Context, groupID string) (*models.GroupDictionaryItem, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	g, ok := r.s.data.groups[groupID]
	if !ok {
		return nil, common.ErrorNotFound
	}
	c := *g
	return &c, nil
}

package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/yury-opolev/safeexchange-sub001/internal/common"
	"github.com/yury-opolev/safeexchange-sub001/internal/server/models"
)

// PermissionsRepository is the in-memory permissions.Repository.
type PermissionsRepository struct{ binding }

func (r *PermissionsRepository) Get(_ context.Context, secretID string, subjectType models.SubjectType, subjectID string) (*models.SubjectPermissions, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	p, ok := r.s.data.perms[permKey{secretID, subjectType, subjectID}]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &models.SubjectPermissions{SecretID: secretID, SubjectType: subjectType, SubjectID: subjectID, Permissions: p}, nil
}

func (r *PermissionsRepository) Upsert(_ context.Context, p *models.SubjectPermissions) error {
	if p.Permissions.IsEmpty() {
		return fmt.Errorf("empty permission set for %s on %s: %w", p.Subject(), p.SecretID, common.ErrorValidation)
	}
	defer r.lock()()
	r.s.data.perms[permKey{p.SecretID, p.SubjectType, p.SubjectID}] = p.Permissions
	return nil
}

func (r *PermissionsRepository) Delete(_ context.Context, secretID string, subjectType models.SubjectType, subjectID string) error {
	defer r.lock()()
	delete(r.s.data.perms, permKey{secretID, subjectType, subjectID})
	return nil
}

func (r *PermissionsRepository) ListBySecret(_ context.Context, secretID string) ([]*models.SubjectPermissions, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var result []*models.SubjectPermissions
	for k, p := range r.s.data.perms {
		if k.secretID == secretID {
			result = append(result, &models.SubjectPermissions{
				SecretID: secretID, SubjectType: k.subjectType, SubjectID: k.subjectID, Permissions: p,
			})
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].SubjectType != result[j].SubjectType {
			return result[i].SubjectType < result[j].SubjectType
		}
		return result[i].SubjectID < result[j].SubjectID
	})
	return result, nil
}

func (r *PermissionsRepository) DeleteBySecret(_ context.Context, secretID string) (int64, error) {
	defer r.lock()()
	var n int64
	for k := range r.s.data.perms {
		if k.secretID == secretID {
			delete(r.s.data.perms, k)
			n++
		}
	}
	return n, nil
}

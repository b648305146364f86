package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/yury-opolev/safeexchange-sub001/internal/common"
	"github.com/yury-opolev/safeexchange-sub001/internal/dbx"
	"github.com/yury-opolev/safeexchange-sub001/internal/logging"
	"github.com/yury-opolev/safeexchange-sub001/internal/server/models"
)

// AuthorizationResolver answers permission checks and mutates permission rows.
// A check succeeds only when a single row carries every requested bit: either
// the subject's own row or, for users with group authorization enabled, the
// row of one of the user's groups.
type AuthorizationResolver struct {
	store                     Store
	groups                    GroupResolver
	groupAuthorizationEnabled bool
	log                       logging.Logger
}

// NewAuthorizationResolver builds a resolver. groups may be nil when group
// authorization is disabled.
func NewAuthorizationResolver(store Store, groups GroupResolver, groupAuthorizationEnabled bool, log logging.Logger) *AuthorizationResolver {
	return &AuthorizationResolver{
		store:                     store,
		groups:                    groups,
		groupAuthorizationEnabled: groupAuthorizationEnabled && groups != nil,
		log:                       log.With("module", "authorization"),
	}
}

// IsAuthorized reports whether the subject holds every bit of perm on the
// secret. A missing secret and a missing grant look the same.
func (r *AuthorizationResolver) IsAuthorized(ctx context.Context, subjectType models.SubjectType, subjectID, secretID string, perm models.PermissionType) (bool, error) {
	if perm.IsEmpty() {
		return false, nil
	}
	subjectID = common.NormalizeSubjectID(subjectID)
	repo := r.store.Repos.Permissions(r.store.DB)

	row, err := repo.Get(ctx, secretID, subjectType, subjectID)
	switch {
	case err == nil:
		if row.Permissions.Has(perm) {
			return true, nil
		}
	case errors.Is(err, common.ErrorNotFound):
	default:
		return false, fmt.Errorf("load permissions: %w", err)
	}

	if !r.groupAuthorizationEnabled || subjectType != models.SubjectUser {
		return false, nil
	}

	groups := r.groups.GroupsFor(ctx, subjectID)
	if len(groups) == 0 {
		return false, nil
	}
	member := make(map[string]struct{}, len(groups))
	for _, g := range groups {
		member[g] = struct{}{}
	}

	rows, err := repo.ListBySecret(ctx, secretID)
	if err != nil {
		return false, fmt.Errorf("load permissions: %w", err)
	}
	for _, row := range rows {
		if row.SubjectType != models.SubjectGroup {
			continue
		}
		if _, ok := member[row.SubjectID]; ok && row.Permissions.Has(perm) {
			r.log.Debug(ctx, "authorized through group", "subject_id", subjectID, "group_id", row.SubjectID, "secret_id", secretID)
			return true, nil
		}
	}
	return false, nil
}

// SetPermission adds perm to the subject's row, creating it on first grant.
// The write is staged on tx; nil tx means the plain connection.
func (r *AuthorizationResolver) SetPermission(ctx context.Context, tx dbx.DBTX, secretID string, subjectType models.SubjectType, subjectID string, perm models.PermissionType) error {
	return r.mutate(ctx, tx, secretID, subjectType, subjectID, func(p models.PermissionType) models.PermissionType {
		return p.Grant(perm)
	})
}

// UnsetPermission clears perm from the subject's row and deletes the row once
// no bit is left.
func (r *AuthorizationResolver) UnsetPermission(ctx context.Context, tx dbx.DBTX, secretID string, subjectType models.SubjectType, subjectID string, perm models.PermissionType) error {
	return r.mutate(ctx, tx, secretID, subjectType, subjectID, func(p models.PermissionType) models.PermissionType {
		return p.Revoke(perm)
	})
}

func (r *AuthorizationResolver) mutate(ctx context.Context, tx dbx.DBTX, secretID string, subjectType models.SubjectType, subjectID string, apply func(models.PermissionType) models.PermissionType) error {
	if !subjectType.Valid() {
		return fmt.Errorf("subject type %q: %w", subjectType, common.ErrorValidation)
	}
	subjectID = common.NormalizeSubjectID(subjectID)
	repo := r.store.Repos.Permissions(r.store.handle(tx))

	current := models.PermissionNone
	existing, err := repo.Get(ctx, secretID, subjectType, subjectID)
	switch {
	case err == nil:
		current = existing.Permissions
	case errors.Is(err, common.ErrorNotFound):
	default:
		return fmt.Errorf("load permissions: %w", err)
	}

	next := apply(current)
	switch {
	case next == current && existing != nil:
		return nil
	case next.IsEmpty():
		if existing == nil {
			return nil
		}
		if err := repo.Delete(ctx, secretID, subjectType, subjectID); err != nil {
			return fmt.Errorf("delete permissions: %w", err)
		}
	default:
		if err := repo.Upsert(ctx, &models.SubjectPermissions{
			SecretID: secretID, SubjectType: subjectType, SubjectID: subjectID, Permissions: next,
		}); err != nil {
			return fmt.Errorf("store permissions: %w", err)
		}
	}

	r.log.Info(ctx, "permissions changed",
		"secret_id", secretID,
		"subject", models.Subject{Type: subjectType, ID: subjectID}.String(),
		"from", current.String(),
		"to", next.String())
	return nil
}

// GetAllPermissions returns every permission row of the secret.
func (r *AuthorizationResolver) GetAllPermissions(ctx context.Context, secretID string) ([]*models.SubjectPermissions, error) {
	rows, err := r.store.Repos.Permissions(r.store.DB).ListBySecret(ctx, secretID)
	if err != nil {
		return nil, fmt.Errorf("list permissions: %w", err)
	}
	return rows, nil
}

// SubjectsWith returns the subjects whose own row carries every bit of perm.
func (r *AuthorizationResolver) SubjectsWith(ctx context.Context, secretID string, perm models.PermissionType) ([]models.Subject, error) {
	rows, err := r.GetAllPermissions(ctx, secretID)
	if err != nil {
		return nil, err
	}
	var subjects []models.Subject
	for _, row := range rows {
		if row.Permissions.Has(perm) {
			subjects = append(subjects, row.Subject())
		}
	}
	return subjects, nil
}

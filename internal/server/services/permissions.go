package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/yury-opolev/safeexchange-sub001/internal/clock"
	"github.com/yury-opolev/safeexchange-sub001/internal/common"
	"github.com/yury-opolev/safeexchange-sub001/internal/dbx"
	"github.com/yury-opolev/safeexchange-sub001/internal/logging"
	"github.com/yury-opolev/safeexchange-sub001/internal/server/models"
)

// PermissionService is the permission-checked API over AuthorizationResolver.
type PermissionService struct {
	store Store
	authz *AuthorizationResolver
	clock clock.Clock
	log   logging.Logger
}

// NewPermissionService wires the service.
func NewPermissionService(store Store, authz *AuthorizationResolver, clk clock.Clock, log logging.Logger) *PermissionService {
	return &PermissionService{
		store: store,
		authz: authz,
		clock: clk,
		log:   log.With("module", "permissions"),
	}
}

func (s *PermissionService) require(ctx context.Context, subject models.Subject, secretID string, perm models.PermissionType) error {
	ok, err := s.authz.IsAuthorized(ctx, subject.Type, subject.ID, secretID, perm)
	if err != nil {
		return err
	}
	if !ok {
		return common.ErrorUnauthorized
	}
	return nil
}

func validTarget(target models.Subject, perm models.PermissionType) error {
	if !target.Type.Valid() || common.NormalizeSubjectID(target.ID) == "" || perm.IsEmpty() {
		return fmt.Errorf("target %s, permission %s: %w", target, perm, common.ErrorValidation)
	}
	return nil
}

// Grant adds perm for target; granter needs GrantAccess. Groups are
// registered in the group dictionary on their first grant.
func (s *PermissionService) Grant(ctx context.Context, granter models.Subject, secretID string, target models.Subject, perm models.PermissionType) error {
	if err := validTarget(target, perm); err != nil {
		return err
	}
	if err := s.require(ctx, granter, secretID, models.PermissionGrantAccess); err != nil {
		return err
	}
	target = normalizeSubject(target)

	if target.Type == models.SubjectGroup {
		if _, err := s.RegisterGroup(ctx, target.ID, "", ""); err != nil {
			return err
		}
	}

	return s.store.Tx.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		return s.authz.SetPermission(ctx, tx, secretID, target.Type, target.ID, perm)
	})
}

// Revoke removes perm from target; revoker needs RevokeAccess.
func (s *PermissionService) Revoke(ctx context.Context, revoker models.Subject, secretID string, target models.Subject, perm models.PermissionType) error {
	if err := validTarget(target, perm); err != nil {
		return err
	}
	if err := s.require(ctx, revoker, secretID, models.PermissionRevokeAccess); err != nil {
		return err
	}
	target = normalizeSubject(target)

	return s.store.Tx.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		return s.authz.UnsetPermission(ctx, tx, secretID, target.Type, target.ID, perm)
	})
}

// List returns the permission rows of the secret; subject needs Read.
func (s *PermissionService) List(ctx context.Context, subject models.Subject, secretID string) ([]*models.SubjectPermissions, error) {
	if err := s.require(ctx, subject, secretID, models.PermissionRead); err != nil {
		return nil, err
	}
	return s.authz.GetAllPermissions(ctx, secretID)
}

// RegisterGroup adds the group to the dictionary unless it is already known
// and returns the stored entry. When two callers race, both get the winner.
func (s *PermissionService) RegisterGroup(ctx context.Context, groupID, displayName, mail string) (*models.GroupDictionaryItem, error) {
	groupID = common.NormalizeSubjectID(groupID)
	repo := s.store.Repos.Groups(s.store.DB)

	created, err := repo.CreateIfAbsent(ctx, &models.GroupDictionaryItem{
		GroupID:     groupID,
		DisplayName: displayName,
		Mail:        mail,
		CreatedAt:   s.clock.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("register group: %w", err)
	}

	g, err := repo.Get(ctx, groupID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, fmt.Errorf("group %s vanished after registration: %w", groupID, common.ErrorInternal)
		}
		return nil, fmt.Errorf("load group: %w", err)
	}
	if created {
		s.log.Info(ctx, "group registered", "group_id", groupID)
	}
	return g, nil
}

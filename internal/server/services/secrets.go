package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/yury-opolev/safeexchange-sub001/internal/clock"
	"github.com/yury-opolev/safeexchange-sub001/internal/common"
	"github.com/yury-opolev/safeexchange-sub001/internal/dbx"
	"github.com/yury-opolev/safeexchange-sub001/internal/logging"
	"github.com/yury-opolev/safeexchange-sub001/internal/server/models"
)

// SecretInput describes a secret to create.
type SecretInput struct {
	SecretID    string
	Expiration  models.ExpirationMetadata
	MainContent ContentInput
}

// SecretService is the permission-checked entry point for secrets. Callers
// without the needed permission get common.ErrorUnauthorized whether or not
// the secret exists.
type SecretService struct {
	store   Store
	authz   *AuthorizationResolver
	content *ContentLifecycleManager
	purge   *ExpirationPurgeEngine
	clock   clock.Clock
	log     logging.Logger
}

// NewSecretService wires the service. purge may be nil, which disables the
// expiration check on access.
func NewSecretService(store Store, authz *AuthorizationResolver, content *ContentLifecycleManager, purge *ExpirationPurgeEngine, clk clock.Clock, log logging.Logger) *SecretService {
	return &SecretService{
		store:   store,
		authz:   authz,
		content: content,
		purge:   purge,
		clock:   clk,
		log:     log.With("module", "secrets"),
	}
}

// validateExpiration checks e and returns it with the idle duration
// truncated to whole seconds, the precision it is stored with.
func validateExpiration(e models.ExpirationMetadata) (models.ExpirationMetadata, error) {
	if e.ScheduleExpiration && e.ExpireAt.IsZero() {
		return e, fmt.Errorf("scheduled expiration needs a time: %w", common.ErrorValidation)
	}
	if e.ExpireOnIdleTime && e.IdleTimeToExpire < time.Second {
		return e, fmt.Errorf("idle expiration needs at least one second: %w", common.ErrorValidation)
	}
	e.IdleTimeToExpire = e.IdleTimeToExpire.Truncate(time.Second)
	return e, nil
}

// CreateSecret stores the secret, its blank main content and the creator's
// full permission set as one unit of work.
func (s *SecretService) CreateSecret(ctx context.Context, creator models.Subject, in SecretInput) (*models.ObjectMetadata, error) {
	creator = normalizeSubject(creator)
	secretID := strings.TrimSpace(in.SecretID)
	if secretID == "" || !creator.Type.Valid() || creator.ID == "" {
		return nil, fmt.Errorf("create secret: %w", common.ErrorValidation)
	}
	exp, err := validateExpiration(in.Expiration)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	meta := &models.ObjectMetadata{
		SecretID:       secretID,
		Expiration:     exp,
		CreatedAt:      now,
		CreatedBy:      creator.ID,
		ModifiedAt:     now,
		ModifiedBy:     creator.ID,
		LastAccessedAt: now,
	}
	main, err := s.content.newContent(secretID, 0, true, in.MainContent)
	if err != nil {
		return nil, err
	}

	err = s.store.Tx.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		db := s.store.handle(tx)
		if err := s.store.Repos.Secrets(db).Create(ctx, meta); err != nil {
			return err
		}
		if err := s.store.Repos.Contents(db).Create(ctx, main); err != nil {
			return err
		}
		return s.authz.SetPermission(ctx, tx, secretID, creator.Type, creator.ID, models.PermissionAll)
	})
	if err != nil {
		return nil, fmt.Errorf("create secret %s: %w", secretID, err)
	}

	meta.Contents = []*models.ContentMetadata{main}
	s.log.Info(ctx, "secret created", "secret_id", secretID, "creator", creator.String())
	return meta, nil
}

// authorize checks perm and purges the secret first if it has expired.
func (s *SecretService) authorize(ctx context.Context, subject models.Subject, secretID string, perm models.PermissionType) error {
	if s.purge != nil {
		purged, err := s.purge.PurgeIfNeeded(ctx, secretID)
		if err != nil {
			s.log.Warn(ctx, "purge on access failed", "secret_id", secretID, "error", err)
		}
		if purged {
			return common.ErrorUnauthorized
		}
	}

	ok, err := s.authz.IsAuthorized(ctx, subject.Type, subject.ID, secretID, perm)
	if err != nil {
		return err
	}
	if !ok {
		s.log.Info(ctx, "access denied", "secret_id", secretID, "subject", subject.String(), "permission", perm.String())
		return common.ErrorUnauthorized
	}
	return nil
}

func (s *SecretService) touch(ctx context.Context, secretID string) {
	if err := s.store.Repos.Secrets(s.store.DB).TouchLastAccessed(ctx, secretID, s.clock.Now()); err != nil {
		s.log.Warn(ctx, "last access not recorded", "secret_id", secretID, "error", err)
	}
}

// GetSecret returns the secret with its contents to a subject holding Read and
// records the access.
func (s *SecretService) GetSecret(ctx context.Context, subject models.Subject, secretID string) (*models.ObjectMetadata, error) {
	if err := s.authorize(ctx, subject, secretID, models.PermissionRead); err != nil {
		return nil, err
	}

	meta, err := s.store.Repos.Secrets(s.store.DB).Get(ctx, secretID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorUnauthorized
		}
		return nil, fmt.Errorf("load secret: %w", err)
	}
	meta.Contents, err = s.store.Repos.Contents(s.store.DB).ListBySecret(ctx, secretID)
	if err != nil {
		return nil, fmt.Errorf("load contents: %w", err)
	}

	s.touch(ctx, secretID)
	meta.LastAccessedAt = s.clock.Now()
	return meta, nil
}

// ReadContent returns the body of a ready content to a subject holding Read
// and records the access.
func (s *SecretService) ReadContent(ctx context.Context, subject models.Subject, secretID, contentName string) ([]byte, error) {
	if err := s.authorize(ctx, subject, secretID, models.PermissionRead); err != nil {
		return nil, err
	}
	body, err := s.content.DownloadAllContent(ctx, secretID, contentName)
	if err != nil {
		return nil, err
	}
	s.touch(ctx, secretID)
	return body, nil
}

// UpdateExpiration replaces the expiration settings; the subject needs Write.
func (s *SecretService) UpdateExpiration(ctx context.Context, subject models.Subject, secretID string, exp models.ExpirationMetadata) error {
	subject = normalizeSubject(subject)
	exp, err := validateExpiration(exp)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, subject, secretID, models.PermissionWrite); err != nil {
		return err
	}
	if err := s.store.Repos.Secrets(s.store.DB).UpdateExpiration(ctx, secretID, exp, subject.ID, s.clock.Now()); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrorUnauthorized
		}
		return fmt.Errorf("update expiration: %w", err)
	}
	s.log.Info(ctx, "expiration updated", "secret_id", secretID, "by", subject.String())
	return nil
}

// DeleteSecret purges the secret on behalf of a subject holding Write.
func (s *SecretService) DeleteSecret(ctx context.Context, subject models.Subject, secretID string) error {
	if err := s.authorize(ctx, subject, secretID, models.PermissionWrite); err != nil {
		return err
	}
	if s.purge == nil {
		return fmt.Errorf("delete secret: %w", common.ErrorInternal)
	}
	return s.purge.Purge(ctx, secretID)
}

// Package permissions stores per-subject permission rows for secrets.
package permissions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/yury-opolev/safeexchange-sub001/internal/common"
	"github.com/yury-opolev/safeexchange-sub001/internal/dbx"
	"github.com/yury-opolev/safeexchange-sub001/internal/server/models"
)

// PostgresRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Get returns the row for the subject or common.ErrorNotFound.
func (r *PostgresRepository) Get(ctx context.Context, secretID string, subjectType models.SubjectType, subjectID string) (*models.SubjectPermissions, error) {
	query := `SELECT permissions FROM subject_permissions
		WHERE secret_id=$1 AND subject_type=$2 AND subject_id=$3`

	var flags int64
	err := r.db.QueryRowContext(ctx, query, secretID, string(subjectType), subjectID).Scan(&flags)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return &models.SubjectPermissions{
		SecretID:    secretID,
		SubjectType: subjectType,
		SubjectID:   subjectID,
		Permissions: models.PermissionType(flags),
	}, nil
}

// Upsert writes the row, replacing any previous permission set. Empty sets
// are rejected; callers delete the row instead.
func (r *PostgresRepository) Upsert(ctx context.Context, p *models.SubjectPermissions) error {
	if p.Permissions.IsEmpty() {
		return fmt.Errorf("empty permission set for %s on %s: %w", p.Subject(), p.SecretID, common.ErrorValidation)
	}

	query := `
		INSERT INTO subject_permissions (secret_id, subject_type, subject_id, permissions)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (secret_id, subject_type, subject_id)
		DO UPDATE SET permissions = EXCLUDED.permissions`

	if _, err := r.db.ExecContext(ctx, query, p.SecretID, string(p.SubjectType), p.SubjectID, int64(p.Permissions)); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Delete removes the row if present.
func (r *PostgresRepository) Delete(ctx context.Context, secretID string, subjectType models.SubjectType, subjectID string) error {
	query := `DELETE FROM subject_permissions WHERE secret_id=$1 AND subject_type=$2 AND subject_id=$3`
	if _, err := r.db.ExecContext(ctx, query, secretID, string(subjectType), subjectID); err != nil {
		return fmt.Errorf("failed to delete permission: %w", err)
	}
	return nil
}

// ListBySecret returns every row of the secret ordered by subject.
func (r *PostgresRepository) ListBySecret(ctx context.Context, secretID string) ([]*models.SubjectPermissions, error) {
	query := `SELECT subject_type, subject_id, permissions FROM subject_permissions
		WHERE secret_id=$1 ORDER BY subject_type, subject_id`

	rows, err := r.db.QueryContext(ctx, query, secretID)
	if err != nil {
		return nil, fmt.Errorf("failed to select permissions: %w", err)
	}
	defer rows.Close()

	var result []*models.SubjectPermissions
	for rows.Next() {
		var (
			subjectType string
			flags       int64
		)
		item := &models.SubjectPermissions{SecretID: secretID}
		if err := rows.Scan(&subjectType, &item.SubjectID, &flags); err != nil {
			return nil, err
		}
		item.SubjectType = models.SubjectType(subjectType)
		item.Permissions = models.PermissionType(flags)
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// DeleteBySecret removes all rows of the secret and reports how many went.
func (r *PostgresRepository) DeleteBySecret(ctx context.Context, secretID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM subject_permissions WHERE secret_id=$1`, secretID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete permissions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected error: %w", err)
	}
	return n, nil
}

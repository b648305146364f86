// Package accessrequests stores requests for access to secrets together with
// the snapshot of subjects allowed to decide on them.
package accessrequests

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

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

// Create inserts the request. Recipients are stored as a jsonb array.
func (r *PostgresRepository) Create(ctx context.Context, ar *models.AccessRequest) error {
	recipients := ar.Recipients
	if recipients == nil {
		recipients = []models.Subject{}
	}
	raw, err := json.Marshal(recipients)
	if err != nil {
		return fmt.Errorf("marshal recipients: %w", err)
	}

	query := `
		INSERT INTO access_requests (id, subject_type, subject_name, object_name, permissions,
			recipients, status, requested_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT DO NOTHING`

	res, err := r.db.ExecContext(ctx, query, ar.ID, string(ar.SubjectType), ar.SubjectName, ar.ObjectName,
		int64(ar.Permission), raw, string(ar.Status), ar.RequestedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorAlreadyExists
	}
	return nil
}

const selectRequests = `SELECT id, subject_type, subject_name, object_name, permissions, recipients,
		status, requested_at, finished_by, finished_at
	FROM access_requests`

func scanRequest(row interface{ Scan(...any) error }) (*models.AccessRequest, error) {
	var (
		ar          models.AccessRequest
		subjectType string
		status      string
		flags       int64
		raw         []byte
		finishedAt  sql.NullTime
	)
	if err := row.Scan(&ar.ID, &subjectType, &ar.SubjectName, &ar.ObjectName, &flags, &raw,
		&status, &ar.RequestedAt, &ar.FinishedBy, &finishedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &ar.Recipients); err != nil {
		return nil, fmt.Errorf("unmarshal recipients: %w", err)
	}
	ar.SubjectType = models.SubjectType(subjectType)
	ar.Status = models.RequestStatus(status)
	ar.Permission = models.PermissionType(flags)
	if finishedAt.Valid {
		t := finishedAt.Time.UTC()
		ar.FinishedAt = &t
	}
	return &ar, nil
}

func (r *PostgresRepository) queryRequests(ctx context.Context, query string, args ...any) ([]*models.AccessRequest, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select access requests: %w", err)
	}
	defer rows.Close()

	var result []*models.AccessRequest
	for rows.Next() {
		ar, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, ar)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Get returns the request or common.ErrorNotFound.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.AccessRequest, error) {
	ar, err := scanRequest(r.db.QueryRowContext(ctx, selectRequests+` WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return ar, nil
}

// FindInProgress returns the oldest in-progress request of the subject for
// the object with exactly the permission set perm, or common.ErrorNotFound.
func (r *PostgresRepository) FindInProgress(ctx context.Context, subjectType models.SubjectType, subjectName, objectName string, perm models.PermissionType) (*models.AccessRequest, error) {
	query := selectRequests + `
		WHERE subject_type=$1 AND subject_name=$2 AND object_name=$3 AND permissions=$4 AND status='in_progress'
		ORDER BY requested_at LIMIT 1`
	ar, err := scanRequest(r.db.QueryRowContext(ctx, query, string(subjectType), subjectName, objectName, int64(perm)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return ar, nil
}

// Finish implements Repository.
func (r *PostgresRepository) Finish(ctx context.Context, id string, status models.RequestStatus, finishedBy string, at time.Time) error {
	query := `UPDATE access_requests SET status=$2, finished_by=$3, finished_at=$4
		WHERE id=$1 AND status='in_progress'`
	res, err := r.db.ExecContext(ctx, query, id, string(status), finishedBy, at)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n != 1 {
		return common.ErrConflict
	}
	return nil
}

// ListBySubject returns the requests the subject has made, newest first.
func (r *PostgresRepository) ListBySubject(ctx context.Context, subjectType models.SubjectType, subjectName string) ([]*models.AccessRequest, error) {
	return r.queryRequests(ctx, selectRequests+`
		WHERE subject_type=$1 AND subject_name=$2 ORDER BY requested_at DESC`,
		string(subjectType), subjectName)
}

// ListByRecipient returns in-progress requests whose recipient snapshot
// contains the subject.
func (r *PostgresRepository) ListByRecipient(ctx context.Context, recipient models.Subject) ([]*models.AccessRequest, error) {
	probe, err := json.Marshal([]models.Subject{recipient})
	if err != nil {
		return nil, fmt.Errorf("marshal recipient: %w", err)
	}
	return r.queryRequests(ctx, selectRequests+`
		WHERE status='in_progress' AND recipients @> $1::jsonb ORDER BY requested_at DESC`,
		string(probe))
}

// DeleteByObject removes every request for the secret.
func (r *PostgresRepository) DeleteByObject(ctx context.Context, objectName string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM access_requests WHERE object_name=$1`, objectName)
	if err != nil {
		return 0, fmt.Errorf("failed to delete access requests: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected error: %w", err)
	}
	return n, nil
}

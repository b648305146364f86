// Package secrets stores secret headers: audit fields, last access time and
// expiration settings.
package secrets

import (
	"context"
	"database/sql"
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

func nullTime(enabled bool, t time.Time) sql.NullTime {
	if !enabled || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

// Create inserts a new secret header. An existing id yields
// common.ErrorAlreadyExists.
func (r *PostgresRepository) Create(ctx context.Context, m *models.ObjectMetadata) error {
	query := `
		INSERT INTO secrets (secret_id, created_at, created_by, modified_at, modified_by, last_accessed_at,
			schedule_expiration, expire_at, expire_on_idle_time, idle_time_to_expire_seconds)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (secret_id) DO NOTHING`

	e := m.Expiration
	res, err := r.db.ExecContext(ctx, query,
		m.SecretID, m.CreatedAt, m.CreatedBy, m.ModifiedAt, m.ModifiedBy, m.LastAccessedAt,
		e.ScheduleExpiration, nullTime(e.ScheduleExpiration, e.ExpireAt),
		e.ExpireOnIdleTime, int64(e.IdleTimeToExpire/time.Second))
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorAlreadyExists
	}
	return nil
}

// Get returns the header of the secret or common.ErrorNotFound. Contents are
// loaded separately by the contents repository.
func (r *PostgresRepository) Get(ctx context.Context, secretID string) (*models.ObjectMetadata, error) {
	query := `SELECT created_at, created_by, modified_at, modified_by, last_accessed_at,
			schedule_expiration, expire_at, expire_on_idle_time, idle_time_to_expire_seconds
		FROM secrets WHERE secret_id=$1`

	m := &models.ObjectMetadata{SecretID: secretID}
	var (
		expireAt    sql.NullTime
		idleSeconds int64
	)
	err := r.db.QueryRowContext(ctx, query, secretID).Scan(
		&m.CreatedAt, &m.CreatedBy, &m.ModifiedAt, &m.ModifiedBy, &m.LastAccessedAt,
		&m.Expiration.ScheduleExpiration, &expireAt, &m.Expiration.ExpireOnIdleTime, &idleSeconds)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	if expireAt.Valid {
		m.Expiration.ExpireAt = expireAt.Time.UTC()
	}
	m.Expiration.IdleTimeToExpire = time.Duration(idleSeconds) * time.Second
	return m, nil
}

// TouchLastAccessed moves last_accessed_at forward. Older timestamps are
// ignored so concurrent readers cannot move it back.
func (r *PostgresRepository) TouchLastAccessed(ctx context.Context, secretID string, at time.Time) error {
	query := `UPDATE secrets SET last_accessed_at=$2 WHERE secret_id=$1 AND last_accessed_at < $2`
	if _, err := r.db.ExecContext(ctx, query, secretID, at); err != nil {
		return fmt.Errorf("failed to touch secret: %w", err)
	}
	return nil
}

// UpdateExpiration replaces the expiration settings of the secret.
func (r *PostgresRepository) UpdateExpiration(ctx context.Context, secretID string, exp models.ExpirationMetadata, modifiedBy string, at time.Time) error {
	query := `
		UPDATE secrets SET schedule_expiration=$2, expire_at=$3, expire_on_idle_time=$4,
			idle_time_to_expire_seconds=$5, modified_by=$6, modified_at=$7
		WHERE secret_id=$1`

	res, err := r.db.ExecContext(ctx, query, secretID,
		exp.ScheduleExpiration, nullTime(exp.ScheduleExpiration, exp.ExpireAt),
		exp.ExpireOnIdleTime, int64(exp.IdleTimeToExpire/time.Second), modifiedBy, at)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

// Delete removes the secret header if present.
func (r *PostgresRepository) Delete(ctx context.Context, secretID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM secrets WHERE secret_id=$1`, secretID); err != nil {
		return fmt.Errorf("failed to delete secret: %w", err)
	}
	return nil
}

// ListExpirationCandidates returns ids whose scheduled expiration time has
// passed and, when includeIdle is set, every secret with idle expiration
// enabled. Callers re-check each candidate before purging.
func (r *PostgresRepository) ListExpirationCandidates(ctx context.Context, now time.Time, includeIdle bool) ([]string, error) {
	query := `SELECT secret_id FROM secrets WHERE schedule_expiration AND expire_at <= $1 ORDER BY secret_id`
	if includeIdle {
		query = `SELECT secret_id FROM secrets
			WHERE (schedule_expiration AND expire_at <= $1) OR expire_on_idle_time
			ORDER BY secret_id`
	}

	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to select secrets: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

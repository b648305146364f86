// Package contents stores the content items of a secret and the metadata of
// their uploaded chunks. Chunk bodies live in the blob store.
package contents

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

// Create inserts a content item without chunks.
func (r *PostgresRepository) Create(ctx context.Context, c *models.ContentMetadata) error {
	query := `
		INSERT INTO contents (secret_id, content_name, position, is_main, content_type, file_name,
			status, access_ticket, access_ticket_set_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (secret_id, content_name) DO NOTHING`

	var setAt sql.NullTime
	if !c.AccessTicketSetAt.IsZero() {
		setAt = sql.NullTime{Time: c.AccessTicketSetAt, Valid: true}
	}
	res, err := r.db.ExecContext(ctx, query,
		c.SecretID, c.ContentName, c.Position, c.IsMain, c.ContentType, c.FileName,
		string(c.Status), c.AccessTicket, setAt)
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

const selectContents = `SELECT content_name, position, is_main, content_type, file_name,
		status, access_ticket, access_ticket_set_at
	FROM contents`

func scanContent(row interface{ Scan(...any) error }, secretID string) (*models.ContentMetadata, error) {
	c := &models.ContentMetadata{SecretID: secretID}
	var (
		status string
		setAt  sql.NullTime
	)
	if err := row.Scan(&c.ContentName, &c.Position, &c.IsMain, &c.ContentType, &c.FileName,
		&status, &c.AccessTicket, &setAt); err != nil {
		return nil, err
	}
	c.Status = models.ContentStatus(status)
	if setAt.Valid {
		c.AccessTicketSetAt = setAt.Time.UTC()
	}
	return c, nil
}

// Get returns the content with its chunks ordered by position, or
// common.ErrorNotFound.
func (r *PostgresRepository) Get(ctx context.Context, secretID, contentName string) (*models.ContentMetadata, error) {
	row := r.db.QueryRowContext(ctx, selectContents+` WHERE secret_id=$1 AND content_name=$2`, secretID, contentName)
	c, err := scanContent(row, secretID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	chunks, err := r.selectChunks(ctx, `WHERE secret_id=$1 AND content_name=$2`, secretID, contentName)
	if err != nil {
		return nil, err
	}
	c.Chunks = chunks[contentName]
	return c, nil
}

// ListBySecret returns every content of the secret ordered by position, each
// with its chunks.
func (r *PostgresRepository) ListBySecret(ctx context.Context, secretID string) ([]*models.ContentMetadata, error) {
	rows, err := r.db.QueryContext(ctx, selectContents+` WHERE secret_id=$1 ORDER BY position`, secretID)
	if err != nil {
		return nil, fmt.Errorf("failed to select contents: %w", err)
	}
	defer rows.Close()

	var result []*models.ContentMetadata
	for rows.Next() {
		c, err := scanContent(rows, secretID)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, nil
	}

	chunks, err := r.selectChunks(ctx, `WHERE secret_id=$1`, secretID)
	if err != nil {
		return nil, err
	}
	for _, c := range result {
		c.Chunks = chunks[c.ContentName]
	}
	return result, nil
}

func (r *PostgresRepository) selectChunks(ctx context.Context, where string, args ...any) (map[string][]*models.ChunkMetadata, error) {
	query := `SELECT content_name, chunk_name, position, hash, length FROM chunks ` + where + ` ORDER BY content_name, position`
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select chunks: %w", err)
	}
	defer rows.Close()

	result := make(map[string][]*models.ChunkMetadata)
	for rows.Next() {
		var (
			contentName string
			ch          models.ChunkMetadata
		)
		if err := rows.Scan(&contentName, &ch.ChunkName, &ch.Position, &ch.Hash, &ch.Length); err != nil {
			return nil, err
		}
		result[contentName] = append(result[contentName], &ch)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// BeginUpdate moves the content to updating under a fresh ticket and drops
// the chunk rows of any previous upload.
func (r *PostgresRepository) BeginUpdate(ctx context.Context, secretID, contentName, ticket string, setAt time.Time) error {
	query := `UPDATE contents SET status='updating', access_ticket=$3, access_ticket_set_at=$4, chunk_count=0
		WHERE secret_id=$1 AND content_name=$2`
	res, err := r.db.ExecContext(ctx, query, secretID, contentName, ticket, setAt)
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

	if _, err := r.db.ExecContext(ctx, `DELETE FROM chunks WHERE secret_id=$1 AND content_name=$2`, secretID, contentName); err != nil {
		return fmt.Errorf("failed to reset chunks: %w", err)
	}
	return nil
}

// AppendChunk records a chunk only while the content is updating under
// ticket and sets chunk.Position to the next free slot. Taking the slot and
// inserting the row is one statement; the row lock on the content orders
// concurrent appends.
func (r *PostgresRepository) AppendChunk(ctx context.Context, secretID, contentName, ticket string, chunk *models.ChunkMetadata) error {
	query := `
		WITH slot AS (
			UPDATE contents SET chunk_count = chunk_count + 1
			WHERE secret_id=$1 AND content_name=$2 AND status='updating' AND access_ticket=$3
			RETURNING chunk_count - 1 AS position
		)
		INSERT INTO chunks (secret_id, content_name, chunk_name, position, hash, length)
		SELECT $1, $2, $4, slot.position, $5, $6 FROM slot
		RETURNING position`

	var position int
	err := r.db.QueryRowContext(ctx, query, secretID, contentName, ticket,
		chunk.ChunkName, chunk.Hash, chunk.Length).Scan(&position)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return common.ErrConflict
		}
		return fmt.Errorf("db error: %w", err)
	}
	chunk.Position = position
	return nil
}

// Finalize marks the content ready and clears its ticket, provided ticket is
// still the current one.
func (r *PostgresRepository) Finalize(ctx context.Context, secretID, contentName, ticket string) error {
	query := `UPDATE contents SET status='ready', access_ticket=''
		WHERE secret_id=$1 AND content_name=$2 AND status='updating' AND access_ticket=$3`
	res, err := r.db.ExecContext(ctx, query, secretID, contentName, ticket)
	if err != nil {
		return fmt.Errorf("failed to finalize content: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n != 1 {
		return common.ErrConflict
	}
	return nil
}

// Delete removes the content; its chunk rows go with it.
func (r *PostgresRepository) Delete(ctx context.Context, secretID, contentName string) error {
	query := `DELETE FROM contents WHERE secret_id=$1 AND content_name=$2`
	if _, err := r.db.ExecContext(ctx, query, secretID, contentName); err != nil {
		return fmt.Errorf("failed to delete content: %w", err)
	}
	return nil
}

// DeleteBySecret removes every content of the secret and reports how many.
func (r *PostgresRepository) DeleteBySecret(ctx context.Context, secretID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM contents WHERE secret_id=$1`, secretID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete contents: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected error: %w", err)
	}
	return n, nil
}

// Package groups stores the group dictionary.
package groups

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

// CreateIfAbsent implements Repository. Concurrent registrations of the same
// group resolve to a single row.
func (r *PostgresRepository) CreateIfAbsent(ctx context.Context, g *models.GroupDictionaryItem) (bool, error) {
	query := `
		INSERT INTO groups (group_id, display_name, mail, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (group_id) DO NOTHING`

	res, err := r.db.ExecContext(ctx, query, g.GroupID, g.DisplayName, g.Mail, g.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	return n == 1, nil
}

// Get returns the group or common.ErrorNotFound.
func (r *PostgresRepository) Get(ctx context.Context, groupID string) (*models.GroupDictionaryItem, error) {
	query := `SELECT group_id, display_name, mail, created_at FROM groups WHERE group_id=$1`

	var g models.GroupDictionaryItem
	err := r.db.QueryRowContext(ctx, query, groupID).Scan(&g.GroupID, &g.DisplayName, &g.Mail, &g.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &g, nil
}

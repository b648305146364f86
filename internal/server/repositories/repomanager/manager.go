package repomanager

import (
	"context"
	"database/sql"

	"github.com/yury-opolev/safeexchange-sub001/internal/dbx"
	"github.com/yury-opolev/safeexchange-sub001/internal/server/repositories/accessrequests"
	"github.com/yury-opolev/safeexchange-sub001/internal/server/repositories/contents"
	"github.com/yury-opolev/safeexchange-sub001/internal/server/repositories/groups"
	"github.com/yury-opolev/safeexchange-sub001/internal/server/repositories/permissions"
	"github.com/yury-opolev/safeexchange-sub001/internal/server/repositories/secrets"
)

// RepositoryManager vends repositories bound to a DBTX, so the same service
// code runs against a connection or inside a transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Secrets(db dbx.DBTX) secrets.Repository
	Contents(db dbx.DBTX) contents.Repository
	Permissions(db dbx.DBTX) permissions.Repository
	AccessRequests(db dbx.DBTX) accessrequests.Repository
	Groups(db dbx.DBTX) groups.Repository
}

// Package services contains the access-control and content-lifecycle logic of
// the server: permission resolution, access request workflow, chunked content
// uploads and expiration purge.
package services

import (
	"github.com/yury-opolev/safeexchange-sub001/internal/dbx"
	"github.com/yury-opolev/safeexchange-sub001/internal/server/repositories/repomanager"
)

// Store bundles what services need to reach persistence: a connection handle
// for single statements, a Transactor for units of work and the repository
// factory.
type Store struct {
	DB    dbx.DBTX
	Tx    dbx.Transactor
	Repos repomanager.RepositoryManager
}

// handle returns tx when the caller runs inside a unit of work and the plain
// connection otherwise.
func (s Store) handle(tx dbx.DBTX) dbx.DBTX {
	if tx == nil {
		return s.DB
	}
	return tx
}

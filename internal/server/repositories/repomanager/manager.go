package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/mailvault/internal/dbx"
	"github.com/dmitrijs2005/mailvault/internal/server/repositories/folders"
	"github.com/dmitrijs2005/mailvault/internal/server/repositories/grants"
	"github.com/dmitrijs2005/mailvault/internal/server/repositories/items"
	"github.com/dmitrijs2005/mailvault/internal/server/repositories/jobs"
	"github.com/dmitrijs2005/mailvault/internal/server/repositories/uploads"
	"github.com/dmitrijs2005/mailvault/internal/server/repositories/usage"
	"github.com/dmitrijs2005/mailvault/internal/server/repositories/users"
	"github.com/dmitrijs2005/mailvault/internal/server/repositories/vaults"
)

// RepositoryManager vends repositories bound to a DBTX, so the same code can
// run against *sql.DB or inside a transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	Vaults(db dbx.DBTX) vaults.Repository
	Folders(db dbx.DBTX) folders.Repository
	Items(db dbx.DBTX) items.Repository
	Uploads(db dbx.DBTX) uploads.Repository
	Usage(db dbx.DBTX) usage.Repository
	Grants(db dbx.DBTX) grants.Repository
	Jobs(db dbx.DBTX) jobs.Repository
}

// Package repomanager provides the PostgreSQL RepositoryManager, wiring
// repository constructors together with goose migrations.
package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/mailvault/internal/dbx"
	"github.com/dmitrijs2005/mailvault/internal/server/migrations"
	"github.com/dmitrijs2005/mailvault/internal/server/repositories/folders"
	"github.com/dmitrijs2005/mailvault/internal/server/repositories/grants"
	"github.com/dmitrijs2005/mailvault/internal/server/repositories/items"
	"github.com/dmitrijs2005/mailvault/internal/server/repositories/jobs"
	"github.com/dmitrijs2005/mailvault/internal/server/repositories/uploads"
	"github.com/dmitrijs2005/mailvault/internal/server/repositories/usage"
	"github.com/dmitrijs2005/mailvault/internal/server/repositories/users"
	"github.com/dmitrijs2005/mailvault/internal/server/repositories/vaults"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

type PostgresRepositoryManager struct{}

func (m *PostgresRepositoryManager) Users(db dbx.DBTX) users.Repository {
	return users.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Vaults(db dbx.DBTX) vaults.Repository {
	return vaults.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Folders(db dbx.DBTX) folders.Repository {
	return folders.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Items(db dbx.DBTX) items.Repository {
	return items.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Uploads(db dbx.DBTX) uploads.Repository {
	return uploads.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Usage(db dbx.DBTX) usage.Repository {
	return usage.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Grants(db dbx.DBTX) grants.Repository {
	return grants.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Jobs(db dbx.DBTX) jobs.Repository {
	return jobs.NewPostgresRepository(db)
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations applies the embedded migrations.
func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, ".")
}

func NewPostgresRepositoryManager() RepositoryManager {
	return &PostgresRepositoryManager{}
}

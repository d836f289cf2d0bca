package repomanager

import (
	"context"
	"database/sql"
	"errors"
	"io/fs"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/mailvault/internal/server/migrations"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDB(t *testing.T) *sql.DB {
	t.Helper()
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestFactories_ReturnRepos(t *testing.T) {
	db := newDB(t)
	m := NewPostgresRepositoryManager()

	assert.NotNil(t, m.Users(db))
	assert.NotNil(t, m.Vaults(db))
	assert.NotNil(t, m.Folders(db))
	assert.NotNil(t, m.Items(db))
	assert.NotNil(t, m.Uploads(db))
	assert.NotNil(t, m.Usage(db))
	assert.NotNil(t, m.Grants(db))
	assert.NotNil(t, m.Jobs(db))
}

func TestRunMigrations(t *testing.T) {
	db := newDB(t)

	orig := gooseUpContext
	t.Cleanup(func() { gooseUpContext = orig })

	var gotDir string
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		gotDir = dir
		return nil
	}

	m := &PostgresRepositoryManager{}
	require.NoError(t, m.RunMigrations(context.Background(), db))
	assert.Equal(t, ".", gotDir)
}

func TestRunMigrations_Error(t *testing.T) {
	db := newDB(t)

	orig := gooseUpContext
	t.Cleanup(func() { gooseUpContext = orig })
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return errors.New("boom")
	}

	m := &PostgresRepositoryManager{}
	assert.EqualError(t, m.RunMigrations(context.Background(), db), "boom")
}

func TestMigrations_Embedded(t *testing.T) {
	entries, err := fs.ReadDir(migrations.Migrations, ".")
	require.NoError(t, err)
	assert.Len(t, entries, 4)
}

package pg

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

// Schema migrations ship inside the binary so deploys never depend on
// files on disk.
//
//go:embed migrations/*.sql
var migrationFS embed.FS

// RunMigrations brings the session and transcript schema up to the
// latest version. Called on startup before any query runs; goose skips
// versions already applied.
func RunMigrations(db *sql.DB) error {
	goose.SetBaseFS(migrationFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set migration dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Package migrations runs the postgres backend's schema migrations, using
// goose's embedded-filesystem runner. The sqlite backend creates the same
// alert_contexts table itself when it opens its database.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed sql/*.sql
var embedFS embed.FS

// Run applies every pending migration in sql/ against db, using dialect
// ("sqlite3" or "postgres") to select goose's driver behaviour.
func Run(ctx context.Context, db *sql.DB, dialect string) error {
	goose.SetBaseFS(embedFS)
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("migrations: set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "sql"); err != nil {
		return fmt.Errorf("migrations: up: %w", err)
	}
	return nil
}

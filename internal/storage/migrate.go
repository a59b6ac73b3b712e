package storage

import (
	"context"
	"embed"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
)

//go:embed migrations/*.sql
var migrations embed.FS

const migrationTable = "relay_schema_migrations"

// Migrate applies the embedded schema migrations to db.
func Migrate(ctx context.Context, db *DB, log zerolog.Logger) error {
	// Borrows connections from the pool; closing it leaves the pool open.
	sqlDB := stdlib.OpenDBFromPool(db.Pool)
	defer sqlDB.Close()

	goose.SetBaseFS(migrations)
	goose.SetLogger(&gooseLogger{log: log})
	goose.SetTableName(migrationTable)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, sqlDB, "migrations"); err != nil {
		return &StorageError{Op: "migrate", Err: err}
	}
	return nil
}

type gooseLogger struct {
	log zerolog.Logger
}

func (g *gooseLogger) Printf(format string, args ...any) {
	g.log.Info().Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// Fatalf logs at error level only; goose returns the error to the caller.
func (g *gooseLogger) Fatalf(format string, args ...any) {
	g.log.Error().Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

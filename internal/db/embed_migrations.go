package db

import "embed"

// MigrationFS embeds the SQL migrations under internal/db/migrations for cmd/migrate.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS

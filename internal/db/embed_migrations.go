package db

import "embed"

// MigrationFS holds the versioned schema applied by cmd/migrate.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS

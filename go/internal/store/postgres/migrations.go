package postgres

import "embed"

// Migrations holds the schema, applied by tools/migrate through golang-migrate.
//
//go:embed migrations/*.sql
var Migrations embed.FS

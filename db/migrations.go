package db

import "embed"

// MigrationsFS embeds the SQL schema migrations, applied with
// `filtra migrate up`.
//
//go:embed migrations/*.sql
var MigrationsFS embed.FS

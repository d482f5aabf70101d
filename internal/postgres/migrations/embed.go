// Package migrations embeds the SQL files that define the durable log schema (C1), consumed by goose via
// postgres.Migrate.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

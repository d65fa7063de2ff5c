// Package migrations embeds the station's SQL migrations into the binary.
package migrations

import "embed"

// FS holds every migration file at its root; pass it to database.DB.Migrate.
//
//go:embed *.sql
var FS embed.FS

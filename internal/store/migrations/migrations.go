// Package migrations embeds the SQL migration files for the message log.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

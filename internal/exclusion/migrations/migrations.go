// Package migrations embeds the SQL migration files for the
// exclusion database.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

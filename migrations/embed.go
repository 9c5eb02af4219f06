// Package migrations embeds the SQL schema so binaries and tests migrate
// without a migrations directory on disk.
package migrations

import "embed"

// FS holds the numbered .sql migration files
//
//go:embed *.sql
var FS embed.FS

// Package migrations embeds the versioned SQL schema applied by platform/db.
package migrations

import "embed"

// FS holds the up/down migration files.
//
//go:embed *.sql
var FS embed.FS

// Package migrations embeds the SQL schema and seed files so the binary can
// migrate its own database without shipping loose files.
package migrations

import "embed"

//go:embed *.sql seeds/*.sql
var FS embed.FS

// Dir is the root for schema migrations within FS.
const Dir = "."

// SeedsDir is the root for idempotent seed files within FS.
const SeedsDir = "seeds"

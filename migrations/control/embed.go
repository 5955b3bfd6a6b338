// Package control embeds the control-database migration files.
package control

import "embed"

// FS contains the migrations for the control database (tenant registry).
//
//go:embed sql/*.sql
var FS embed.FS

// Dir is the directory within FS where migrations live.
const Dir = "sql"

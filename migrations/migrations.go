// Package migrations bundles schema migration files at compile time so the
// binary deploys without external file dependencies.
package migrations

import "embed"

//go:embed sqlite/*.sql
var Sqlite embed.FS

//go:embed postgres/*.sql
var Postgres embed.FS

// Package migrations embeds the goose SQL migrations for each storage backend.
package migrations

import "embed"

//go:embed postgres/*.sql clickhouse/*.sql
var FS embed.FS

// Dir returns the migrations directory for a goose dialect
func Dir(dialect string) string {
	if dialect == "clickhouse" {
		return "clickhouse"
	}
	return "postgres"
}

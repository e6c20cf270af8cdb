// Package migrations embeds the goose migrations of the postgres adapter.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS

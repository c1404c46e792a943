// Package migrations embeds the tenant schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

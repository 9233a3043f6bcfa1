// Package migrations embeds the front desk schema migrations.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

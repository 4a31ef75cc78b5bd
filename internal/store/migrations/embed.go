// Package migrations embeds the SQL schema migrations of pairchat.db.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

// Package migrations встраивает SQL-схему в бинарник.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

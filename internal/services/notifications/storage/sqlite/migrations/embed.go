// Package migrations contains embedded SQL migrations for the calendar directory.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

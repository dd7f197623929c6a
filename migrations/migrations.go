// Package migrations embeds the SQL schema for the persistence store,
// applied by internal/db.Connect the way the teacher repo's migrations
// package is consumed.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

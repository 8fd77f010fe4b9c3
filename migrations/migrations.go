// Package migrations embeds the SQL schema for the PostgreSQL store.
package migrations

import _ "embed"

//go:embed 001_schema.sql
var Schema string

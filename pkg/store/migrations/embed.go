// Package migrations embeds the goose SQL migration files so the
// notificaties-core binary carries its own schema instead of requiring
// a separate migrations directory on disk.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

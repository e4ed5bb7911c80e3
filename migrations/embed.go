// Package migrations embeds the bridge's SQL schema into the binary and
// registers it with the database package.
package migrations

import (
	"embed"

	"github.com/nerrad567/gray-logic-ipmi/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.RegisterMigrations(migrationsFS, ".")
}

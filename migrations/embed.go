// Package migrations embeds the directory schema into the binary.
package migrations

import (
	"embed"

	"github.com/nerrad567/hivelink/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.RegisterMigrations(migrationsFS, ".")
}

// Package migrations embeds the SQL schema into the binary so the service
// can migrate its database without the files on disk.
package migrations

import (
	"embed"

	"github.com/nerrad567/swetrack-sync/internal/infrastructure/database"
)

//go:embed *.sql
var files embed.FS

// Source returns the embedded migrations for database.DB.Migrate.
func Source() database.Source {
	return database.Source{FS: files, Dir: "."}
}

package repository

import (
	"embed"

	"github.com/prohmpiriya/campus-registration/pkg/database"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationFS embed.FS

// PostgresMigrations returns the embedded PostgreSQL schema migrations
func PostgresMigrations() ([]database.Migration, error) {
	return database.LoadMigrations(migrationFS, "migrations/postgres")
}

// SQLiteMigrations returns the embedded SQLite schema migrations
func SQLiteMigrations() ([]database.Migration, error) {
	return database.LoadMigrations(migrationFS, "migrations/sqlite")
}

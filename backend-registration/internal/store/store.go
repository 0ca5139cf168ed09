package store

import (
	"context"
	"fmt"
	"time"

	"github.com/prohmpiriya/campus-registration/backend-registration/internal/repository"
	"github.com/prohmpiriya/campus-registration/pkg/config"
	"github.com/prohmpiriya/campus-registration/pkg/database"
)

// HealthChecker reports whether the backing database is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Store is an opened registration store backend
type Store struct {
	Kind          string
	Events        repository.EventRepository
	Registrations repository.RegistrationRepository

	postgres *database.PostgresDB
	sqlite   *database.SQLiteDB
}

// Open connects the backend selected by REGISTRATION_STORE
func Open(ctx context.Context, cfg *config.Config) (*Store, error) {
	s := &Store{Kind: cfg.Registration.Store}

	switch cfg.Registration.Store {
	case config.StorePostgres:
		db, err := database.NewPostgres(ctx, &database.PostgresConfig{
			Host:            cfg.Database.Host,
			Port:            cfg.Database.Port,
			User:            cfg.Database.User,
			Password:        cfg.Database.Password,
			Database:        cfg.Database.DBName,
			SSLMode:         cfg.Database.SSLMode,
			MaxConns:        int32(cfg.Database.MaxOpenConns),
			MinConns:        int32(cfg.Database.MinConns),
			MaxConnLifetime: cfg.Database.ConnMaxLifetime,
			MaxConnIdleTime: cfg.Database.ConnMaxIdleTime,
			ConnectTimeout:  5 * time.Second,
			MaxRetries:      3,
			RetryInterval:   time.Second,
			EnableTracing:   cfg.OTel.Enabled,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		s.postgres = db
		s.Events = repository.NewPostgresEventRepository(db.Pool())
		s.Registrations = repository.NewPostgresRegistrationRepository(db.Pool())

	case config.StoreSQLite:
		db, err := database.OpenSQLite(ctx, cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		s.sqlite = db
		s.Events = repository.NewSQLiteEventRepository(db.DB())
		s.Registrations = repository.NewSQLiteRegistrationRepository(db.DB())

	case config.StoreMemory:
		events := repository.NewMemoryEventRepository()
		s.Events = events
		s.Registrations = repository.NewMemoryRegistrationRepository(events)

	default:
		return nil, fmt.Errorf("unknown registration store %q", cfg.Registration.Store)
	}

	return s, nil
}

// Migrate applies the embedded schema migrations and returns the versions
// it applied. The memory store has no schema.
func (s *Store) Migrate(ctx context.Context) ([]string, error) {
	switch {
	case s.postgres != nil:
		migrations, err := repository.PostgresMigrations()
		if err != nil {
			return nil, err
		}
		return database.MigratePostgres(ctx, s.postgres.Pool(), migrations)
	case s.sqlite != nil:
		migrations, err := repository.SQLiteMigrations()
		if err != nil {
			return nil, err
		}
		return database.MigrateSQLite(ctx, s.sqlite.DB(), migrations)
	}
	return nil, nil
}

// Checker returns the database health checker, or nil for the memory store
func (s *Store) Checker() HealthChecker {
	switch {
	case s.postgres != nil:
		return s.postgres
	case s.sqlite != nil:
		return s.sqlite
	}
	return nil
}

// Close releases the database connection
func (s *Store) Close() {
	if s.postgres != nil {
		s.postgres.Close()
	}
	if s.sqlite != nil {
		_ = s.sqlite.Close()
	}
}

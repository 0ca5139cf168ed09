package repository

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prohmpiriya/campus-registration/pkg/database"
)

func skipIfNoIntegration(t *testing.T) {
	if os.Getenv("INTEGRATION_TEST") != "true" {
		t.Skip("Skipping integration test. Set INTEGRATION_TEST=true to run")
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getPostgresPool creates a migrated PostgreSQL pool for testing
func getPostgresPool(t *testing.T) *pgxpool.Pool {
	skipIfNoIntegration(t)

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		envOr("TEST_POSTGRES_USER", "postgres"),
		envOr("TEST_POSTGRES_PASSWORD", "postgres"),
		envOr("TEST_POSTGRES_HOST", "localhost"),
		envOr("TEST_POSTGRES_PORT", "5432"),
		envOr("TEST_POSTGRES_DB", "registration_test"),
	)

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatalf("Failed to create PostgreSQL pool: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		t.Fatalf("Failed to ping PostgreSQL: %v", err)
	}

	migrations, err := PostgresMigrations()
	if err != nil {
		t.Fatalf("Failed to load migrations: %v", err)
	}
	if _, err := database.MigratePostgres(ctx, pool, migrations); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}

	t.Cleanup(func() {
		cleanupTestData(t, pool)
		pool.Close()
	})
	return pool
}

func cleanupTestData(t *testing.T, pool *pgxpool.Pool) {
	// Registrations cascade with their event.
	if _, err := pool.Exec(context.Background(), "DELETE FROM events WHERE id LIKE 'test-%'"); err != nil {
		t.Logf("Warning: failed to clean up events: %v", err)
	}
}

func TestPostgresRepositories(t *testing.T) {
	skipIfNoIntegration(t)

	runRepositoryContract(t, func(t *testing.T) (EventRepository, RegistrationRepository) {
		pool := getPostgresPool(t)
		return NewPostgresEventRepository(pool), NewPostgresRegistrationRepository(pool)
	})
}

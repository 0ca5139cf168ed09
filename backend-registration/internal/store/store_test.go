package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/prohmpiriya/campus-registration/backend-registration/internal/domain"
	"github.com/prohmpiriya/campus-registration/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_Memory(t *testing.T) {
	cfg := &config.Config{Registration: config.RegistrationConfig{Store: config.StoreMemory}}

	s, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer s.Close()

	assert.Nil(t, s.Checker())
	applied, err := s.Migrate(context.Background())
	require.NoError(t, err)
	assert.Empty(t, applied)
}

func TestOpen_SQLite(t *testing.T) {
	ctx := context.Background()
	cfg := &config.Config{
		Registration: config.RegistrationConfig{Store: config.StoreSQLite},
		SQLite:       config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "store.db")},
	}

	s, err := Open(ctx, cfg)
	require.NoError(t, err)
	defer s.Close()

	applied, err := s.Migrate(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, applied)

	again, err := s.Migrate(ctx)
	require.NoError(t, err)
	assert.Empty(t, again)

	require.NotNil(t, s.Checker())
	require.NoError(t, s.Checker().HealthCheck(ctx))

	start := time.Now().Add(time.Hour).Truncate(time.Millisecond)
	require.NoError(t, s.Events.Create(ctx, &domain.Event{
		ID: "ev-1", Title: "Open Day", StartDateTime: start, EndDateTime: start.Add(time.Hour),
	}))
	event, err := s.Events.GetByID(ctx, "ev-1")
	require.NoError(t, err)
	assert.Equal(t, "Open Day", event.Title)
}

func TestOpen_Unknown(t *testing.T) {
	_, err := Open(context.Background(), &config.Config{Registration: config.RegistrationConfig{Store: "mongo"}})
	assert.Error(t, err)
}

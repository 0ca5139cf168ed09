package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/prohmpiriya/campus-registration/backend-registration/internal/domain"
	"github.com/prohmpiriya/campus-registration/pkg/telemetry"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"
)

const (
	eventDetailKeyPrefix = "registration:event:"

	// DefaultEventCacheTTL bounds how stale an event snapshot can be
	DefaultEventCacheTTL = 30 * time.Second
)

// CacheClient is the subset of go-redis the event cache uses
type CacheClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// CachedEventRepository wraps EventRepository with Redis caching.
// Concurrent misses for the same event share one store read.
// Only event metadata is cached; registration counts always hit the store.
type CachedEventRepository struct {
	repo  EventRepository
	cache CacheClient
	ttl   time.Duration
	group singleflight.Group
}

// NewCachedEventRepository creates a new CachedEventRepository
func NewCachedEventRepository(repo EventRepository, cache CacheClient, ttl time.Duration) *CachedEventRepository {
	if ttl <= 0 {
		ttl = DefaultEventCacheTTL
	}
	return &CachedEventRepository{
		repo:  repo,
		cache: cache,
		ttl:   ttl,
	}
}

// GetByID retrieves an event by ID with caching
func (r *CachedEventRepository) GetByID(ctx context.Context, id string) (*domain.Event, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.cache.event.get_by_id")
	defer span.End()

	cacheKey := eventDetailKeyPrefix + id
	if cached, err := r.cache.Get(ctx, cacheKey).Result(); err == nil && cached != "" {
		var event domain.Event
		if err := json.Unmarshal([]byte(cached), &event); err == nil {
			span.SetAttributes(attribute.Bool("cache_hit", true))
			return &event, nil
		}
	}
	span.SetAttributes(attribute.Bool("cache_hit", false))

	v, err, _ := r.group.Do(id, func() (interface{}, error) {
		event, err := r.repo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		r.cacheEvent(ctx, cacheKey, event)
		return event, nil
	})
	if err != nil {
		return nil, err
	}

	// Callers sharing a flight must not share the pointer.
	return copyEvent(v.(*domain.Event)), nil
}

// Create creates a new event
func (r *CachedEventRepository) Create(ctx context.Context, event *domain.Event) error {
	if err := r.repo.Create(ctx, event); err != nil {
		return err
	}
	r.invalidate(ctx, event.ID)
	return nil
}

// Delete deletes an event and invalidates its cache entry
func (r *CachedEventRepository) Delete(ctx context.Context, id string) error {
	err := r.repo.Delete(ctx, id)
	// Invalidate even on not found so a stale entry cannot outlive the row.
	if err == nil || errors.Is(err, domain.ErrEventNotFound) {
		r.invalidate(ctx, id)
	}
	return err
}

func (r *CachedEventRepository) cacheEvent(ctx context.Context, key string, event *domain.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	_ = r.cache.Set(ctx, key, string(data), r.ttl).Err()
}

func (r *CachedEventRepository) invalidate(ctx context.Context, id string) {
	_ = r.cache.Del(ctx, eventDetailKeyPrefix+id).Err()
}

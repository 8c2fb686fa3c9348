package contentcache

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"pubpipe/internal/catalog"
	"pubpipe/internal/config"
	"pubpipe/internal/services"
)

// Service refreshes cached release content.
type Service interface {
	Refresh(ctx context.Context, rv catalog.ReleaseVersion) error
}

// Setter is the subset of the Redis client used by the cache.
type Setter interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// Snapshot is the cached representation of a release version.
type Snapshot struct {
	ReleaseVersionID string    `json:"release_version_id"`
	PublicationID    string    `json:"publication_id"`
	PublicationSlug  string    `json:"publication_slug"`
	ReleaseSlug      string    `json:"release_slug"`
	DataSetVersions  []string  `json:"data_set_versions,omitempty"`
	GeneratedAt      time.Time `json:"generated_at"`
}

// NewConfiguredService returns the backend selected by cfg. The returned
// close function releases the Redis connection pool.
func NewConfiguredService(cfg *config.Config) (Service, func() error) {
	if cfg == nil || cfg.ContentCache.Backend != config.ContentCacheRedis {
		return NoopService{}, func() error { return nil }
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.ContentCache.RedisAddr})
	ttl := time.Duration(cfg.ContentCache.TTLHours) * time.Hour
	return NewRedisService(client, cfg.ContentCache.KeyPrefix, ttl), client.Close
}

// RedisService stores snapshots in Redis.
type RedisService struct {
	client Setter
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisService builds a Redis-backed cache using client.
func NewRedisService(client Setter, prefix string, ttl time.Duration) *RedisService {
	return &RedisService{
		client: client,
		prefix: strings.TrimSuffix(strings.TrimSpace(prefix), ":"),
		ttl:    ttl,
		now:    time.Now,
	}
}

// ReleaseKey returns the key holding the snapshot of one release.
func (s *RedisService) ReleaseKey(publicationSlug, releaseSlug string) string {
	return s.key("publication", publicationSlug, "release", releaseSlug)
}

// LatestKey returns the key naming a publication's latest release.
func (s *RedisService) LatestKey(publicationSlug string) string {
	return s.key("publication", publicationSlug, "latest")
}

func (s *RedisService) key(parts ...string) string {
	if s.prefix == "" {
		return strings.Join(parts, ":")
	}
	return s.prefix + ":" + strings.Join(parts, ":")
}

// Refresh implements Service.
func (s *RedisService) Refresh(ctx context.Context, rv catalog.ReleaseVersion) error {
	snapshot := Snapshot{
		ReleaseVersionID: rv.ID.String(),
		PublicationID:    rv.PublicationID.String(),
		PublicationSlug:  rv.PublicationSlug,
		ReleaseSlug:      rv.ReleaseSlug,
		GeneratedAt:      s.now().UTC(),
	}
	for _, id := range rv.DataSetVersionIDs {
		snapshot.DataSetVersions = append(snapshot.DataSetVersions, id.String())
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return services.Wrap(services.ErrValidation, "content-cache", "encode snapshot", rv.ID.String(), err)
	}
	releaseKey := s.ReleaseKey(rv.PublicationSlug, rv.ReleaseSlug)
	if err := s.client.Set(ctx, releaseKey, payload, s.ttl).Err(); err != nil {
		return services.Wrap(services.ErrTransient, "content-cache", "set", releaseKey, err)
	}
	latestKey := s.LatestKey(rv.PublicationSlug)
	if err := s.client.Set(ctx, latestKey, releaseKey, s.ttl).Err(); err != nil {
		return services.Wrap(services.ErrTransient, "content-cache", "set", latestKey, err)
	}
	return nil
}

// NoopService accepts every refresh without doing anything.
type NoopService struct{}

// Refresh implements Service.
func (NoopService) Refresh(context.Context, catalog.ReleaseVersion) error { return nil }

var _ Service = (*RedisService)(nil)

package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pipewatch/pipewatch/internal/connectors"
	"github.com/pipewatch/pipewatch/pkg/errors"
	"github.com/pipewatch/pipewatch/pkg/logging"
)

// DefaultSchemaTTL is how long a listed schema stays fresh. Table sets
// change rarely, so listing once per TTL keeps catalog queries off the
// sources' hot path.
const DefaultSchemaTTL = 15 * time.Minute

// SchemaCache caches each source's table listing in Redis
type SchemaCache struct {
	redis  *RedisClient
	ttl    time.Duration
	logger *logrus.Entry
}

// NewSchemaCache creates a schema cache with the given TTL
func NewSchemaCache(redis *RedisClient, ttl time.Duration) *SchemaCache {
	if ttl <= 0 {
		ttl = DefaultSchemaTTL
	}
	return &SchemaCache{
		redis:  redis,
		ttl:    ttl,
		logger: logging.GetLogger().WithComponent("cache.schema"),
	}
}

func schemaKey(connector string) string {
	return fmt.Sprintf("pipewatch:schema:%s", connector)
}

// ListTables returns the connector's tables, serving from cache when fresh.
// A cache read failure falls through to the source rather than failing the
// caller.
func (s *SchemaCache) ListTables(ctx context.Context, conn connectors.Connector) ([]connectors.TableInfo, error) {
	key := schemaKey(conn.Name())

	var cached []connectors.TableInfo
	err := s.redis.GetJSON(ctx, key, &cached)
	if err == nil {
		return cached, nil
	}
	if !errors.IsNotFound(err) {
		s.logger.WithError(err).WithField("connector", conn.Name()).Warn("Schema cache read failed, querying source")
	}

	tables, err := conn.ListTables(ctx)
	if err != nil {
		return nil, err
	}

	if err := s.redis.SetJSON(ctx, key, tables, s.ttl); err != nil {
		s.logger.WithError(err).WithField("connector", conn.Name()).Warn("Schema cache write failed")
	}

	return tables, nil
}

// Invalidate drops a connector's cached listing
func (s *SchemaCache) Invalidate(ctx context.Context, connector string) error {
	return s.redis.Delete(ctx, schemaKey(connector))
}

package artifact

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Pulkitjakhmola/custlysis/internal/segmentation"
)

// RedisClient is the subset of the go-redis client used by RedisStore.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// RedisStore keeps the model under a single key. SET replaces the value
// atomically, so concurrent readers see either the old or the new model.
type RedisStore struct {
	client RedisClient
	key    string
	logger *zap.Logger
}

func NewRedisStore(client RedisClient, key string, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{client: client, key: key, logger: logger}
}

// NewRedisClient connects to addr and pings it.
func NewRedisClient(ctx context.Context, addr, password string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: connecting to redis at %s: %v", segmentation.ErrArtifactIO, addr, err)
	}
	return client, nil
}

func (s *RedisStore) Save(ctx context.Context, m *segmentation.Model) error {
	data, err := Encode(m)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("%w: writing redis key %s: %v", segmentation.ErrArtifactIO, s.key, err)
	}
	s.logger.Info("model artifact saved", zap.String("redis_key", s.key), zap.String("model_version", m.Version))
	return nil
}

func (s *RedisStore) Load(ctx context.Context) (*segmentation.Model, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: no model under redis key %s", segmentation.ErrModelNotTrained, s.key)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading redis key %s: %v", segmentation.ErrArtifactIO, s.key, err)
	}
	return Decode(data)
}

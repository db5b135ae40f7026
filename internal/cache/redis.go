package cache

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// RedisStore keeps cached responses in Redis so multiple instances behind a
// load balancer share one page cache. Tag membership is tracked with sets;
// invalidation deletes the member keys and the set in one round trip.
type RedisStore struct {
	client *redis.Client
	prefix string

	hits          atomic.Int64
	misses        atomic.Int64
	invalidations atomic.Int64

	metrics *Metrics
}

type redisEnvelope struct {
	Value       []byte    `json:"v"`
	ContentType string    `json:"ct,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	StoredAt    time.Time `json:"at"`
}

// NewRedisStore connects to the Redis described by url (redis://...) and
// verifies the connection with a ping.
func NewRedisStore(url, prefix string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	if prefix == "" {
		prefix = "presshub"
	}
	return &RedisStore{client: client, prefix: prefix}, nil
}

// WithMetrics attaches Prometheus metrics and returns the store.
func (r *RedisStore) WithMetrics(metrics *Metrics) *RedisStore {
	r.metrics = metrics
	return r
}

func (r *RedisStore) entryKey(key string) string { return r.prefix + ":entry:" + key }
func (r *RedisStore) tagKey(tag string) string   { return r.prefix + ":tag:" + tag }

func (r *RedisStore) Get(ctx context.Context, key string) (*Entry, bool) {
	payload, err := r.client.Get(ctx, r.entryKey(key)).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.WithError(err).Debug("redis cache get failed")
		}
		r.miss()
		return nil, false
	}
	var env redisEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		r.miss()
		return nil, false
	}
	r.hits.Add(1)
	if r.metrics != nil {
		r.metrics.Hits.Inc()
	}
	return &Entry{
		Value:       env.Value,
		ContentType: env.ContentType,
		Tags:        env.Tags,
		StoredAt:    env.StoredAt,
	}, true
}

func (r *RedisStore) miss() {
	r.misses.Add(1)
	if r.metrics != nil {
		r.metrics.Misses.Inc()
	}
}

func (r *RedisStore) Set(ctx context.Context, key string, entry *Entry, ttl time.Duration) {
	if entry == nil {
		return
	}
	entry.StoredAt = time.Now()
	payload, err := json.Marshal(redisEnvelope{
		Value:       entry.Value,
		ContentType: entry.ContentType,
		Tags:        entry.Tags,
		StoredAt:    entry.StoredAt,
	})
	if err != nil {
		return
	}
	expiry := ttl
	if expiry < 0 {
		expiry = 0
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.entryKey(key), payload, expiry)
	for _, tag := range entry.Tags {
		pipe.SAdd(ctx, r.tagKey(tag), key)
		if expiry > 0 {
			// Tag sets outlive their entries by a day so stale members are
			// eventually reclaimed even without an explicit invalidation.
			pipe.Expire(ctx, r.tagKey(tag), expiry+24*time.Hour)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		log.WithError(err).Debug("redis cache set failed")
		return
	}
	if r.metrics != nil {
		r.metrics.Sets.Inc()
	}
}

func (r *RedisStore) Delete(ctx context.Context, key string) {
	if err := r.client.Del(ctx, r.entryKey(key)).Err(); err != nil {
		log.WithError(err).Debug("redis cache delete failed")
	}
}

func (r *RedisStore) InvalidateTag(ctx context.Context, tag string) int {
	keys, err := r.client.SMembers(ctx, r.tagKey(tag)).Result()
	if err != nil && err != redis.Nil {
		log.WithError(err).Warn("redis cache invalidate failed")
		return 0
	}
	if len(keys) == 0 {
		r.client.Del(ctx, r.tagKey(tag))
		return 0
	}

	targets := make([]string, 0, len(keys)+1)
	for _, key := range keys {
		targets = append(targets, r.entryKey(key))
	}
	targets = append(targets, r.tagKey(tag))

	deleted, err := r.client.Del(ctx, targets...).Result()
	if err != nil {
		log.WithError(err).Warn("redis cache invalidate failed")
		return 0
	}
	// The tag set itself counts toward the Del result.
	if deleted > 0 {
		deleted--
	}
	if deleted > 0 {
		r.invalidations.Add(deleted)
		if r.metrics != nil {
			r.metrics.Invalidations.Add(float64(deleted))
		}
	}
	return int(deleted)
}

// Purge scans and deletes every key under the store prefix.
func (r *RedisStore) Purge(ctx context.Context) {
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.prefix+":*", 256).Result()
		if err != nil {
			log.WithError(err).Warn("redis cache purge failed")
			return
		}
		if len(keys) > 0 {
			r.client.Del(ctx, keys...)
		}
		cursor = next
		if cursor == 0 {
			return
		}
	}
}

// Stats reports the counters tracked by this process. Entry and byte totals
// live in Redis and are not enumerated here.
func (r *RedisStore) Stats() Stats {
	return Stats{
		Hits:          r.hits.Load(),
		Misses:        r.misses.Load(),
		Invalidations: r.invalidations.Load(),
	}
}

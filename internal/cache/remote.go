package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/klauspost/compress/zstd"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stratacache/stratacache/internal/apperrors"
)

const (
	// defaultKeyPrefix namespaces all cache keys in Redis to avoid collisions.
	defaultKeyPrefix = "strata:"

	// valueNamespace and counterNamespace separate the entry envelope from
	// its access counter under the prefix.
	valueNamespace   = "v:"
	counterNamespace = "n:"
)

// zstdMagic is the zstandard frame header; its presence marks a compressed
// envelope at rest.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// remoteEnvelope is the transport-neutral representation of an entry stored
// in Redis. The value payload is already codec-encoded bytes.
type remoteEnvelope struct {
	Key            string   `json:"key"`
	Value          []byte   `json:"value"`      // codec-encoded payload
	CreatedAt      int64    `json:"created_at"` // unix nanos
	LastAccessedAt int64    `json:"last_accessed_at"`
	AccessCount    int64    `json:"access_count"`
	TTLMillis      int64    `json:"ttl_ms"`
	SizeBytes      int64    `json:"size_bytes"`
	Version        int64    `json:"version"`
	ContentHash    string   `json:"content_hash"`
	Tags           []string `json:"tags,omitempty"`
}

// RemoteConfig holds the configuration needed to create a RedisBackend.
type RemoteConfig struct {
	// Address is the Redis/Valkey server address (e.g., "localhost:6379").
	Address string

	// Password is the password for the Redis/Valkey server.
	Password string

	// DB is the Redis/Valkey database number.
	DB int

	// KeyPrefix namespaces all keys. Defaults to "strata:".
	KeyPrefix string

	// Compression enables zstd compression of envelopes at rest.
	Compression bool

	// Codec serializes entry values. If nil, JSONCodec is used.
	Codec Codec

	// Clock supplies timestamps. If nil, the system clock is used.
	Clock Clock

	// Logger receives diagnostics. Optional.
	Logger zerolog.Logger
}

// RedisBackend implements the tier contract over Redis/Valkey. Every call
// runs under a retry policy and a circuit breaker; a tier that stays down
// trips the breaker so callers fail fast instead of piling onto a dead
// connection. A stored entry that cannot be decoded is treated as a miss,
// logged, and removed best-effort.
type RedisBackend struct {
	client   *redis.Client
	prefix   string
	compress bool
	codec    Codec
	clock    Clock
	logger   zerolog.Logger
	executor failsafe.Executor[any]
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
}

// NewRedisBackend creates a remote tier backed by Redis and verifies
// connectivity before returning.
func NewRedisBackend(cfg RemoteConfig) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Verify connectivity.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	codec := cfg.Codec
	if codec == nil {
		codec = JSONCodec{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock()
	}

	retry := retrypolicy.Builder[any]().
		WithBackoff(50*time.Millisecond, time.Second).
		WithMaxRetries(2).
		Build()
	breaker := circuitbreaker.Builder[any]().
		WithFailureThreshold(5).
		WithDelay(10 * time.Second).
		Build()

	b := &RedisBackend{
		client:   client,
		prefix:   prefix,
		compress: cfg.Compression,
		codec:    codec,
		clock:    clock,
		logger:   cfg.Logger,
		executor: failsafe.NewExecutor[any](retry, breaker),
	}
	if cfg.Compression {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("zstd encoder: %w", err)
		}
		dec, err := zstd.NewReader(nil)
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("zstd decoder: %w", err)
		}
		b.zstdEnc, b.zstdDec = enc, dec
	} else {
		// Decoder is always available: reads must handle envelopes written
		// while compression was enabled.
		dec, err := zstd.NewReader(nil)
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("zstd decoder: %w", err)
		}
		b.zstdDec = dec
	}
	return b, nil
}

func (b *RedisBackend) Tier() Tier { return TierRemote }

func (b *RedisBackend) valueKey(key string) string   { return b.prefix + valueNamespace + key }
func (b *RedisBackend) counterKey(key string) string { return b.prefix + counterNamespace + key }

// run executes op under the backend's retry and circuit-breaker policies and
// maps failures to the transient-tier error taxonomy.
func (b *RedisBackend) run(ctx context.Context, name string, op func() error) error {
	err := b.executor.WithContext(ctx).Run(op)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return apperrors.NewBackendUnavailableError(string(TierRemote), name, err)
}

func (b *RedisBackend) Get(ctx context.Context, key string) (*Entry, bool, error) {
	entry, ok, err := b.fetch(ctx, key, true)
	if err != nil || !ok {
		return nil, false, err
	}
	return entry, true, nil
}

func (b *RedisBackend) Peek(ctx context.Context, key string) (*Entry, bool, error) {
	return b.fetch(ctx, key, false)
}

// fetch loads an entry; touch controls whether access bookkeeping is applied.
func (b *RedisBackend) fetch(ctx context.Context, key string, touch bool) (*Entry, bool, error) {
	var raw []byte
	err := b.run(ctx, "get", func() error {
		data, err := b.client.Get(ctx, b.valueKey(key)).Bytes()
		if errors.Is(err, redis.Nil) {
			raw = nil
			return nil
		}
		if err != nil {
			return err
		}
		raw = data
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if raw == nil {
		return nil, false, nil
	}

	entry, decodeErr := b.decodeEnvelope(key, raw)
	if decodeErr != nil {
		// Corrupt data is a miss, not a failure; drop it so the next write
		// starts clean.
		b.logger.Warn().Err(decodeErr).Str("key", key).Msg("Dropping undecodable remote entry")
		delCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = b.Delete(delCtx, key)
		return nil, false, nil
	}

	now := b.clock.Now()
	if entry.Expired(now) {
		return nil, false, nil
	}

	if touch {
		err := b.run(ctx, "touch", func() error {
			count, err := b.client.Incr(ctx, b.counterKey(key)).Result()
			if err != nil {
				return err
			}
			entry.AccessCount = count
			return nil
		})
		if err != nil {
			// Bookkeeping failure does not invalidate the read.
			b.logger.Debug().Err(err).Str("key", key).Msg("Remote access counter update failed")
		}
		entry.LastAccessedAt = now
	} else {
		var count int64
		err := b.run(ctx, "peek-counter", func() error {
			c, err := b.client.Get(ctx, b.counterKey(key)).Int64()
			if errors.Is(err, redis.Nil) {
				return nil
			}
			if err != nil {
				return err
			}
			count = c
			return nil
		})
		if err == nil && count > entry.AccessCount {
			entry.AccessCount = count
		}
	}
	return entry, true, nil
}

func (b *RedisBackend) decodeEnvelope(key string, raw []byte) (*Entry, error) {
	if bytes.HasPrefix(raw, zstdMagic) {
		decompressed, err := b.zstdDec.DecodeAll(raw, nil)
		if err != nil {
			return nil, &apperrors.ErrCorruptEntry{Key: key, Err: err}
		}
		raw = decompressed
	}

	var env remoteEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &apperrors.ErrCorruptEntry{Key: key, Err: err}
	}
	value, err := b.codec.Decode(env.Value)
	if err != nil {
		return nil, &apperrors.ErrCorruptEntry{Key: key, Err: err}
	}

	return &Entry{
		Key:            env.Key,
		Value:          value,
		CreatedAt:      time.Unix(0, env.CreatedAt),
		LastAccessedAt: time.Unix(0, env.LastAccessedAt),
		AccessCount:    env.AccessCount,
		TTL:            time.Duration(env.TTLMillis) * time.Millisecond,
		SizeBytes:      env.SizeBytes,
		Version:        env.Version,
		ContentHash:    env.ContentHash,
		Tags:           env.Tags,
	}, nil
}

func (b *RedisBackend) Set(ctx context.Context, entry *Entry) error {
	valueBytes, err := b.codec.Encode(entry.Value)
	if err != nil {
		return &apperrors.ErrSerializationFailure{Key: entry.Key, Err: err}
	}

	env := remoteEnvelope{
		Key:            entry.Key,
		Value:          valueBytes,
		CreatedAt:      entry.CreatedAt.UnixNano(),
		LastAccessedAt: entry.LastAccessedAt.UnixNano(),
		AccessCount:    entry.AccessCount,
		TTLMillis:      entry.TTL.Milliseconds(),
		SizeBytes:      entry.SizeBytes,
		Version:        entry.Version,
		ContentHash:    entry.ContentHash,
		Tags:           entry.Tags,
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return &apperrors.ErrSerializationFailure{Key: entry.Key, Err: err}
	}
	if b.compress && b.zstdEnc != nil {
		payload = b.zstdEnc.EncodeAll(payload, nil)
	}

	var expiry time.Duration
	if entry.TTL > 0 {
		expiry = entry.TTL
	}

	return b.run(ctx, "set", func() error {
		// The envelope write and counter reset land atomically so an
		// overwrite never keeps the old entry's access count.
		_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, b.valueKey(entry.Key), payload, expiry)
			pipe.Set(ctx, b.counterKey(entry.Key), entry.AccessCount, expiry)
			return nil
		})
		return err
	})
}

func (b *RedisBackend) Delete(ctx context.Context, key string) (bool, error) {
	var removed bool
	err := b.run(ctx, "delete", func() error {
		n, err := b.client.Del(ctx, b.valueKey(key), b.counterKey(key)).Result()
		if err != nil {
			return err
		}
		removed = n > 0
		return nil
	})
	return removed, err
}

func (b *RedisBackend) Exists(ctx context.Context, key string) (bool, error) {
	var present bool
	err := b.run(ctx, "exists", func() error {
		n, err := b.client.Exists(ctx, b.valueKey(key)).Result()
		if err != nil {
			return err
		}
		present = n > 0
		return nil
	})
	return present, err
}

func (b *RedisBackend) Clear(ctx context.Context) (int, error) {
	keys, err := b.scan(ctx, b.prefix+valueNamespace+"*")
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}

	count := 0
	err = b.run(ctx, "clear", func() error {
		toDelete := make([]string, 0, len(keys)*2)
		for _, vk := range keys {
			toDelete = append(toDelete, vk)
			toDelete = append(toDelete, b.counterKey(strings.TrimPrefix(vk, b.prefix+valueNamespace)))
		}
		if err := b.client.Del(ctx, toDelete...).Err(); err != nil {
			return err
		}
		// Del counts value and counter keys alike; entries are value keys.
		count = len(keys)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (b *RedisBackend) Enumerate(ctx context.Context, pattern string) ([]string, error) {
	if pattern == "" {
		pattern = "*"
	}
	raw, err := b.scan(ctx, b.prefix+valueNamespace+pattern)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		keys = append(keys, strings.TrimPrefix(k, b.prefix+valueNamespace))
	}
	sort.Strings(keys)
	return keys, nil
}

func (b *RedisBackend) Len(ctx context.Context) (int, error) {
	keys, err := b.scan(ctx, b.prefix+valueNamespace+"*")
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// scan walks the keyspace with SCAN so enumeration never blocks the server.
func (b *RedisBackend) scan(ctx context.Context, match string) ([]string, error) {
	var keys []string
	err := b.run(ctx, "scan", func() error {
		keys = keys[:0]
		var cursor uint64
		for {
			batch, next, err := b.client.Scan(ctx, cursor, match, 200).Result()
			if err != nil {
				return err
			}
			keys = append(keys, batch...)
			cursor = next
			if cursor == 0 {
				return nil
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (b *RedisBackend) Close() error {
	if b.zstdEnc != nil {
		_ = b.zstdEnc.Close()
	}
	if b.zstdDec != nil {
		b.zstdDec.Close()
	}
	return b.client.Close()
}

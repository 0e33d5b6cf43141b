package session

import (
	"context"
	"time"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"
)

const redisKeyPrefix = "stagehand:session:"

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// TTL of a record, refreshed on every save. Zero keeps records forever.
	TTL time.Duration
}

// RedisStore keeps JSON encoded records under stagehand:session:<id>.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(opts RedisOptions) (*RedisStore, error) {
	if opts.Addr == "" {
		return nil, errors.New("redis session store: empty address")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping().Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "redis session store: ping %s", opts.Addr)
	}
	return NewRedisStoreFromClient(client, opts.TTL), nil
}

func NewRedisStoreFromClient(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func redisKey(sessionID string) string {
	return redisKeyPrefix + sessionID
}

func (r *RedisStore) Load(ctx context.Context, sessionID string) (*Record, bool, error) {
	payload, err := r.client.WithContext(ctx).Get(redisKey(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, r.wrap(err, "load session %s", sessionID)
	}
	rec, err := decodeRecord(payload)
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

func (r *RedisStore) Save(ctx context.Context, record *Record) error {
	if err := validateRecord(record); err != nil {
		return err
	}
	payload, err := encodeRecord(stamp(record))
	if err != nil {
		return err
	}
	if err := r.client.WithContext(ctx).Set(redisKey(record.SessionID), payload, r.ttl).Err(); err != nil {
		return r.wrap(err, "save session %s", record.SessionID)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := r.client.WithContext(ctx).Del(redisKey(sessionID)).Err(); err != nil {
		return r.wrap(err, "delete session %s", sessionID)
	}
	return nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) wrap(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

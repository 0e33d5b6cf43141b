// Package session persists the state processors hand back to the host
// between invocations. A session is identified by an opaque ID chosen by the
// caller and holds the state of one processor identity.
package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrStoreClosed      = errors.New("session store is closed")
	ErrIdentityMismatch = errors.New("session belongs to another processor")
)

type Record struct {
	SessionID string                 `json:"session_id" yaml:"session_id"`
	Identity  string                 `json:"identity" yaml:"identity"`
	State     map[string]interface{} `json:"state" yaml:"state"`
	UpdatedAt time.Time              `json:"updated_at" yaml:"updated_at"`
}

type Store interface {
	// Load returns the record for sessionID. The boolean is false when no
	// record exists.
	Load(ctx context.Context, sessionID string) (*Record, bool, error)
	Save(ctx context.Context, record *Record) error
	Delete(ctx context.Context, sessionID string) error
	Close() error
}

const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
	BackendRedis  = "redis"
)

type Config struct {
	Backend string `yaml:"backend" mapstructure:"backend"`
	// DSN of the sqlite database.
	DSN string `yaml:"dsn" mapstructure:"dsn"`
	// Path of the bolt database file.
	Path      string        `yaml:"path" mapstructure:"path"`
	RedisAddr string        `yaml:"redis-addr" mapstructure:"redis-addr"`
	RedisDB   int           `yaml:"redis-db" mapstructure:"redis-db"`
	TTL       time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

// Open creates the store selected by config.Backend. An empty backend selects
// the in-memory store.
func Open(config Config) (Store, error) {
	switch config.Backend {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendSQLite:
		return NewSQLiteStore(config.DSN)
	case BackendBolt:
		return NewBoltStore(config.Path)
	case BackendRedis:
		return NewRedisStore(RedisOptions{Addr: config.RedisAddr, DB: config.RedisDB, TTL: config.TTL})
	default:
		return nil, errors.Errorf("unknown session backend %q", config.Backend)
	}
}

func validateRecord(record *Record) error {
	if record == nil {
		return errors.New("session record is nil")
	}
	if record.SessionID == "" {
		return errors.New("session record without session id")
	}
	return nil
}

func encodeRecord(record *Record) ([]byte, error) {
	b, err := json.Marshal(record)
	if err != nil {
		return nil, errors.Wrapf(err, "encode session %s", record.SessionID)
	}
	return b, nil
}

func decodeRecord(b []byte) (*Record, error) {
	ret := &Record{}
	if err := json.Unmarshal(b, ret); err != nil {
		return nil, errors.Wrap(err, "decode session record")
	}
	if ret.State == nil {
		ret.State = map[string]interface{}{}
	}
	return ret, nil
}

func stamp(record *Record) *Record {
	ret := *record
	if ret.UpdatedAt.IsZero() {
		ret.UpdatedAt = time.Now().UTC()
	}
	return &ret
}

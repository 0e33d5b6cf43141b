package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStores(t *testing.T) map[string]Store {
	dir := t.TempDir()

	sqliteStore, err := NewSQLiteStore(filepath.Join(dir, "sessions.sqlite"))
	require.NoError(t, err)
	boltStore, err := NewBoltStore(filepath.Join(dir, "nested", "sessions.bolt"))
	require.NoError(t, err)

	ret := map[string]Store{
		BackendMemory: NewMemoryStore(),
		BackendSQLite: sqliteStore,
		BackendBolt:   boltStore,
	}
	if addr := os.Getenv("STAGEHAND_TEST_REDIS_ADDR"); addr != "" {
		redisStore, err := NewRedisStore(RedisOptions{Addr: addr, TTL: time.Minute})
		require.NoError(t, err)
		ret[BackendRedis] = redisStore
	}
	return ret
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			id := "session-" + name
			_, ok, err := s.Load(ctx, id)
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.Save(ctx, &Record{
				SessionID: id,
				Identity:  "replicate/generic",
				State:     map[string]interface{}{"last_prediction_id": "p1"},
			}))

			r, ok, err := s.Load(ctx, id)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "replicate/generic", r.Identity)
			assert.Equal(t, "p1", r.State["last_prediction_id"])
			assert.False(t, r.UpdatedAt.IsZero())

			require.NoError(t, s.Save(ctx, &Record{
				SessionID: id,
				Identity:  "replicate/generic",
				State:     map[string]interface{}{"last_prediction_id": "p2"},
			}))
			r, _, err = s.Load(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, "p2", r.State["last_prediction_id"])

			require.NoError(t, s.Delete(ctx, id))
			_, ok, err = s.Load(ctx, id)
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.Close())
		})
	}
}

func TestClosedStore(t *testing.T) {
	ctx := context.Background()
	for name, s := range testStores(t) {
		if name == BackendRedis {
			continue
		}
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Close())
			_, _, err := s.Load(ctx, "x")
			assert.True(t, errors.Is(err, ErrStoreClosed), "%v", err)
			err = s.Save(ctx, &Record{SessionID: "x"})
			assert.True(t, errors.Is(err, ErrStoreClosed), "%v", err)
		})
	}
}

func TestMemoryStoreCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	state := map[string]interface{}{"history": []interface{}{"a"}}
	require.NoError(t, s.Save(ctx, &Record{SessionID: "s", State: state}))
	state["history"] = []interface{}{"mutated"}

	r, ok, err := s.Load(ctx, "s")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []interface{}{"a"}, r.State["history"])

	r.State["history"] = "changed"
	again, _, err := s.Load(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"a"}, again.State["history"])
}

func TestSaveRejectsEmptyID(t *testing.T) {
	assert.Error(t, NewMemoryStore().Save(context.Background(), &Record{}))
	assert.Error(t, NewMemoryStore().Save(context.Background(), nil))
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(Config{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = Open(Config{Backend: BackendSQLite, DSN: filepath.Join(dir, "a.sqlite")})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())

	s, err = Open(Config{Backend: BackendBolt, Path: filepath.Join(dir, "a.bolt")})
	require.NoError(t, err)
	assert.IsType(t, &BoltStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open(Config{Backend: "etcd"})
	assert.Error(t, err)
	_, err = Open(Config{Backend: BackendSQLite})
	assert.Error(t, err)
}

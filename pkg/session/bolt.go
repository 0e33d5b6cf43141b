package session

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	bolt "go.etcd.io/bbolt"
)

const DefaultBoltTimeout = 1 * time.Second

var sessionBucket = []byte("sessions")

// BoltStore keeps JSON encoded records in a single bbolt bucket.
type BoltStore struct {
	db   *bolt.DB
	path string
}

var _ Store = (*BoltStore)(nil)

func NewBoltStore(path string) (*BoltStore, error) {
	if path == "" {
		return nil, errors.New("bolt session store: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Wrap(err, "bolt session store: create directory")
	}

	log.Debug().Str("path", path).Msg("Opening bolt session store")
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: DefaultBoltTimeout})
	if err != nil {
		return nil, errors.Wrapf(err, "open bolt database %s", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sessionBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "bolt session store: create bucket")
	}
	return &BoltStore{db: db, path: path}, nil
}

func (b *BoltStore) Load(_ context.Context, sessionID string) (*Record, bool, error) {
	var payload []byte
	err := b.view(func(tx *bolt.Tx) error {
		v := tx.Bucket(sessionBucket).Get([]byte(sessionID))
		if v != nil {
			// v is only valid during the transaction
			payload = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if payload == nil {
		return nil, false, nil
	}
	r, err := decodeRecord(payload)
	if err != nil {
		return nil, false, err
	}
	return r, true, nil
}

func (b *BoltStore) Save(_ context.Context, record *Record) error {
	if err := validateRecord(record); err != nil {
		return err
	}
	payload, err := encodeRecord(stamp(record))
	if err != nil {
		return err
	}
	return b.update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionBucket).Put([]byte(record.SessionID), payload)
	})
}

func (b *BoltStore) Delete(_ context.Context, sessionID string) error {
	return b.update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionBucket).Delete([]byte(sessionID))
	})
}

func (b *BoltStore) Close() error {
	log.Debug().Str("path", b.path).Msg("Closing bolt session store")
	return b.db.Close()
}

func (b *BoltStore) view(f func(tx *bolt.Tx) error) error {
	err := b.db.View(f)
	if errors.Is(err, bolt.ErrDatabaseNotOpen) {
		return ErrStoreClosed
	}
	return err
}

func (b *BoltStore) update(f func(tx *bolt.Tx) error) error {
	err := b.db.Update(f)
	if errors.Is(err, bolt.ErrDatabaseNotOpen) {
		return ErrStoreClosed
	}
	return err
}

package storekv

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	goerrors "github.com/go-errors/errors"
	bolt "go.etcd.io/bbolt"
)

const (
	boltFileName    = "mutinynm.db"
	boltFilePerm    = 0600
	rootBucketName  = "root"
	dbVersionLatest = 1
)

var rootBucket = []byte(rootBucketName)

// BoltStore is the default Store implementation, generalized from the
// teacher's channeldb.Open: a single top-level bucket holding arbitrary
// namespaced keys rather than channeldb's fixed per-feature buckets.
type BoltStore struct {
	mu   sync.Mutex
	db   *bolt.DB
	path string
}

// OpenBolt opens (creating if absent) a bbolt-backed store rooted at
// dbPath, matching the teacher's create-if-missing, open-otherwise flow.
func OpenBolt(dbPath string) (*BoltStore, error) {
	if err := os.MkdirAll(dbPath, 0700); err != nil {
		return nil, goerrors.Wrap(err, 1)
	}

	path := filepath.Join(dbPath, boltFileName)
	db, err := bolt.Open(path, boltFilePerm, nil)
	if err != nil {
		return nil, goerrors.Wrap(err, 1)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(rootBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, goerrors.Wrap(err, 1)
	}

	return &BoltStore{db: db, path: path}, nil
}

func (b *BoltStore) Get(key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db == nil {
		return nil, fmt.Errorf("storekv: bolt store not connected")
	}

	var out []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(rootBucket).Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *BoltStore) Put(key string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db == nil {
		return fmt.Errorf("storekv: bolt store not connected")
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(rootBucket).Put([]byte(key), value)
	})
}

func (b *BoltStore) Delete(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db == nil {
		return fmt.Errorf("storekv: bolt store not connected")
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(rootBucket).Delete([]byte(key))
	})
}

func (b *BoltStore) ForEach(fn func(key string, value []byte) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db == nil {
		return fmt.Errorf("storekv: bolt store not connected")
	}

	return b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(rootBucket).ForEach(func(k, v []byte) error {
			return fn(string(k), append([]byte(nil), v...))
		})
	})
}

func (b *BoltStore) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.db != nil
}

func (b *BoltStore) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	return err
}

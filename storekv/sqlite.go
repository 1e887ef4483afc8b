package storekv

import (
	"database/sql"
	"path/filepath"
	"sync"

	goerrors "github.com/go-errors/errors"

	_ "modernc.org/sqlite"
)

// SQLiteStore is an alternate Store implementation backed by
// modernc.org/sqlite. It exists to prove storekv.Store is genuinely
// storage-agnostic: storekv's tests write the same entries to one of
// these and to a BoltStore and check both return the same values, the
// way the teacher supports multiple channeldb backends
// (bolt, Postgres, etcd) behind one kvdb.Backend interface.
type SQLiteStore struct {
	mu sync.Mutex
	db *sql.DB
}

// OpenSQLite opens (creating if absent) a SQLite-backed store at
// dbPath/mutinynm.sqlite.
func OpenSQLite(dbPath string) (*SQLiteStore, error) {
	path := filepath.Join(dbPath, "mutinynm.sqlite")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, goerrors.Wrap(err, 1)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS kv (
		key   TEXT PRIMARY KEY,
		value BLOB NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, goerrors.Wrap(err, 1)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil, goerrors.New("storekv: sqlite store not connected")
	}

	var value []byte
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, goerrors.Wrap(err, 1)
	}
	return value, nil
}

func (s *SQLiteStore) Put(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return goerrors.New("storekv: sqlite store not connected")
	}

	_, err := s.db.Exec(
		`INSERT INTO kv (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return goerrors.Wrap(err, 1)
	}
	return nil
}

func (s *SQLiteStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return goerrors.New("storekv: sqlite store not connected")
	}

	_, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, key)
	if err != nil {
		return goerrors.Wrap(err, 1)
	}
	return nil
}

func (s *SQLiteStore) ForEach(fn func(key string, value []byte) error) error {
	s.mu.Lock()
	if s.db == nil {
		s.mu.Unlock()
		return goerrors.New("storekv: sqlite store not connected")
	}

	rows, err := s.db.Query(`SELECT key, value FROM kv`)
	s.mu.Unlock()
	if err != nil {
		return goerrors.Wrap(err, 1)
	}
	defer rows.Close()

	type pair struct {
		key   string
		value []byte
	}
	var pairs []pair
	for rows.Next() {
		var p pair
		if err := rows.Scan(&p.key, &p.value); err != nil {
			return goerrors.Wrap(err, 1)
		}
		pairs = append(pairs, p)
	}
	if err := rows.Err(); err != nil {
		return goerrors.Wrap(err, 1)
	}

	for _, p := range pairs {
		if err := fn(p.key, p.value); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db != nil
}

func (s *SQLiteStore) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

package storage

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/ethdb/leveldb"
	"github.com/ethereum/go-ethereum/triedb"
)

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("storage: key not found")

// Database is a generic interface for a key-value store.
// This allows the broker to use any database backend (in-memory or persistent)
// while sharing a single trie database with the authenticated ledger.
type Database interface {
	Put(key []byte, value []byte) error
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	Delete(key []byte) error
	TrieDB() *triedb.Database
	Close() // A way to gracefully shut down the database connection.
}

type store struct {
	disk   ethdb.Database
	trieDB *triedb.Database
	once   sync.Once
}

func newStore(disk ethdb.Database) *store {
	return &store{
		disk:   disk,
		trieDB: triedb.NewDatabase(disk, triedb.HashDefaults),
	}
}

func (s *store) Put(key []byte, value []byte) error {
	return s.disk.Put(key, value)
}

func (s *store) Get(key []byte) ([]byte, error) {
	ok, err := s.disk.Has(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return s.disk.Get(key)
}

func (s *store) Has(key []byte) (bool, error) {
	return s.disk.Has(key)
}

func (s *store) Delete(key []byte) error {
	return s.disk.Delete(key)
}

// TrieDB returns the trie database sharing the same backing store.
func (s *store) TrieDB() *triedb.Database {
	return s.trieDB
}

func (s *store) Close() {
	s.once.Do(func() {
		_ = s.trieDB.Close()
		_ = s.disk.Close()
	})
}

// --- In-Memory DB (for testing) ---

// MemDB keeps all data in process memory.
type MemDB struct {
	*store
}

func NewMemDB() *MemDB {
	return &MemDB{store: newStore(rawdb.NewMemoryDatabase())}
}

// --- Persistent DB ---

// LevelDB is a persistent key-value store using LevelDB.
type LevelDB struct {
	*store
}

// NewLevelDB creates or opens a LevelDB database at the specified path.
func NewLevelDB(path string) (*LevelDB, error) {
	kv, err := leveldb.New(path, 16, 16, "broker/db/", false)
	if err != nil {
		return nil, err
	}
	return &LevelDB{store: newStore(rawdb.NewDatabase(kv))}, nil
}

// ABOUTME: Database connection management and initialization
// ABOUTME: Handles opening the SQLite backend with WAL mode and a single connection
package db

import (
	"database/sql"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/openpanel-ng/corestore/models"
)

// Store owns the physical schema and the single backend connection. All
// statement execution is serialized through it; see executor.go. Managers
// (per-session views carrying an acting identity) share one Store.
type Store struct {
	conn *sql.DB
	log  *zap.Logger

	// mu is the critical section around the backend connection. No two
	// statements ever run concurrently against it.
	mu sync.Mutex

	// slowdown, when set, runs while mu is held before each statement.
	// Test hook for the serialization contract.
	slowdown func(query string)

	// read-mostly metadata caches, invalidated only by process restart
	// (and by class re-registration, which replaces the local id anyway)
	cacheMu    sync.RWMutex
	classDefs  map[int64]*models.ClassDefinition
	classNames map[int64]string
	classIDs   map[string]int64
}

// Open opens (creating if needed) the store database at path. Pass ":memory:"
// for an ephemeral instance, e.g. from tests.
func Open(path string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, ErrInitFailed.Wrap(err)
		}
		path += "?_journal_mode=WAL"
	}

	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, ErrInitFailed.Wrap(err)
	}

	// Single shared connection; the executor's mutex does the real
	// serialization, this keeps database/sql from opening more.
	conn.SetMaxOpenConns(1)

	if err := InitSchema(conn); err != nil {
		_ = conn.Close()
		return nil, ErrInitFailed.Wrap(err)
	}

	s := &Store{
		conn:       conn,
		log:        log,
		classDefs:  make(map[int64]*models.ClassDefinition),
		classNames: make(map[int64]string),
		classIDs:   make(map[string]int64),
	}
	return s, nil
}

// Close closes the backend connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) cachedClassName(id int64) (string, bool) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	name, ok := s.classNames[id]
	return name, ok
}

func (s *Store) cachedClassDef(id int64) (*models.ClassDefinition, bool) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	def, ok := s.classDefs[id]
	return def, ok
}

func (s *Store) cacheClassName(id int64, name string) {
	s.cacheMu.Lock()
	s.classNames[id] = name
	s.cacheMu.Unlock()
}

func (s *Store) cacheClassDef(id int64, def *models.ClassDefinition) {
	s.cacheMu.Lock()
	s.classDefs[id] = def
	s.cacheMu.Unlock()
}

func (s *Store) cachedClassID(name string) (int64, bool) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	id, ok := s.classIDs[name]
	return id, ok
}

func (s *Store) cacheClassID(name string, id int64) {
	s.cacheMu.Lock()
	s.classIDs[name] = id
	s.cacheMu.Unlock()
}

func (s *Store) dropClassCaches(id int64) {
	s.cacheMu.Lock()
	delete(s.classDefs, id)
	if name, ok := s.classNames[id]; ok {
		delete(s.classIDs, name)
	}
	delete(s.classNames, id)
	s.cacheMu.Unlock()
}

// Package store persists conversation memory in SQLite: turns, emotional
// readings, durable user memories, session facts, summaries, and the
// embedding index used for semantic recall.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"attune/internal/embedding"
)

// LocalStore is the single SQLite-backed store for all memory tiers.
// It implements TurnStore, ReadingStore, FactStore, SummaryStore, and
// VectorSearcher from internal/types.
type LocalStore struct {
	db        *sql.DB
	mu        sync.RWMutex
	dbPath    string
	engine    embedding.Engine // optional, nil disables semantic indexing
	vectorExt bool             // sqlite-vec vec0 available
	logger    *zap.Logger
}

// NewLocalStore opens (or creates) the SQLite database at path. Pass
// ":memory:" for an ephemeral store. The embedding engine may be nil;
// without it vectors are stored unindexed and search returns nothing.
func NewLocalStore(path string, engine embedding.Engine, logger *zap.Logger) (*LocalStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logger.Debug("failed to set sqlite busy_timeout", zap.Error(err))
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logger.Debug("failed to set sqlite journal_mode=WAL", zap.Error(err))
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logger.Debug("failed to set sqlite synchronous=NORMAL", zap.Error(err))
	}

	s := &LocalStore{db: db, dbPath: path, engine: engine, logger: logger}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	s.detectVecExtension()
	if s.vectorExt {
		logger.Info("sqlite-vec extension detected and enabled")
	} else {
		logger.Debug("sqlite-vec extension not available, using in-process similarity")
	}

	return s, nil
}

// initialize creates the required tables.
func (s *LocalStore) initialize() error {
	turnsTable := `
	CREATE TABLE IF NOT EXISTS turns (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		speaker TEXT NOT NULL,
		text TEXT NOT NULL,
		stage INTEGER NOT NULL DEFAULT 0,
		intensity REAL NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, created_at);
	`

	readingsTable := `
	CREATE TABLE IF NOT EXISTS readings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		intensity REAL NOT NULL,
		tone TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_readings_session ON readings(session_id, created_at);
	`

	memoriesTable := `
	CREATE TABLE IF NOT EXISTS user_memories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		key TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		UNIQUE(user_id, key)
	);
	CREATE INDEX IF NOT EXISTS idx_memories_user ON user_memories(user_id);
	`

	factsTable := `
	CREATE TABLE IF NOT EXISTS session_facts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		UNIQUE(session_id, content)
	);
	CREATE INDEX IF NOT EXISTS idx_facts_session ON session_facts(session_id);
	`

	summariesTable := `
	CREATE TABLE IF NOT EXISTS session_summaries (
		session_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		summary TEXT NOT NULL,
		themes TEXT,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_summaries_user ON session_summaries(user_id, updated_at);
	`

	// All semantically searchable content lives in one table, partitioned
	// by corpus. Embeddings are little-endian float32 blobs.
	vectorsTable := `
	CREATE TABLE IF NOT EXISTS vectors (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		corpus TEXT NOT NULL,
		source_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		content TEXT NOT NULL,
		embedding BLOB,
		created_at INTEGER NOT NULL,
		UNIQUE(corpus, source_id)
	);
	CREATE INDEX IF NOT EXISTS idx_vectors_corpus ON vectors(corpus, user_id);
	CREATE INDEX IF NOT EXISTS idx_vectors_session ON vectors(session_id);
	`

	reflectionsTable := `
	CREATE TABLE IF NOT EXISTS reflections (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		content TEXT NOT NULL,
		linked_memory_ids TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_reflections_user ON reflections(user_id);
	`

	for _, table := range []string{
		turnsTable,
		readingsTable,
		memoriesTable,
		factsTable,
		summariesTable,
		vectorsTable,
		reflectionsTable,
	} {
		if _, err := s.db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// detectVecExtension probes for vec0 virtual table support.
func (s *LocalStore) detectVecExtension() {
	if s.db == nil {
		return
	}
	if _, err := s.db.Exec("CREATE VIRTUAL TABLE IF NOT EXISTS vec_probe USING vec0(embedding float[4])"); err == nil {
		s.vectorExt = true
		_, _ = s.db.Exec("DROP TABLE IF EXISTS vec_probe")
	}
}

// Close closes the database connection.
func (s *LocalStore) Close() error {
	return s.db.Close()
}

// Stats returns row counts per table.
func (s *LocalStore) Stats() (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[string]int64)
	tables := []string{"turns", "readings", "user_memories", "session_facts", "session_summaries", "vectors", "reflections"}
	for _, table := range tables {
		var count int64
		if err := s.db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count); err != nil {
			continue
		}
		stats[table] = count
	}
	return stats, nil
}

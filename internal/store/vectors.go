package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"attune/internal/embedding"
	"attune/internal/types"
)

// UpsertVector indexes one piece of content for semantic search under the
// given corpus. Without an embedding engine the row is stored unembedded
// and will not match searches.
func (s *LocalStore) UpsertVector(ctx context.Context, corpus types.SearchCorpus, sourceID, userID, sessionID, content string, ts time.Time) error {
	var blob []byte
	if s.engine != nil {
		vec, err := s.engine.Embed(ctx, content)
		if err != nil {
			return fmt.Errorf("failed to embed content: %w", err)
		}
		blob = encodeVector(vec)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO vectors (corpus, source_id, user_id, session_id, content, embedding, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(corpus, source_id) DO UPDATE SET
		 content = excluded.content,
		 embedding = excluded.embedding,
		 created_at = excluded.created_at`,
		string(corpus), sourceID, userID, sessionID, content, blob, ts.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert vector: %w", err)
	}
	return nil
}

// Search runs one similarity query against the selected corpus. Hits below
// the threshold are dropped and results arrive sorted by similarity.
func (s *LocalStore) Search(ctx context.Context, q types.VectorQuery) ([]types.VectorMatch, error) {
	if s.engine == nil {
		return nil, nil
	}
	if q.TopK <= 0 {
		q.TopK = 5
	}

	queryVec, err := s.engine.Embed(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	where, args := corpusFilter(q)
	rows, err := s.db.QueryContext(ctx,
		`SELECT source_id, session_id, content, embedding, created_at
		 FROM vectors WHERE embedding IS NOT NULL AND `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query vectors: %w", err)
	}
	defer rows.Close()

	var matches []types.VectorMatch
	for rows.Next() {
		var m types.VectorMatch
		var blob []byte
		if err := rows.Scan(&m.SourceID, &m.SessionID, &m.Content, &blob, &m.Timestamp); err != nil {
			continue
		}
		vec := decodeVector(blob)
		sim, err := embedding.CosineSimilarity(queryVec, vec)
		if err != nil {
			s.logger.Debug("skipping vector with mismatched dimensions",
				zap.String("source_id", m.SourceID))
			continue
		}
		if sim < q.Threshold {
			continue
		}
		m.Similarity = sim
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Similarity > matches[j].Similarity })
	if len(matches) > q.TopK {
		matches = matches[:q.TopK]
	}
	return matches, nil
}

// corpusFilter maps a query to the SQL scope for its corpus.
func corpusFilter(q types.VectorQuery) (string, []interface{}) {
	switch q.Corpus {
	case types.CorpusSameSession:
		return "corpus = ? AND user_id = ? AND session_id = ?",
			[]interface{}{string(types.CorpusSameSession), q.UserID, q.SessionID}
	case types.CorpusCrossSession:
		return "corpus = ? AND user_id = ? AND session_id != ?",
			[]interface{}{string(types.CorpusCrossSession), q.UserID, q.SessionID}
	case types.CorpusReflection:
		return "corpus = ? AND user_id = ?",
			[]interface{}{string(types.CorpusReflection), q.UserID}
	default:
		return "corpus = ?", []interface{}{string(q.Corpus)}
	}
}

// =============================================================================
// REFLECTIONS
// =============================================================================

// Reflection is a private note the assistant wrote about a session, with
// optional links to the user memories it draws on.
type Reflection struct {
	ID              string
	UserID          string
	SessionID       string
	Content         string
	LinkedMemoryIDs []string
	CreatedAt       time.Time
}

// StoreReflection persists a reflection and indexes it in the reflection
// corpus so retrieval can find it semantically.
func (s *LocalStore) StoreReflection(ctx context.Context, r Reflection) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}

	linksJSON, err := json.Marshal(r.LinkedMemoryIDs)
	if err != nil {
		return fmt.Errorf("failed to serialize memory links: %w", err)
	}

	s.mu.Lock()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO reflections (id, user_id, session_id, content, linked_memory_ids, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.UserID, r.SessionID, r.Content, string(linksJSON), r.CreatedAt.Unix(),
	)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to store reflection: %w", err)
	}

	return s.UpsertVector(ctx, types.CorpusReflection, r.ID, r.UserID, r.SessionID, r.Content, r.CreatedAt)
}

// ReflectionLinks returns reflection id to linked memory ids for the user.
// Reflections without links are omitted.
func (s *LocalStore) ReflectionLinks(ctx context.Context, userID string) (map[string][]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, linked_memory_ids FROM reflections
		 WHERE user_id = ? AND linked_memory_ids IS NOT NULL AND linked_memory_ids NOT IN ('', '[]', 'null')`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query reflection links: %w", err)
	}
	defer rows.Close()

	links := make(map[string][]string)
	for rows.Next() {
		var id, linksJSON string
		if err := rows.Scan(&id, &linksJSON); err != nil {
			continue
		}
		var ids []string
		if err := json.Unmarshal([]byte(linksJSON), &ids); err != nil || len(ids) == 0 {
			continue
		}
		links[id] = ids
	}
	return links, rows.Err()
}

// =============================================================================
// VECTOR ENCODING
// =============================================================================

// encodeVector serializes a vector as little-endian float32, the layout
// sqlite-vec expects for its blob columns.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeVector deserializes a little-endian float32 blob.
func decodeVector(blob []byte) []float32 {
	if len(blob)%4 != 0 {
		return nil
	}
	out := make([]float32, len(blob)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return out
}

package store

import (
	"context"
	"fmt"
	"time"

	"attune/internal/types"
)

// StoreUserMemory upserts a curated long-term fact about the user.
func (s *LocalStore) StoreUserMemory(ctx context.Context, userID string, memory types.UserMemory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_memories (user_id, key, content, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, key) DO UPDATE SET
		 content = excluded.content,
		 updated_at = excluded.updated_at`,
		userID, memory.Key, memory.Content, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to store user memory: %w", err)
	}
	return nil
}

// UserMemories returns the user's curated facts, most recently updated first.
func (s *LocalStore) UserMemories(ctx context.Context, userID string) ([]types.UserMemory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT key, content, updated_at FROM user_memories
		 WHERE user_id = ? ORDER BY updated_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query user memories: %w", err)
	}
	defer rows.Close()

	var memories []types.UserMemory
	for rows.Next() {
		var m types.UserMemory
		var updatedAt int64
		if err := rows.Scan(&m.Key, &m.Content, &updatedAt); err != nil {
			continue
		}
		m.UpdatedAt = time.Unix(updatedAt, 0)
		memories = append(memories, m)
	}
	return memories, rows.Err()
}

// StoreSessionFact records a notable fact scoped to one session. Duplicate
// content within a session is ignored.
func (s *LocalStore) StoreSessionFact(ctx context.Context, fact types.SessionFact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := fact.CreatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO session_facts (session_id, content, created_at)
		 VALUES (?, ?, ?)`,
		fact.SessionID, fact.Content, ts.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to store session fact: %w", err)
	}
	return nil
}

// SessionFacts returns the facts captured for one session, oldest first.
func (s *LocalStore) SessionFacts(ctx context.Context, sessionID string) ([]types.SessionFact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, content, created_at FROM session_facts
		 WHERE session_id = ? ORDER BY created_at ASC, id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query session facts: %w", err)
	}
	defer rows.Close()

	var facts []types.SessionFact
	for rows.Next() {
		var f types.SessionFact
		var createdAt int64
		if err := rows.Scan(&f.SessionID, &f.Content, &createdAt); err != nil {
			continue
		}
		f.CreatedAt = time.Unix(createdAt, 0)
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

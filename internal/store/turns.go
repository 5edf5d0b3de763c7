package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"attune/internal/types"
)

// AppendTurn records a new conversation turn. Turns are append-only.
func (s *LocalStore) AppendTurn(ctx context.Context, turn types.ConversationTurn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (id, session_id, speaker, text, stage, intensity, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		turn.ID, turn.SessionID, string(turn.Speaker), turn.Text,
		int(turn.Stage), turn.Intensity, turn.Timestamp.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to append turn: %w", err)
	}
	return nil
}

// RecentTurns returns up to limit turns for the session, newest last.
func (s *LocalStore) RecentTurns(ctx context.Context, sessionID string, limit int) ([]types.ConversationTurn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, speaker, text, stage, intensity, created_at
		 FROM turns WHERE session_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	var turns []types.ConversationTurn
	for rows.Next() {
		var t types.ConversationTurn
		var speaker string
		var stage int
		var createdAt int64
		if err := rows.Scan(&t.ID, &t.SessionID, &speaker, &t.Text, &stage, &t.Intensity, &createdAt); err != nil {
			continue
		}
		t.Speaker = types.Speaker(speaker)
		t.Stage = types.Stage(stage)
		t.Timestamp = time.Unix(createdAt, 0)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Query returns newest first; callers expect newest last.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// AppendReading records an emotional intensity sample for a session.
func (s *LocalStore) AppendReading(ctx context.Context, sessionID string, reading types.EmotionalReading) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := reading.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO readings (session_id, intensity, created_at) VALUES (?, ?, ?)`,
		sessionID, reading.Intensity, ts.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to append reading: %w", err)
	}
	return nil
}

// Readings returns all intensity samples for the session, oldest first.
func (s *LocalStore) Readings(ctx context.Context, sessionID string) ([]types.EmotionalReading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT intensity, created_at FROM readings
		 WHERE session_id = ? ORDER BY created_at ASC, id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	var readings []types.EmotionalReading
	for rows.Next() {
		var r types.EmotionalReading
		var createdAt int64
		if err := rows.Scan(&r.Intensity, &createdAt); err != nil {
			continue
		}
		r.Timestamp = time.Unix(createdAt, 0)
		readings = append(readings, r)
	}
	return readings, rows.Err()
}

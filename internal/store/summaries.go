package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"attune/internal/types"
)

// UpsertSummary replaces the rolling summary for a session. Themes are
// stored as a JSON array.
func (s *LocalStore) UpsertSummary(ctx context.Context, userID string, summary types.SessionSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	themesJSON, err := json.Marshal(summary.Themes)
	if err != nil {
		return fmt.Errorf("failed to serialize themes: %w", err)
	}
	ts := summary.UpdatedAt
	if ts.IsZero() {
		ts = time.Now()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO session_summaries (session_id, user_id, summary, themes, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
		 summary = excluded.summary,
		 themes = excluded.themes,
		 updated_at = excluded.updated_at`,
		summary.SessionID, userID, summary.Summary, string(themesJSON), ts.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert summary: %w", err)
	}
	return nil
}

// PriorSummaries returns summaries for the user's earlier sessions, most
// recent first, excluding the given session.
func (s *LocalStore) PriorSummaries(ctx context.Context, userID, excludeSessionID string, limit int) ([]types.SessionSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 3
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, summary, themes, updated_at FROM session_summaries
		 WHERE user_id = ? AND session_id != ?
		 ORDER BY updated_at DESC LIMIT ?`,
		userID, excludeSessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query summaries: %w", err)
	}
	defer rows.Close()

	var summaries []types.SessionSummary
	for rows.Next() {
		var sum types.SessionSummary
		var themesJSON string
		var updatedAt int64
		if err := rows.Scan(&sum.SessionID, &sum.Summary, &themesJSON, &updatedAt); err != nil {
			continue
		}
		if themesJSON != "" {
			_ = json.Unmarshal([]byte(themesJSON), &sum.Themes)
		}
		sum.UpdatedAt = time.Unix(updatedAt, 0)
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

func (s *SQLiteStore) AddSummary(ctx context.Context, summary *Summary) (string, error) {
	if summary.ID == "" {
		summary.ID = uuid.NewString()
	}
	if summary.CreatedAt.IsZero() {
		summary.CreatedAt = time.Now().UTC()
	}

	idsJSON, err := json.Marshal(summary.MessageIDs)
	if err != nil {
		return "", fmt.Errorf("failed to marshal message ids: %w", err)
	}
	metaJSON, err := json.Marshal(summary.Metadata)
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `INSERT INTO summaries (id, owner_id, text, message_ids, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, summary.ID, summary.OwnerID, summary.Text,
		string(idsJSON), string(metaJSON), summary.CreatedAt.UnixNano()); err != nil {
		return "", fmt.Errorf("failed to insert summary: %w", err)
	}
	return summary.ID, nil
}

// Summaries returns the owner's summaries, newest first.
func (s *SQLiteStore) Summaries(ctx context.Context, ownerID string, limit int) ([]*Summary, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT id, owner_id, text, message_ids, metadata, created_at FROM summaries
		WHERE owner_id = ? ORDER BY seq DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []*Summary
	for rows.Next() {
		var (
			sum       Summary
			idsJSON   sql.NullString
			metaJSON  sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&sum.ID, &sum.OwnerID, &sum.Text, &idsJSON, &metaJSON, &createdAt); err != nil {
			return nil, err
		}
		if idsJSON.Valid && idsJSON.String != "" {
			if err := json.Unmarshal([]byte(idsJSON.String), &sum.MessageIDs); err != nil {
				return nil, fmt.Errorf("failed to unmarshal message ids: %w", err)
			}
		}
		if metaJSON.Valid && metaJSON.String != "" {
			if err := json.Unmarshal([]byte(metaJSON.String), &sum.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		sum.CreatedAt = time.Unix(0, createdAt).UTC()
		summaries = append(summaries, &sum)
	}
	return summaries, rows.Err()
}

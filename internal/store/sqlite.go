package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0750); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer at a time; concurrent writers would only trade SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			owner_id TEXT NOT NULL,
			content TEXT NOT NULL,
			role TEXT NOT NULL,
			topic_id TEXT NOT NULL DEFAULT '',
			quoted_message_id TEXT NOT NULL DEFAULT '',
			metadata TEXT,
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_owner ON messages(owner_id, seq);`,
		`CREATE TABLE IF NOT EXISTS summaries (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			owner_id TEXT NOT NULL,
			text TEXT NOT NULL,
			message_ids TEXT,
			metadata TEXT,
			created_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS configuration (
			key TEXT PRIMARY KEY,
			value TEXT
		);`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to init schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Configuration Implementation

func (s *SQLiteStore) SetConfig(ctx context.Context, key, value string) error {
	query := `INSERT INTO configuration (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	_, err := s.db.ExecContext(ctx, query, key, value)
	return err
}

func (s *SQLiteStore) GetConfig(ctx context.Context, key string) (string, error) {
	row := s.db.QueryRowContext(ctx, `SELECT value FROM configuration WHERE key = ?`, key)
	var value string
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("config %s: %w", key, ErrNotFound)
		}
		return "", err
	}
	return value, nil
}

// Message Implementation

const messageColumns = `seq, id, owner_id, content, role, topic_id, quoted_message_id, metadata, created_at`

func (s *SQLiteStore) InsertMessage(ctx context.Context, msg *Message) (string, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.Role == "" {
		msg.Role = RoleUser
	}

	metaJSON, err := json.Marshal(msg.Metadata)
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `INSERT INTO messages (id, owner_id, content, role, topic_id, quoted_message_id, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query, msg.ID, msg.OwnerID, msg.Content, string(msg.Role),
		msg.TopicID, msg.QuotedMessageID, string(metaJSON), msg.CreatedAt.UnixNano())
	if err != nil {
		return "", fmt.Errorf("failed to insert message: %w", err)
	}
	return msg.ID, nil
}

func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	msg, _, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("message %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return msg, nil
}

func (s *SQLiteStore) UpdateMessage(ctx context.Context, id string, update MessageUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT 1 FROM messages WHERE id = ?`, id).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("message %s: %w", id, ErrNotFound)
		}
		return err
	}

	if update.TopicID != nil {
		if _, err := tx.ExecContext(ctx, `UPDATE messages SET topic_id = ? WHERE id = ?`, *update.TopicID, id); err != nil {
			return fmt.Errorf("failed to update message: %w", err)
		}
	}
	if update.Metadata != nil {
		metaJSON, err := json.Marshal(update.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE messages SET metadata = ? WHERE id = ?`, string(metaJSON), id); err != nil {
			return fmt.Errorf("failed to update message: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) RecentMessages(ctx context.Context, ownerID string, limit int, cursor string) ([]*Message, string, error) {
	if limit <= 0 {
		return nil, "", nil
	}

	var after int64
	if cursor != "" {
		v, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil {
			return nil, "", fmt.Errorf("invalid cursor %q: %w", cursor, err)
		}
		after = v
	}

	query := `SELECT ` + messageColumns + ` FROM messages
		WHERE owner_id = ? AND (? = 0 OR seq < ?)
		ORDER BY seq DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, ownerID, after, after, limit)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	var (
		messages []*Message
		lastSeq  int64
	)
	for rows.Next() {
		msg, seq, err := scanMessage(rows)
		if err != nil {
			return nil, "", err
		}
		messages = append(messages, msg)
		lastSeq = seq
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	next := ""
	if len(messages) == limit && lastSeq > 1 {
		next = strconv.FormatInt(lastSeq, 10)
	}
	return messages, next, nil
}

func (s *SQLiteStore) TopicStats(ctx context.Context, ownerID string) ([]TopicStat, error) {
	query := `SELECT topic_id, COUNT(*), MAX(created_at) FROM messages
		WHERE owner_id = ? AND topic_id != ''
		GROUP BY topic_id ORDER BY topic_id`
	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []TopicStat
	for rows.Next() {
		var (
			st   TopicStat
			last int64
		)
		if err := rows.Scan(&st.TopicID, &st.MessageCount, &last); err != nil {
			return nil, err
		}
		st.LastMessageAt = time.Unix(0, last).UTC()
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*Message, int64, error) {
	var (
		msg       Message
		seq       int64
		role      string
		metaJSON  sql.NullString
		createdAt int64
	)
	if err := row.Scan(&seq, &msg.ID, &msg.OwnerID, &msg.Content, &role, &msg.TopicID,
		&msg.QuotedMessageID, &metaJSON, &createdAt); err != nil {
		return nil, 0, err
	}
	msg.Role = Role(role)
	msg.CreatedAt = time.Unix(0, createdAt).UTC()
	if metaJSON.Valid && metaJSON.String != "" && metaJSON.String != "null" {
		if err := json.Unmarshal([]byte(metaJSON.String), &msg.Metadata); err != nil {
			return nil, 0, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &msg, seq, nil
}

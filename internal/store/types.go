package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a row addressed by id does not exist.
var ErrNotFound = errors.New("not found")

// Role of a message author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one chat message owned by a single user.
type Message struct {
	ID              string
	OwnerID         string
	Content         string
	Role            Role
	TopicID         string // empty until clustered
	QuotedMessageID string
	Metadata        map[string]string
	CreatedAt       time.Time
}

// TopicStat aggregates every message of an owner linked to one topic id.
type TopicStat struct {
	TopicID       string
	MessageCount  int
	LastMessageAt time.Time
}

// MessageUpdate carries the fields UpdateMessage may change. Nil fields are left alone.
type MessageUpdate struct {
	TopicID  *string
	Metadata map[string]string
}

// Summary is a condensed view of a span of conversation.
type Summary struct {
	ID         string
	OwnerID    string
	Text       string
	MessageIDs []string
	Metadata   map[string]string
	CreatedAt  time.Time
}

// Storage is the system of record for messages, summaries and settings.
type Storage interface {
	// Messages
	InsertMessage(ctx context.Context, msg *Message) (string, error)
	GetMessage(ctx context.Context, id string) (*Message, error)
	UpdateMessage(ctx context.Context, id string, update MessageUpdate) error
	// RecentMessages returns up to limit of the owner's messages, newest
	// first, starting after cursor ("" for the newest). The returned cursor
	// is "" once the history is exhausted.
	RecentMessages(ctx context.Context, ownerID string, limit int, cursor string) ([]*Message, string, error)
	// TopicStats covers the owner's whole history, not a recent window.
	TopicStats(ctx context.Context, ownerID string) ([]TopicStat, error)

	// Summaries
	AddSummary(ctx context.Context, summary *Summary) (string, error)
	Summaries(ctx context.Context, ownerID string, limit int) ([]*Summary, error)

	// Configuration
	SetConfig(ctx context.Context, key, value string) error
	GetConfig(ctx context.Context, key string) (string, error)

	Close() error
}

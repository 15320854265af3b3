// Package memory keeps condensed summaries of past conversation. The chat
// pipeline flags turns worth remembering; a Summarizer turns the recent
// window into a summary and files it.
package memory

import (
	"context"
	"time"

	"github.com/felixgeelhaar/nova/internal/store"
)

// Memory defines the interface for long-term storage and retrieval.
type Memory interface {
	// Add stores a memory item (e.g. a summary of a conversation span).
	Add(ctx context.Context, item Item) (string, error)

	// Retrieve returns the owner's most recent memories, newest first.
	Retrieve(ctx context.Context, ownerID string, limit int) ([]Item, error)
}

// Item represents a unit of memory.
type Item struct {
	ID         string
	OwnerID    string
	Content    string
	MessageIDs []string
	Metadata   map[string]string
	CreatedAt  time.Time
}

// StoreMemory keeps memories in the summaries table.
type StoreMemory struct {
	store store.Storage
}

func NewStoreMemory(s store.Storage) *StoreMemory {
	return &StoreMemory{store: s}
}

func (m *StoreMemory) Add(ctx context.Context, item Item) (string, error) {
	return m.store.AddSummary(ctx, &store.Summary{
		ID:         item.ID,
		OwnerID:    item.OwnerID,
		Text:       item.Content,
		MessageIDs: item.MessageIDs,
		Metadata:   item.Metadata,
		CreatedAt:  item.CreatedAt,
	})
}

func (m *StoreMemory) Retrieve(ctx context.Context, ownerID string, limit int) ([]Item, error) {
	summaries, err := m.store.Summaries(ctx, ownerID, limit)
	if err != nil {
		return nil, err
	}
	items := make([]Item, len(summaries))
	for i, s := range summaries {
		items[i] = Item{
			ID:         s.ID,
			OwnerID:    s.OwnerID,
			Content:    s.Text,
			MessageIDs: s.MessageIDs,
			Metadata:   s.Metadata,
			CreatedAt:  s.CreatedAt,
		}
	}
	return items, nil
}

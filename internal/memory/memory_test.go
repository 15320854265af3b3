package memory

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/felixgeelhaar/nova/internal/prompt"
	"github.com/felixgeelhaar/nova/internal/provider"
	"github.com/felixgeelhaar/nova/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "nova.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seed(t *testing.T, s store.Storage, owner string, msgs ...store.Message) {
	t.Helper()
	for i := range msgs {
		m := msgs[i]
		m.OwnerID = owner
		if _, err := s.InsertMessage(context.Background(), &m); err != nil {
			t.Fatal(err)
		}
	}
}

func TestStoreMemory(t *testing.T) {
	ctx := context.Background()
	mem := NewStoreMemory(newTestStore(t))

	id, err := mem.Add(ctx, Item{OwnerID: "u1", Content: "likes hiking", MessageIDs: []string{"m1"}})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if id == "" {
		t.Fatal("Expected an id")
	}

	items, err := mem.Retrieve(ctx, "u1", 5)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(items) != 1 || items[0].Content != "likes hiking" || items[0].ID != id {
		t.Errorf("Unexpected items %+v", items)
	}
}

func TestSummarizer_UsesModel(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seed(t, s, "u1",
		store.Message{Role: store.RoleUser, Content: "I love hiking trails"},
		store.Message{Role: store.RoleAssistant, Content: "Nice!"},
	)

	p := provider.NewStubProvider(provider.StubReply{Content: " User enjoys hiking. "})
	sum := NewSummarizer(NewStoreMemory(s), s, p, prompt.MustDefault(), nil)

	item, err := sum.Summarize(ctx, "u1")
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	if item.Content != "User enjoys hiking." {
		t.Errorf("Expected model summary, got %q", item.Content)
	}
	if item.Metadata["source"] != "model" {
		t.Errorf("Expected model source, got %q", item.Metadata["source"])
	}
	if len(item.MessageIDs) != 2 {
		t.Errorf("Expected 2 message ids, got %v", item.MessageIDs)
	}

	req := p.Calls()[0].Messages[0].Content
	if strings.Index(req, "I love hiking") > strings.Index(req, "Nice!") {
		t.Error("Expected history oldest first in the summary prompt")
	}

	stored, _ := s.Summaries(ctx, "u1", 5)
	if len(stored) != 1 {
		t.Fatalf("Expected 1 stored summary, got %d", len(stored))
	}
}

func TestSummarizer_Fallback(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seed(t, s, "u1",
		store.Message{Role: store.RoleUser, Content: "first thing"},
		store.Message{Role: store.RoleAssistant, Content: "reply"},
		store.Message{Role: store.RoleUser, Content: "second thing"},
	)

	p := provider.NewStubProvider(provider.StubReply{Err: errors.New("down")})
	sum := NewSummarizer(NewStoreMemory(s), s, p, nil, nil)

	item, err := sum.Summarize(ctx, "u1")
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	if item.Content != "first thing / second thing" {
		t.Errorf("Unexpected fallback %q", item.Content)
	}
	if item.Metadata["source"] != "fallback" {
		t.Errorf("Expected fallback source, got %q", item.Metadata["source"])
	}
}

func TestSummarizer_NothingToSummarize(t *testing.T) {
	s := newTestStore(t)
	sum := NewSummarizer(NewStoreMemory(s), s, nil, nil, nil)
	if _, err := sum.Summarize(context.Background(), "nobody"); err == nil {
		t.Error("Expected error for empty history")
	}
}

func TestTruncateRunes(t *testing.T) {
	if got := truncateRunes("héllo world", 5); got != "héllo..." {
		t.Errorf("Expected rune-safe cut, got %q", got)
	}
	if got := truncateRunes("short", 10); got != "short" {
		t.Errorf("Expected untouched, got %q", got)
	}
}

// Package runtime wires the store, the topic engine, the reply pipeline and
// the memory summarizer into the two entry points callers use: storing a
// message and running a chat turn.
package runtime

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/felixgeelhaar/nova/internal/chain"
	"github.com/felixgeelhaar/nova/internal/guard"
	"github.com/felixgeelhaar/nova/internal/memory"
	"github.com/felixgeelhaar/nova/internal/observe"
	"github.com/felixgeelhaar/nova/internal/provider"
	"github.com/felixgeelhaar/nova/internal/store"
	"github.com/felixgeelhaar/nova/internal/topic"
)

var (
	ErrEmptyContent = errors.New("message content is empty")
	ErrNoOwner      = errors.New("owner id is required")
)

const summaryTimeout = time.Minute

// NewMessage is the input to CreateMessage.
type NewMessage struct {
	OwnerID         string
	Content         string
	Role            store.Role // defaults to user
	QuotedMessageID string
	Metadata        map[string]string
}

// Reply is the outcome of one chat turn.
type Reply struct {
	Request  *store.Message
	Response *store.Message
	Result   chain.Result
}

// Runtime orchestrates a conversation turn.
type Runtime struct {
	store      store.Storage
	topics     *topic.Engine
	chain      *chain.Chain
	summarizer *memory.Summarizer
	bus        *EventBus
	guard      *guard.Guard
	observe    *observe.Observer

	HistoryLimit int

	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// New wires the components. summarizer may be nil, in which case memory
// update signals are only published.
func New(s store.Storage, e *topic.Engine, c *chain.Chain, sum *memory.Summarizer, bus *EventBus, o *observe.Observer) *Runtime {
	if bus == nil {
		bus = NewEventBus()
	}
	if o == nil {
		o = observe.Discard()
	}
	r := &Runtime{
		store:        s,
		topics:       e,
		chain:        c,
		summarizer:   sum,
		bus:          bus,
		guard:        guard.New(guard.DefaultPolicy),
		observe:      o,
		HistoryLimit: 10,
	}

	c.OnTransition(func(t chain.Transition) {
		data := map[string]any{"from": string(t.From), "to": string(t.To)}
		if t.Err != nil {
			data["error"] = t.Err.Error()
		}
		bus.PublishWithData(EventStageChanged, "", data)
	})
	if sum != nil {
		bus.Subscribe(EventMemoryUpdate, r.onMemoryUpdate)
	}
	return r
}

func (r *Runtime) SetGuard(g *guard.Guard) {
	if g != nil {
		r.guard = g
	}
}

// Events exposes the bus for subscribers such as the UI.
func (r *Runtime) Events() *EventBus {
	return r.bus
}

// CreateMessage stores a message, drops the owner's cached recent window and
// queues topic assignment. Assignment failures never fail the call.
func (r *Runtime) CreateMessage(ctx context.Context, in NewMessage) (*store.Message, error) {
	ctx, span := r.observe.StartSpan(ctx, "runtime.CreateMessage")
	defer span.End()

	if in.OwnerID == "" {
		return nil, ErrNoOwner
	}
	if strings.TrimSpace(in.Content) == "" {
		return nil, ErrEmptyContent
	}
	if v := r.guard.CheckMessage(in.Content); v != nil {
		return nil, v
	}
	if in.Role == "" {
		in.Role = store.RoleUser
	}

	if in.QuotedMessageID != "" {
		quoted, err := r.store.GetMessage(ctx, in.QuotedMessageID)
		if err == nil && quoted.OwnerID != in.OwnerID {
			err = store.ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("quoted message %s: %w", in.QuotedMessageID, err)
		}
	}

	msg := &store.Message{
		OwnerID:         in.OwnerID,
		Content:         in.Content,
		Role:            in.Role,
		QuotedMessageID: in.QuotedMessageID,
		Metadata:        in.Metadata,
		CreatedAt:       time.Now().UTC(),
	}
	id, err := r.store.InsertMessage(ctx, msg)
	if err != nil {
		r.observe.Log().Error().Str("owner", in.OwnerID).Err(err).Msg("failed to store message")
		return nil, fmt.Errorf("failed to store message: %w", err)
	}
	msg.ID = id

	r.topics.InvalidateRecent(ctx, in.OwnerID)
	r.bus.PublishWithData(EventMessageStored, in.OwnerID, map[string]any{
		"message_id": id,
		"role":       string(in.Role),
	})

	if in.Role != store.RoleSystem {
		r.topics.AssignAsync(in.OwnerID, id, in.Content)
	}
	return msg, nil
}

// Chat stores the user's message, runs the pipeline over the recent history
// and stores the reply. The reply is stored even when the pipeline degraded.
func (r *Runtime) Chat(ctx context.Context, ownerID, content string) (*Reply, error) {
	ctx, span := r.observe.StartSpan(ctx, "runtime.Chat")
	defer span.End()

	// History is read before the new message lands so it is not in its own context.
	history := r.history(ctx, ownerID)

	req, err := r.CreateMessage(ctx, NewMessage{OwnerID: ownerID, Content: content, Role: store.RoleUser})
	if err != nil {
		return nil, err
	}

	res := r.chain.ProcessMessage(ctx, content, history)

	meta := map[string]string{
		"response_style": res.Analysis.ResponseStyle,
		"in_reply_to":    req.ID,
	}
	if res.Degraded {
		meta["degraded"] = "true"
	}
	resp, err := r.CreateMessage(ctx, NewMessage{
		OwnerID:  ownerID,
		Content:  res.Response,
		Role:     store.RoleAssistant,
		Metadata: meta,
	})
	if err != nil {
		return nil, err
	}

	if res.NeedsMemoryUpdate {
		r.bus.PublishWithData(EventMemoryUpdate, ownerID, map[string]any{"message_id": req.ID})
	}
	r.bus.PublishWithData(EventChatComplete, ownerID, map[string]any{
		"degraded":          res.Degraded,
		"generation_failed": res.GenerationFailed,
	})

	return &Reply{Request: req, Response: resp, Result: res}, nil
}

// Import stores every non-blank line of the files matching pattern as a user
// message, in file order. It returns how many messages were stored.
func (r *Runtime) Import(ctx context.Context, ownerID, pattern string) (int, error) {
	files, err := r.guard.ExpandImport(pattern)
	if err != nil {
		return 0, err
	}

	stored := 0
	for _, path := range files {
		n, err := r.importFile(ctx, ownerID, path)
		stored += n
		if err != nil {
			return stored, fmt.Errorf("%s: %w", path, err)
		}
		r.observe.Log().Info().Str("file", path).Int("messages", n).Msg("imported")
	}
	return stored, nil
}

func (r *Runtime) importFile(ctx context.Context, ownerID, path string) (int, error) {
	f, err := os.Open(path) // #nosec G304
	if err != nil {
		return 0, err
	}
	defer f.Close()

	n := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if _, err := r.CreateMessage(ctx, NewMessage{
			OwnerID:  ownerID,
			Content:  line,
			Metadata: map[string]string{"source": "import"},
		}); err != nil {
			return n, err
		}
		n++
	}
	return n, scanner.Err()
}

// history loads the owner's recent messages oldest first. A failed read
// degrades to no history.
func (r *Runtime) history(ctx context.Context, ownerID string) []provider.Message {
	recent, err := r.topics.RecentMessages(ctx, ownerID, r.HistoryLimit)
	if err != nil {
		r.observe.Log().Warn().Str("owner", ownerID).Err(err).Msg("failed to load history, continuing without it")
		return nil
	}
	out := make([]provider.Message, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		m := recent[i]
		if m.Role == store.RoleSystem {
			continue
		}
		out = append(out, provider.Message{Role: string(m.Role), Content: m.Content})
	}
	return out
}

func (r *Runtime) onMemoryUpdate(ev Event) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), summaryTimeout)
		defer cancel()

		item, err := r.summarizer.Summarize(ctx, ev.OwnerID)
		if err != nil {
			r.observe.Log().Warn().Str("owner", ev.OwnerID).Err(err).Msg("memory update failed")
			r.bus.PublishWithData(EventSummaryFailed, ev.OwnerID, map[string]any{"error": err.Error()})
			return
		}
		r.bus.PublishWithData(EventSummaryStored, ev.OwnerID, map[string]any{
			"summary_id": item.ID,
			"source":     item.Metadata["source"],
		})
	}()
}

// Close waits for background summaries and topic assignments.
func (r *Runtime) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return r.topics.Close(ctx)
}

// Package topic clusters an owner's messages into topics by TF-IDF cosine
// similarity. The registry is an in-memory index rebuilt from the store's
// message topic ids on first use; losing it costs a rescan, never data.
package topic

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/semaphore"

	"github.com/felixgeelhaar/nova/internal/cache"
	"github.com/felixgeelhaar/nova/internal/observe"
	"github.com/felixgeelhaar/nova/internal/store"
)

// ErrTopicNotFound is returned for a topic id the owner does not have.
var ErrTopicNotFound = errors.New("topic not found")

const tieEpsilon = 1e-9

// Config tunes the engine. Threshold trades over-clustering (low) for
// under-clustering (high).
type Config struct {
	Threshold           float64
	Window              int
	Workers             int
	Queue               int
	ScanLimit           int
	MaxFeatures         int
	MaxKeywords         int
	RetryAttempts       int
	RetryInterval       time.Duration
	AsyncTimeout        time.Duration
	CacheTTL            time.Duration
	DeferWithoutContext bool
}

func DefaultConfig() Config {
	return Config{
		Threshold:     0.3,
		Window:        50,
		Workers:       4,
		Queue:         256,
		ScanLimit:     1000,
		MaxFeatures:   1000,
		MaxKeywords:   5,
		RetryAttempts: 3,
		RetryInterval: 100 * time.Millisecond,
		AsyncTimeout:  30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Window <= 0 {
		c.Window = d.Window
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.Queue <= 0 {
		c.Queue = d.Queue
	}
	if c.ScanLimit <= 0 {
		c.ScanLimit = d.ScanLimit
	}
	if c.MaxFeatures <= 0 {
		c.MaxFeatures = d.MaxFeatures
	}
	if c.MaxKeywords <= 0 {
		c.MaxKeywords = d.MaxKeywords
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = d.RetryAttempts
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = d.RetryInterval
	}
	if c.AsyncTimeout <= 0 {
		c.AsyncTimeout = d.AsyncTimeout
	}
	return c
}

type Engine struct {
	store store.Storage
	cache *cache.Cache
	obs   *observe.Observer
	cfg   Config
	pool  *pool
	now   func() time.Time

	mu      sync.Mutex
	owners  map[string]*ownerState
	closed  bool
	pending *semaphore.Weighted
	wg      sync.WaitGroup
}

func New(s store.Storage, c *cache.Cache, obs *observe.Observer, cfg Config) *Engine {
	if obs == nil {
		obs = observe.Discard()
	}
	if c == nil {
		c = cache.New(context.Background(), nil, cache.Config{}, obs)
	}
	cfg = cfg.withDefaults()
	return &Engine{
		store:   s,
		cache:   c,
		obs:     obs,
		cfg:     cfg,
		pool:    newPool(cfg.Workers),
		now:     time.Now,
		owners:  make(map[string]*ownerState),
		pending: semaphore.NewWeighted(int64(cfg.Queue)),
	}
}

// Threshold is the configured similarity threshold.
func (e *Engine) Threshold() float64 {
	return e.cfg.Threshold
}

func (e *Engine) state(owner string) *ownerState {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.owners[owner]
	if !ok {
		s = newOwnerState()
		e.owners[owner] = s
	}
	return s
}

// ensureLoaded hydrates the owner's registry if no call has done so yet.
func (e *Engine) ensureLoaded(ctx context.Context, owner string, s *ownerState) error {
	s.mu.RLock()
	loaded := s.loaded
	s.mu.RUnlock()
	if loaded {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return nil
	}
	return e.hydrate(ctx, owner, s)
}

// Cache prefixes, all under the owner's segment so Rebuild can drop them at once.
func ownerPrefix(owner string) string { return cache.Join("topics", owner) }

func listPrefix(owner string) string { return cache.Join("topics", owner, "list") }

func recentPrefix(owner string) string { return cache.Join("topics", owner, "recent") }

func messagesPrefix(owner, topic string) string {
	return cache.Join("topics", owner, "messages", topic)
}

// Assign clusters one message and returns its topic id. An empty id with a
// nil error means the message was left unclustered by policy.
func (e *Engine) Assign(ctx context.Context, owner, messageID, content string, threshold float64) (string, error) {
	ctx, span := e.obs.StartSpan(ctx, "topic.Assign")
	defer span.End()

	s := e.state(owner)
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		if err := e.hydrate(ctx, owner, s); err != nil {
			e.obs.Metrics().TopicOutcome("failed")
			return "", err
		}
	}

	if err := e.checkOwner(ctx, owner, messageID); err != nil {
		e.obs.Metrics().TopicOutcome("failed")
		return "", err
	}

	recent, err := e.recent(ctx, owner, e.cfg.Window)
	if err != nil {
		e.obs.Metrics().TopicOutcome("failed")
		return "", fmt.Errorf("failed to load context: %w", err)
	}
	history := make([]*store.Message, 0, len(recent))
	for _, m := range recent {
		if m.ID != messageID {
			history = append(history, m)
		}
	}

	if len(history) == 0 && e.cfg.DeferWithoutContext {
		e.obs.Metrics().TopicOutcome("deferred")
		return "", nil
	}

	d, err := e.decide(ctx, s, history, content, threshold)
	if err != nil {
		e.obs.Metrics().TopicOutcome("failed")
		return "", err
	}

	seq := 0
	id := d.topicID
	if id == "" {
		seq = s.nextSeq + 1
		id = topicID(owner, seq)
	}

	if err := e.link(ctx, messageID, id); err != nil {
		e.obs.Metrics().TopicOutcome("failed")
		e.obs.Log().Error().Str("owner", owner).Str("message", messageID).Err(err).Msg("topic link failed")
		return "", err
	}

	// Committed to the store; now the registry and the cache.
	now := e.now().UTC()
	t, ok := s.topics[id]
	if !ok {
		t = &Topic{ID: id, OwnerID: owner, Seq: seq}
		s.topics[id] = t
		s.nextSeq = seq
		e.obs.Metrics().TopicOutcome("created")
		e.obs.Log().Info().Str("owner", owner).Str("topic", id).Msg("topic created")
	} else {
		e.obs.Metrics().TopicOutcome("assigned")
	}
	t.MessageCount++
	if now.After(t.LastUpdated) {
		t.LastUpdated = now
	}
	if kw := keywords(d.memberVectors, e.cfg.MaxKeywords); len(kw) > 0 {
		t.Keywords = kw
	}

	e.cache.InvalidatePrefix(ctx, listPrefix(owner))
	e.cache.InvalidatePrefix(ctx, messagesPrefix(owner, id))
	e.cache.InvalidatePrefix(ctx, recentPrefix(owner))

	return id, nil
}

// decision is the outcome of scoring. An empty topicID means "create".
type decision struct {
	topicID       string
	memberVectors []vector // the chosen topic's member vectors plus the new message
}

// decide scores the message against each topic's representatives: its
// members inside the context window, or its keywords when none are.
func (e *Engine) decide(ctx context.Context, s *ownerState, recent []*store.Message, content string, threshold float64) (decision, error) {
	topics := s.bySeq()

	docs := make([]string, 0, len(recent)+len(topics)+1)
	owners := make([]string, 0, cap(docs)) // topic id per doc, "" for unassigned context
	hasMembers := make(map[string]bool)
	for _, m := range recent {
		docs = append(docs, m.Content)
		owners = append(owners, m.TopicID)
		if _, known := s.topics[m.TopicID]; known {
			hasMembers[m.TopicID] = true
		}
	}
	for _, t := range topics {
		if !hasMembers[t.ID] && len(t.Keywords) > 0 {
			docs = append(docs, strings.Join(t.Keywords, " "))
			owners = append(owners, t.ID)
		}
	}
	docs = append(docs, content)

	vectors, err := submit(ctx, e.pool, func() []vector {
		return vectorize(docs, e.cfg.MaxFeatures)
	})
	if err != nil {
		return decision{}, err
	}
	target := vectors[len(vectors)-1]
	candidates := vectors[:len(vectors)-1]

	if len(target) == 0 {
		return decision{memberVectors: []vector{target}}, nil
	}

	scores := make(map[string]float64)
	for i, v := range candidates {
		id := owners[i]
		if _, known := s.topics[id]; !known {
			continue
		}
		sim := cosine(target, v)
		if prev, seen := scores[id]; !seen || sim > prev {
			scores[id] = sim
		}
	}

	var best *Topic
	bestScore := math.Inf(-1)
	for _, t := range topics {
		sc, ok := scores[t.ID]
		if !ok {
			continue
		}
		switch {
		case best == nil || sc > bestScore+tieEpsilon:
			best, bestScore = t, sc
		case math.Abs(sc-bestScore) <= tieEpsilon && newer(t, best):
			best, bestScore = t, sc
		}
	}

	if best == nil || bestScore < threshold {
		return decision{memberVectors: []vector{target}}, nil
	}

	members := []vector{target}
	for i, v := range candidates {
		if owners[i] == best.ID {
			members = append(members, v)
		}
	}
	return decision{topicID: best.ID, memberVectors: members}, nil
}

// newer is the tie-break: most recently updated, then most recently created.
func newer(a, b *Topic) bool {
	if !a.LastUpdated.Equal(b.LastUpdated) {
		return a.LastUpdated.After(b.LastUpdated)
	}
	return a.Seq > b.Seq
}

// checkOwner treats another owner's message as missing.
func (e *Engine) checkOwner(ctx context.Context, owner, messageID string) error {
	m, err := e.store.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if m.OwnerID != owner {
		return fmt.Errorf("message %s: %w", messageID, store.ErrNotFound)
	}
	return nil
}

// link writes the message's topic id, retrying transient failures.
func (e *Engine) link(ctx context.Context, messageID, topicID string) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.cfg.RetryInterval

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := e.store.UpdateMessage(ctx, messageID, store.MessageUpdate{TopicID: &topicID})
		if errors.Is(err, store.ErrNotFound) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(e.cfg.RetryAttempts)))
	if err != nil {
		return fmt.Errorf("failed to link message %s to %s: %w", messageID, topicID, err)
	}
	return nil
}

// AssignAsync runs Assign in the background with its own timeout. At most
// Queue jobs may be pending; beyond that the job is dropped, logged and
// counted as "dropped", and the message stays unclustered until Rebuild or a
// later Assign. Failures are logged and counted.
func (e *Engine) AssignAsync(owner, messageID, content string) {
	e.mu.Lock()
	if e.closed || !e.pending.TryAcquire(1) {
		e.mu.Unlock()
		e.obs.Metrics().TopicOutcome("dropped")
		e.obs.Log().Warn().Str("owner", owner).Str("message", messageID).Msg("topic assignment dropped")
		return
	}
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		defer e.pending.Release(1)

		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.AsyncTimeout)
		defer cancel()
		if _, err := e.Assign(ctx, owner, messageID, content, e.cfg.Threshold); err != nil {
			e.obs.Log().Error().Str("owner", owner).Str("message", messageID).Err(err).Msg("background topic assignment failed")
		}
	}()
}

// Close stops accepting background jobs and waits for the running ones.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ListTopics returns the owner's topics, most recently updated first.
func (e *Engine) ListTopics(ctx context.Context, owner string) ([]Topic, error) {
	s := e.state(owner)
	if err := e.ensureLoaded(ctx, owner, s); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	key := e.cache.Key(listPrefix(owner), nil)
	return cache.Fetch(ctx, e.cache, key, e.cfg.CacheTTL, func(context.Context) ([]Topic, error) {
		return s.snapshot(), nil
	})
}

// TopicMessages returns up to limit of the topic's messages, newest first.
func (e *Engine) TopicMessages(ctx context.Context, owner, topicID string, limit int) ([]*store.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	s := e.state(owner)
	if err := e.ensureLoaded(ctx, owner, s); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.topics[topicID]; !ok {
		return nil, fmt.Errorf("%s: %w", topicID, ErrTopicNotFound)
	}

	key := e.cache.Key(messagesPrefix(owner, topicID), map[string]any{"limit": limit})
	return cache.Fetch(ctx, e.cache, key, e.cfg.CacheTTL, func(ctx context.Context) ([]*store.Message, error) {
		var (
			out     []*store.Message
			cursor  string
			scanned int
		)
		for scanned < e.cfg.ScanLimit && len(out) < limit {
			page, next, err := e.store.RecentMessages(ctx, owner, min(100, e.cfg.ScanLimit-scanned), cursor)
			if err != nil {
				return nil, err
			}
			for _, m := range page {
				scanned++
				if m.TopicID == topicID && len(out) < limit {
					out = append(out, m)
				}
			}
			if next == "" || len(page) == 0 {
				break
			}
			cursor = next
		}
		return out, nil
	})
}

// RecentMessages returns the owner's newest messages, cache first.
func (e *Engine) RecentMessages(ctx context.Context, owner string, limit int) ([]*store.Message, error) {
	s := e.state(owner)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return e.recent(ctx, owner, limit)
}

// recent is RecentMessages without the owner lock; Assign already holds it.
func (e *Engine) recent(ctx context.Context, owner string, limit int) ([]*store.Message, error) {
	if limit <= 0 {
		limit = e.cfg.Window
	}
	key := e.cache.Key(recentPrefix(owner), map[string]any{"limit": limit})
	return cache.Fetch(ctx, e.cache, key, e.cfg.CacheTTL, func(ctx context.Context) ([]*store.Message, error) {
		msgs, _, err := e.store.RecentMessages(ctx, owner, limit, "")
		return msgs, err
	})
}

// InvalidateRecent drops the owner's cached recent window. Callers that
// insert messages must call it before returning.
func (e *Engine) InvalidateRecent(ctx context.Context, owner string) {
	e.cache.InvalidatePrefix(ctx, recentPrefix(owner))
}

// Rebuild drops the owner's registry and recomputes it from the store.
// Message counts may go down here and nowhere else.
func (e *Engine) Rebuild(ctx context.Context, owner string) (int, error) {
	s := e.state(owner)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.loaded = false
	if err := e.hydrate(ctx, owner, s); err != nil {
		return 0, err
	}
	e.cache.InvalidatePrefix(ctx, ownerPrefix(owner))
	return len(s.topics), nil
}

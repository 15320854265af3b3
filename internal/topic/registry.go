package topic

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Topic is a cluster of one owner's messages.
type Topic struct {
	ID           string    `json:"id"`
	OwnerID      string    `json:"owner_id"`
	Keywords     []string  `json:"keywords"`
	MessageCount int       `json:"message_count"`
	LastUpdated  time.Time `json:"last_updated"`
	Seq          int       `json:"seq"`
}

// ownerState is one owner's slice of the registry. mu serializes the
// read-decide-write of Assign against every other call for the owner.
type ownerState struct {
	mu      sync.RWMutex
	loaded  bool
	topics  map[string]*Topic
	nextSeq int
}

func newOwnerState() *ownerState {
	return &ownerState{topics: make(map[string]*Topic)}
}

func topicID(owner string, seq int) string {
	return fmt.Sprintf("topic_%s_%d", owner, seq)
}

// seqOf recovers the creation sequence from an id built by topicID.
func seqOf(id string) int {
	i := strings.LastIndex(id, "_")
	if i < 0 {
		return 0
	}
	n, err := strconv.Atoi(id[i+1:])
	if err != nil {
		return 0
	}
	return n
}

// snapshot returns copies ordered newest LastUpdated first, then by ID.
func (s *ownerState) snapshot() []Topic {
	out := make([]Topic, 0, len(s.topics))
	for _, t := range s.topics {
		c := *t
		c.Keywords = append([]string(nil), t.Keywords...)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastUpdated.Equal(out[j].LastUpdated) {
			return out[i].LastUpdated.After(out[j].LastUpdated)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// bySeq returns the owner's topics in creation order.
func (s *ownerState) bySeq() []*Topic {
	out := make([]*Topic, 0, len(s.topics))
	for _, t := range s.topics {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// hydrate rebuilds the owner's registry from the store. Topic ids, counts
// and the sequence come from the whole history; keywords only from the
// newest ScanLimit messages. Must be called with s.mu held for writing.
func (e *Engine) hydrate(ctx context.Context, owner string, s *ownerState) error {
	s.topics = make(map[string]*Topic)
	s.nextSeq = 0

	stats, err := e.store.TopicStats(ctx, owner)
	if err != nil {
		return fmt.Errorf("failed to hydrate topics for %s: %w", owner, err)
	}
	for _, st := range stats {
		t := &Topic{
			ID:           st.TopicID,
			OwnerID:      owner,
			MessageCount: st.MessageCount,
			LastUpdated:  st.LastMessageAt,
			Seq:          seqOf(st.TopicID),
		}
		s.topics[t.ID] = t
		if t.Seq > s.nextSeq {
			s.nextSeq = t.Seq
		}
	}

	members := make(map[string][]string)
	var cursor string
	scanned := 0
	for scanned < e.cfg.ScanLimit && len(s.topics) > 0 {
		page, next, err := e.store.RecentMessages(ctx, owner, min(100, e.cfg.ScanLimit-scanned), cursor)
		if err != nil {
			return fmt.Errorf("failed to hydrate topics for %s: %w", owner, err)
		}
		for _, m := range page {
			scanned++
			if _, ok := s.topics[m.TopicID]; ok {
				members[m.TopicID] = append(members[m.TopicID], m.Content)
			}
		}
		if next == "" || len(page) == 0 {
			break
		}
		cursor = next
	}

	if len(members) > 0 {
		err := e.refreshKeywordsFrom(ctx, s, members)
		if err != nil {
			return err
		}
	}
	s.loaded = true
	return nil
}

func (e *Engine) refreshKeywordsFrom(ctx context.Context, s *ownerState, members map[string][]string) error {
	ids := sortedTerms(members)
	var docs []string
	spans := make(map[string][2]int, len(ids))
	for _, id := range ids {
		start := len(docs)
		docs = append(docs, members[id]...)
		spans[id] = [2]int{start, len(docs)}
	}

	vectors, err := submit(ctx, e.pool, func() []vector {
		return vectorize(docs, e.cfg.MaxFeatures)
	})
	if err != nil {
		return err
	}
	for _, id := range ids {
		span := spans[id]
		s.topics[id].Keywords = keywords(vectors[span[0]:span[1]], e.cfg.MaxKeywords)
	}
	return nil
}

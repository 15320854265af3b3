package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/felixgeelhaar/nova/internal/observe"
	"github.com/felixgeelhaar/nova/internal/prompt"
	"github.com/felixgeelhaar/nova/internal/provider"
	"github.com/felixgeelhaar/nova/internal/store"
)

const (
	defaultWindow = 10
	defaultMaxLen = 400
)

// Summarizer condenses an owner's recent messages into a memory.
type Summarizer struct {
	mem      Memory
	store    store.Storage
	provider provider.Provider
	tmpl     *prompt.Templates
	obs      *observe.Observer

	Window int // messages per summary
	MaxLen int // runes kept by the fallback
}

func NewSummarizer(mem Memory, s store.Storage, p provider.Provider, tmpl *prompt.Templates, obs *observe.Observer) *Summarizer {
	if tmpl == nil {
		tmpl = prompt.MustDefault()
	}
	if obs == nil {
		obs = observe.Discard()
	}
	return &Summarizer{
		mem:      mem,
		store:    s,
		provider: p,
		tmpl:     tmpl,
		obs:      obs,
		Window:   defaultWindow,
		MaxLen:   defaultMaxLen,
	}
}

// Summarize files a summary of the owner's latest messages. When the model
// is unavailable the summary is a truncated transcript instead.
func (s *Summarizer) Summarize(ctx context.Context, ownerID string) (Item, error) {
	ctx, span := s.obs.StartSpan(ctx, "memory.Summarize")
	defer span.End()

	recent, _, err := s.store.RecentMessages(ctx, ownerID, s.Window, "")
	if err != nil {
		return Item{}, fmt.Errorf("failed to load messages: %w", err)
	}
	if len(recent) == 0 {
		return Item{}, errors.New("nothing to summarize")
	}

	// oldest first
	history := make([]prompt.Turn, len(recent))
	ids := make([]string, len(recent))
	for i, m := range recent {
		j := len(recent) - 1 - i
		history[j] = prompt.Turn{Role: string(m.Role), Content: m.Content}
		ids[j] = m.ID
	}

	text, source := s.modelSummary(ctx, history)
	if text == "" {
		text, source = fallbackSummary(history, s.MaxLen), "fallback"
	}

	item := Item{
		OwnerID:    ownerID,
		Content:    text,
		MessageIDs: ids,
		Metadata:   map[string]string{"source": source},
	}
	id, err := s.mem.Add(ctx, item)
	if err != nil {
		return Item{}, fmt.Errorf("failed to store summary: %w", err)
	}
	item.ID = id

	s.obs.Log().Info().Str("owner", ownerID).Str("source", source).Int("messages", len(ids)).Msg("summary stored")
	return item, nil
}

func (s *Summarizer) modelSummary(ctx context.Context, history []prompt.Turn) (string, string) {
	if s.provider == nil {
		return "", ""
	}
	req, err := s.tmpl.Summary(prompt.SummaryData{History: history})
	if err != nil {
		s.obs.Log().Warn().Err(err).Msg("summary prompt failed to render")
		return "", ""
	}
	resp, err := s.provider.Chat(ctx, []provider.Message{{Role: "user", Content: req}},
		provider.Options{Temperature: 0.3, MaxTokens: 300})
	if err != nil {
		s.obs.Log().Warn().Err(err).Msg("summary generation failed, truncating instead")
		return "", ""
	}
	return strings.TrimSpace(resp.Content), "model"
}

// fallbackSummary keeps what the user said, newest last, cut to maxLen runes.
func fallbackSummary(history []prompt.Turn, maxLen int) string {
	var parts []string
	for _, t := range history {
		if t.Role != string(store.RoleUser) {
			continue
		}
		if c := strings.TrimSpace(t.Content); c != "" {
			parts = append(parts, c)
		}
	}
	if len(parts) == 0 {
		for _, t := range history {
			parts = append(parts, strings.TrimSpace(t.Content))
		}
	}
	return truncateRunes(strings.Join(parts, " / "), maxLen)
}

func truncateRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "..."
}

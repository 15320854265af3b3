// Package chain runs the two-stage reply pipeline: an analysis call that
// returns structured notes, then a generation call that writes the reply.
// Neither stage can fail the pipeline.
package chain

import (
	"context"
	"strings"
	"sync"

	"github.com/felixgeelhaar/nova/internal/observe"
	"github.com/felixgeelhaar/nova/internal/prompt"
	"github.com/felixgeelhaar/nova/internal/provider"
)

// FallbackResponse is returned when generation fails or comes back empty.
const FallbackResponse = "I'm having trouble generating a response right now. Could you please rephrase your question?"

// Stage of one pipeline run.
type Stage string

const (
	StageIdle       Stage = "idle"
	StageAnalyzing  Stage = "analyzing"
	StageDegraded   Stage = "degraded"
	StageGenerating Stage = "generating"
	StageDone       Stage = "done"
)

// Transition is reported to listeners on every stage change.
type Transition struct {
	From Stage
	To   Stage
	Err  error // set on the move into StageDegraded
}

// Result of ProcessMessage.
type Result struct {
	Response          string
	NeedsMemoryUpdate bool
	Analysis          AnalysisResult
	Degraded          bool // analysis fell back
	GenerationFailed  bool // Response is FallbackResponse
	Stage             Stage
}

type Config struct {
	HistoryWindow int
	Analysis      provider.Options
	Generation    provider.Options
	Templates     *prompt.Templates
}

func DefaultConfig() Config {
	return Config{
		HistoryWindow: 5,
		Analysis:      provider.Options{Temperature: 0.3, MaxTokens: 1000},
		Generation:    provider.Options{Temperature: 0.7, MaxTokens: 1000},
	}
}

type Chain struct {
	analyzer  provider.Provider
	generator provider.Provider
	cfg       Config
	tmpl      *prompt.Templates
	obs       *observe.Observer

	mu        sync.RWMutex
	listeners []func(Transition)
}

// New builds a pipeline. analyzer and generator may be the same provider.
func New(analyzer, generator provider.Provider, obs *observe.Observer, cfg Config) *Chain {
	if obs == nil {
		obs = observe.Discard()
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 5
	}
	tmpl := cfg.Templates
	if tmpl == nil {
		tmpl = prompt.MustDefault()
	}
	return &Chain{
		analyzer:  analyzer,
		generator: generator,
		cfg:       cfg,
		tmpl:      tmpl,
		obs:       obs,
	}
}

// OnTransition registers a listener for stage changes.
func (c *Chain) OnTransition(fn func(Transition)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *Chain) move(from, to Stage, err error) Stage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, fn := range c.listeners {
		fn(Transition{From: from, To: to, Err: err})
	}
	return to
}

// ProcessMessage runs one analyze call and one generate call. It always
// returns a non-empty response.
func (c *Chain) ProcessMessage(ctx context.Context, message string, history []provider.Message) Result {
	ctx, span := c.obs.StartSpan(ctx, "chain.ProcessMessage")
	defer span.End()

	window := history
	if len(window) > c.cfg.HistoryWindow {
		window = window[len(window)-c.cfg.HistoryWindow:]
	}

	res := Result{}
	stage := c.move(StageIdle, StageAnalyzing, nil)

	analysis, err := c.analyze(ctx, message, window)
	if err != nil {
		c.obs.Log().Warn().Err(err).Msg("analysis failed, continuing with fallback")
		analysis = fallbackAnalysis(message)
		res.Degraded = true
		stage = c.move(stage, StageDegraded, err)
	}
	res.Analysis = analysis
	res.NeedsMemoryUpdate = analysis.NeedsMemoryUpdate

	stage = c.move(stage, StageGenerating, nil)
	reply, err := c.generate(ctx, message, analysis, window)
	if err != nil {
		c.obs.Log().Error().Err(err).Msg("generation failed, returning fallback")
		reply = FallbackResponse
		res.GenerationFailed = true
	}
	res.Response = reply
	res.Stage = c.move(stage, StageDone, nil)

	analysisOutcome, generationOutcome := "ok", "ok"
	if res.Degraded {
		analysisOutcome = "fallback"
	}
	if res.GenerationFailed {
		generationOutcome = "fallback"
	}
	c.obs.Metrics().PipelineRun(analysisOutcome, generationOutcome)
	return res
}

func (c *Chain) analyze(ctx context.Context, message string, window []provider.Message) (AnalysisResult, error) {
	ctx, span := c.obs.StartSpan(ctx, "chain.analyze")
	defer span.End()

	text, err := c.tmpl.Analysis(prompt.AnalysisData{History: turns(window), Message: message})
	if err != nil {
		return AnalysisResult{}, err
	}

	resp, err := c.analyzer.Chat(ctx, []provider.Message{{Role: "user", Content: text}}, c.cfg.Analysis)
	if err != nil {
		return AnalysisResult{}, err
	}
	return parseAnalysis(resp.Content)
}

func (c *Chain) generate(ctx context.Context, message string, analysis AnalysisResult, window []provider.Message) (string, error) {
	ctx, span := c.obs.StartSpan(ctx, "chain.generate")
	defer span.End()

	system, err := c.tmpl.System(prompt.SystemData{
		KeyPoints:       analysis.KeyPoints,
		RequiredContext: analysis.RequiredContext,
		ResponseStyle:   analysis.ResponseStyle,
	})
	if err != nil {
		return "", err
	}

	msgs := make([]provider.Message, 0, len(window)+2)
	msgs = append(msgs, provider.Message{Role: "system", Content: system})
	msgs = append(msgs, window...)
	msgs = append(msgs, provider.Message{Role: "user", Content: message})

	resp, err := c.generator.Chat(ctx, msgs, c.cfg.Generation)
	if err != nil {
		return "", err
	}
	reply := strings.TrimSpace(resp.Content)
	if reply == "" {
		return "", errEmptyReply
	}
	return reply, nil
}

func turns(msgs []provider.Message) []prompt.Turn {
	out := make([]prompt.Turn, len(msgs))
	for i, m := range msgs {
		out[i] = prompt.Turn{Role: m.Role, Content: m.Content}
	}
	return out
}

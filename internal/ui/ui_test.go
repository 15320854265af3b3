package ui

import (
	"testing"

	"github.com/felixgeelhaar/nova/internal/runtime"
)

func TestSilentUI_ImplementsInterface(t *testing.T) {
	var _ UI = SilentUI{}
	var _ UI = &SilentUI{}

	// Should not panic
	SilentUI{}.UpdateStatus("analyzing")
	SilentUI{}.Log("")
}

// MockUI implements UI interface for testing
type MockUI struct {
	StatusUpdates []string
	LogMessages   []string
}

func (m *MockUI) UpdateStatus(status string) {
	m.StatusUpdates = append(m.StatusUpdates, status)
}

func (m *MockUI) Log(msg string) {
	m.LogMessages = append(m.LogMessages, msg)
}

func TestAttach_StageChanges(t *testing.T) {
	bus := runtime.NewEventBus()
	ui := &MockUI{}
	Attach(bus, ui)

	bus.PublishWithData(runtime.EventStageChanged, "", map[string]any{"from": "idle", "to": "analyzing"})
	bus.PublishWithData(runtime.EventStageChanged, "", map[string]any{"from": "analyzing", "to": "degraded", "error": "timeout"})

	if len(ui.StatusUpdates) != 2 {
		t.Fatalf("expected 2 status updates, got %d", len(ui.StatusUpdates))
	}
	if ui.StatusUpdates[1] != "degraded" {
		t.Errorf("expected 'degraded', got %q", ui.StatusUpdates[1])
	}
	if len(ui.LogMessages) != 1 {
		t.Fatalf("expected the degradation to be logged, got %v", ui.LogMessages)
	}
}

func TestAttach_Summaries(t *testing.T) {
	bus := runtime.NewEventBus()
	ui := &MockUI{}
	Attach(bus, ui)

	bus.PublishWithData(runtime.EventSummaryStored, "u1", map[string]any{"source": "model"})
	bus.PublishWithData(runtime.EventSummaryFailed, "u1", map[string]any{"error": "nothing to summarize"})
	bus.PublishWithData(runtime.EventMessageStored, "u1", nil)

	if len(ui.LogMessages) != 2 {
		t.Fatalf("expected 2 log messages, got %v", ui.LogMessages)
	}
	if ui.LogMessages[0] != "memory updated (model)" {
		t.Errorf("unexpected message %q", ui.LogMessages[0])
	}
	if len(ui.StatusUpdates) != 0 {
		t.Errorf("expected no status updates, got %v", ui.StatusUpdates)
	}
}

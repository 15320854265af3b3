// Package ui turns runtime events into status updates for whatever front end
// is attached: the interactive chat screen or nothing at all.
package ui

import (
	"fmt"

	"github.com/felixgeelhaar/nova/internal/runtime"
)

type UI interface {
	UpdateStatus(status string)
	Log(msg string)
}

type SilentUI struct{}

func (s SilentUI) UpdateStatus(status string) {}
func (s SilentUI) Log(msg string)             {}

// Attach forwards pipeline stages and memory activity from bus to u.
func Attach(bus *runtime.EventBus, u UI) {
	bus.Subscribe(runtime.EventStageChanged, func(e runtime.Event) {
		to, _ := e.Data["to"].(string)
		u.UpdateStatus(to)
		if reason, ok := e.Data["error"].(string); ok {
			u.Log(fmt.Sprintf("analysis unavailable (%s), answering without it", reason))
		}
	})
	bus.Subscribe(runtime.EventSummaryStored, func(e runtime.Event) {
		u.Log(fmt.Sprintf("memory updated (%v)", e.Data["source"]))
	})
	bus.Subscribe(runtime.EventSummaryFailed, func(e runtime.Event) {
		u.Log(fmt.Sprintf("memory update failed: %v", e.Data["error"]))
	})
}

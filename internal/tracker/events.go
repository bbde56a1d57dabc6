package tracker

import (
	"fmt"

	"github.com/dhruvsoni1802/browser-usage-tracker/internal/session"
	"github.com/dhruvsoni1802/browser-usage-tracker/internal/syncer"
)

// Event is anything the tracker reacts to. The set of implementations is closed.
type Event interface {
	Kind() string
	isEvent()
}

// TabActivated is sent when a tab becomes the active tab of the focused window
type TabActivated struct {
	Tab session.Tab
}

// TabUpdated is sent when a tab's URL or title changes
type TabUpdated struct {
	Tab session.Tab
}

// TabRemoved is sent when a tab is closed
type TabRemoved struct {
	TabID int
}

// FocusChanged is sent when the browser gains or loses window focus
type FocusChanged struct {
	Focused bool
}

// IdleState mirrors the browser idle API states
type IdleState string

const (
	IdleActive IdleState = "active"
	IdleIdle   IdleState = "idle"
	IdleLocked IdleState = "locked"
)

// ParseIdleState validates a state reported by an event source
func ParseIdleState(s string) (IdleState, error) {
	switch IdleState(s) {
	case IdleActive, IdleIdle, IdleLocked:
		return IdleState(s), nil
	}
	return "", fmt.Errorf("unknown idle state %q", s)
}

// IdleStateChanged is sent on idle detection transitions
type IdleStateChanged struct {
	State IdleState
}

// AlarmSync is the name of the periodic sync alarm
const AlarmSync = "sync"

// AlarmFired is sent by the scheduler
type AlarmFired struct {
	Name string
}

// UserMessage carries a request from the UI layer. Exactly one Response is
// delivered on Reply.
type UserMessage struct {
	Request Request
	Reply   chan<- Response
}

// syncCompleted is posted back to the loop by the sync goroutine
type syncCompleted struct {
	batch      int
	generation int
	resume     bool
	result     syncer.Result
}

func (TabActivated) Kind() string     { return "tab_activated" }
func (TabUpdated) Kind() string       { return "tab_updated" }
func (TabRemoved) Kind() string       { return "tab_removed" }
func (FocusChanged) Kind() string     { return "focus_changed" }
func (IdleStateChanged) Kind() string { return "idle_state_changed" }
func (AlarmFired) Kind() string       { return "alarm_fired" }
func (UserMessage) Kind() string      { return "user_message" }
func (syncCompleted) Kind() string    { return "sync_completed" }

func (TabActivated) isEvent()     {}
func (TabUpdated) isEvent()       {}
func (TabRemoved) isEvent()       {}
func (FocusChanged) isEvent()     {}
func (IdleStateChanged) isEvent() {}
func (AlarmFired) isEvent()       {}
func (UserMessage) isEvent()      {}
func (syncCompleted) isEvent()    {}

package orchestrator

import (
	"github.com/Jakedismo/ouroboros-code-sub001/pkg/tools"
)

// Event is one progress notification delivered through a Stream. Exactly one
// terminal event (CompleteEvent or FallbackEvent) ends every sequence.
type Event interface {
	progressEvent()
}

// RosterState is a unit's position in the session lifecycle.
type RosterState string

const (
	RosterStatePending RosterState = "pending"
	RosterStateRunning RosterState = "running"
	RosterStateDone    RosterState = "done"
)

// RosterStatus is one specialist's entry in a start-event roster snapshot.
type RosterStatus struct {
	SpecialistID string      `json:"specialistId"`
	Name         string      `json:"name"`
	State        RosterState `json:"state"`
}

// SpecialistStartEvent reports a specialist beginning its session, with the
// wave it was assigned and a snapshot of every specialist currently in the
// graph.
type SpecialistStartEvent struct {
	SpecialistID   string         `json:"specialistId"`
	SpecialistName string         `json:"specialistName"`
	Wave           int            `json:"wave"`
	Roster         []RosterStatus `json:"roster"`
}

// SpecialistProgressEvent carries the coalesced tail of a specialist's
// streamed reasoning. It fires only when the visible tail changes.
type SpecialistProgressEvent struct {
	SpecialistID string `json:"specialistId"`
	Text         string `json:"text"`
}

// ToolActivityEvent is one tool telemetry record attributed to a specialist.
// A pending record and its final outcome arrive as separate events sharing a
// call id.
type ToolActivityEvent struct {
	SpecialistID string          `json:"specialistId"`
	Event        tools.ToolEvent `json:"event"`
}

// SpecialistCompleteEvent carries a specialist's parsed run result.
type SpecialistCompleteEvent struct {
	Result *SpecialistRunResult `json:"result"`
}

// CompleteEvent is the successful terminal notification.
type CompleteEvent struct {
	Result *ExecutionResult `json:"result"`
}

// FallbackEvent is the unsuccessful terminal notification: the caller should
// proceed without orchestration. Err carries the underlying fault, nil when
// the session never had specialists to run.
type FallbackEvent struct {
	Reason string `json:"reason"`
	Err    error  `json:"-"`
}

func (*SpecialistStartEvent) progressEvent()    {}
func (*SpecialistProgressEvent) progressEvent() {}
func (*ToolActivityEvent) progressEvent()       {}
func (*SpecialistCompleteEvent) progressEvent() {}
func (*CompleteEvent) progressEvent()           {}
func (*FallbackEvent) progressEvent()           {}

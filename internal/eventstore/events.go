package eventstore

import (
	"encoding/json"
	"time"

	"git.home.luguber.info/inful/buildorch/internal/foundation/errors"
)

// Event type names.
const (
	TypeRunStarted   = "RunStarted"
	TypeStateChanged = "StateChanged"
	TypeRunCancelled = "RunCancelled"
	TypeRunFinished  = "RunFinished"
)

// RunStartedPayload describes a new run.
type RunStartedPayload struct {
	Collection  string   `json:"collection"`
	Processes   []string `json:"processes"`
	BatchMode   bool     `json:"batch_mode"`
	BuildAndRun bool     `json:"build_and_run,omitempty"`
	BuildTag    string   `json:"build_tag,omitempty"`
}

// StateChangedPayload is one orchestrator transition.
type StateChangedPayload struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Process string `json:"process,omitempty"`
	Index   int    `json:"index"`
}

// RunCancelledPayload records why a run was aborted.
type RunCancelledPayload struct {
	Message string `json:"message"`
	State   string `json:"state"`
}

// RunFinishedPayload is the terminal outcome of a run.
type RunFinishedPayload struct {
	Outcome    string `json:"outcome"`
	DurationMS int64  `json:"duration_ms"`
}

// NewRunStarted creates a RunStarted event.
func NewRunStarted(runID string, p RunStartedPayload) (Event, error) {
	return newEvent(runID, TypeRunStarted, p)
}

// NewStateChanged creates a StateChanged event.
func NewStateChanged(runID string, p StateChangedPayload) (Event, error) {
	return newEvent(runID, TypeStateChanged, p)
}

// NewRunCancelled creates a RunCancelled event.
func NewRunCancelled(runID string, p RunCancelledPayload) (Event, error) {
	return newEvent(runID, TypeRunCancelled, p)
}

// NewRunFinished creates a RunFinished event.
func NewRunFinished(runID, outcome string, duration time.Duration) (Event, error) {
	return newEvent(runID, TypeRunFinished, RunFinishedPayload{Outcome: outcome, DurationMS: duration.Milliseconds()})
}

func newEvent(runID, eventType string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, errors.WrapError(err, errors.CategoryInternal, "encode event payload").
			WithContext("run_id", runID).
			WithContext("event_type", eventType).
			Build()
	}
	return Event{RunID: runID, Type: eventType, Payload: data}, nil
}

// Package orchestrator drives a build run through its per-process stages. A
// Process is a re-entrant state machine: every Advance performs at most one
// transition or one step poll, saves the run record and returns, so the host
// can be restarted between any two ticks and resume from the saved record.
package orchestrator

import (
	"time"

	"git.home.luguber.info/inful/buildorch/internal/config"
	"git.home.luguber.info/inful/buildorch/internal/step"
)

// State is the orchestrator's state tag.
type State string

const (
	// StateInvalid is both the initial state and the point where the next
	// selected process is picked.
	StateInvalid   State = "invalid"
	StateSetup     State = "setup"
	StatePreSteps  State = "pre_steps"
	StateBuilding  State = "building"
	StatePostSteps State = "post_steps"
	StateDone      State = "done"
	StateAborted   State = "aborted"
)

// Terminal reports whether s is done or aborted.
func (s State) Terminal() bool {
	return s == StateDone || s == StateAborted
}

// active reports whether a process's pipeline is running in s.
func (s State) active() bool {
	switch s {
	case StateSetup, StatePreSteps, StateBuilding, StatePostSteps:
		return true
	default:
		return false
	}
}

// RunStateVersion is the schema version of RunState.
const RunStateVersion = 1

// RunState is the persisted run record. 0 <= CurrentIndex <= len(Selected),
// and CurrentIndex == len(Selected) only once every process has finished.
type RunState struct {
	Version        int                        `json:"version"`
	RunID          string                     `json:"run_id"`
	State          State                      `json:"state"`
	CurrentIndex   int                        `json:"current_index"`
	Collection     *config.BuildCollection    `json:"collection"`
	Selected       []config.BuildProcess      `json:"selected"`
	BatchMode      bool                       `json:"batch_mode"`
	BuildAndRun    bool                       `json:"build_and_run"`
	BuildTag       string                     `json:"build_tag,omitempty"`
	ProjectDir     string                     `json:"project_dir"`
	Env            map[string]string          `json:"env,omitempty"`
	Configuration  *config.BuildConfiguration `json:"configuration,omitempty"`
	PreSteps       step.WalkerState           `json:"pre_steps"`
	PostSteps      step.WalkerState           `json:"post_steps"`
	LogRestore     string                     `json:"log_restore,omitempty"`
	Finished       bool                       `json:"finished"`
	Message        string                     `json:"message,omitempty"`
	StartedAt      time.Time                  `json:"started_at"`
	StageStartedAt time.Time                  `json:"stage_started_at"`
	UpdatedAt      time.Time                  `json:"updated_at"`
}

// selectedNames returns the names of the selected processes.
func (rs *RunState) selectedNames() []string {
	names := make([]string, len(rs.Selected))
	for i, p := range rs.Selected {
		names[i] = p.Name
	}
	return names
}

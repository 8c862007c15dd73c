package eventstore

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Run status values in summaries.
const (
	RunStatusRunning = "running"
	RunStatusDone    = "done"
	RunStatusAborted = "aborted"
)

// RunSummary is a read model of one run.
type RunSummary struct {
	RunID       string        `json:"run_id"`
	Collection  string        `json:"collection"`
	Processes   []string      `json:"processes"`
	Status      string        `json:"status"`
	LastState   string        `json:"last_state"`
	Transitions int           `json:"transitions"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  *time.Time    `json:"finished_at,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`
	Message     string        `json:"message,omitempty"`
}

// RunHistoryProjection rebuilds run summaries from stored events.
type RunHistoryProjection struct {
	mu      sync.RWMutex
	store   Store
	runs    map[string]*RunSummary
	maxSize int
}

// NewRunHistoryProjection creates a projection backed by store.
func NewRunHistoryProjection(store Store, maxHistorySize int) *RunHistoryProjection {
	if maxHistorySize <= 0 {
		maxHistorySize = 50
	}
	return &RunHistoryProjection{
		store:   store,
		runs:    make(map[string]*RunSummary),
		maxSize: maxHistorySize,
	}
}

// Rebuild reconstructs the projection from all events in the store.
func (p *RunHistoryProjection) Rebuild(ctx context.Context) error {
	events, err := p.store.GetRange(ctx, time.Time{}, time.Now().Add(time.Hour))
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.runs = make(map[string]*RunSummary)
	for _, e := range events {
		p.applyLocked(e)
	}
	return nil
}

// Apply folds a single event into the projection.
func (p *RunHistoryProjection) Apply(e Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.applyLocked(e)
}

func (p *RunHistoryProjection) applyLocked(e Event) {
	run, ok := p.runs[e.RunID]
	if !ok {
		run = &RunSummary{RunID: e.RunID, Status: RunStatusRunning, StartedAt: e.RecordedAt}
		p.runs[e.RunID] = run
	}

	switch e.Type {
	case TypeRunStarted:
		var payload RunStartedPayload
		if e.Decode(&payload) == nil {
			run.Collection = payload.Collection
			run.Processes = payload.Processes
		}
		run.StartedAt = e.RecordedAt
	case TypeStateChanged:
		var payload StateChangedPayload
		if e.Decode(&payload) == nil {
			run.LastState = payload.To
		}
		run.Transitions++
	case TypeRunCancelled:
		var payload RunCancelledPayload
		if e.Decode(&payload) == nil {
			run.Message = payload.Message
		}
	case TypeRunFinished:
		var payload RunFinishedPayload
		if e.Decode(&payload) == nil {
			run.Status = payload.Outcome
			run.Duration = time.Duration(payload.DurationMS) * time.Millisecond
		}
		finished := e.RecordedAt
		run.FinishedAt = &finished
	}
}

// History returns summaries newest first, at most maxHistorySize of them.
func (p *RunHistoryProjection) History() []RunSummary {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]RunSummary, 0, len(p.runs))
	for _, r := range p.runs {
		out = append(out, *r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if len(out) > p.maxSize {
		out = out[:p.maxSize]
	}
	return out
}

// Get returns the summary for runID.
func (p *RunHistoryProjection) Get(runID string) (RunSummary, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	r, ok := p.runs[runID]
	if !ok {
		return RunSummary{}, false
	}
	return *r, true
}

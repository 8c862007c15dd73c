package metrics

import "time"

// ResultLabel enumerates stage result categories for counters.
type ResultLabel string

const (
	ResultSuccess  ResultLabel = "success"
	ResultSkipped  ResultLabel = "skipped"
	ResultFailed   ResultLabel = "failed"
	ResultCanceled ResultLabel = "canceled"
)

// RunOutcomeLabel is the terminal state a run ended in.
type RunOutcomeLabel string

const (
	RunOutcomeDone    RunOutcomeLabel = "done"
	RunOutcomeAborted RunOutcomeLabel = "aborted"
)

// Recorder defines observability hooks for runs, stages and steps.
type Recorder interface {
	ObserveStageDuration(stage string, d time.Duration)
	ObserveStepDuration(step string, d time.Duration)
	ObserveBuildDuration(process string, d time.Duration)
	IncStageResult(stage string, result ResultLabel)
	IncRunOutcome(outcome RunOutcomeLabel)
	IncStepRetry(step string)
	SetProgress(p float64)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveStageDuration(string, time.Duration) {}
func (NoopRecorder) ObserveStepDuration(string, time.Duration)  {}
func (NoopRecorder) ObserveBuildDuration(string, time.Duration) {}
func (NoopRecorder) IncStageResult(string, ResultLabel)         {}
func (NoopRecorder) IncRunOutcome(RunOutcomeLabel)              {}
func (NoopRecorder) IncStepRetry(string)                        {}
func (NoopRecorder) SetProgress(float64)                        {}

// OrNoop returns r, or NoopRecorder when r is nil.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return NoopRecorder{}
	}
	return r
}

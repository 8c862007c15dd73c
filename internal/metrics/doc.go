// Package metrics provides the observability hooks used by the orchestrator,
// the step walker and individual steps.
//
// Components receive a Recorder through dependency injection and default to
// NoopRecorder, so metrics collection never needs nil checks at call sites:
//
//	recorder := metrics.NewPrometheusRecorder(registry)
//	walker := step.NewWalker(registry, step.WithRecorder(recorder))
//
// Runs are short-lived command-line invocations, so the Prometheus recorder is
// exported with WriteTextfile (node_exporter textfile collector format) rather
// than served over HTTP.
package metrics

// Package state persists the orchestrator's run record under a well-known key
// path. The record's presence at that path marks a run as in progress, and it
// is what a restarted host reloads to resume.
//
// Two backends satisfy Store: JSONFileStore writes one file per path with an
// atomic rename, and SQLiteStore keeps records in a single SQLite table.
package state

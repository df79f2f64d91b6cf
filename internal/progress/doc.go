// Package progress carries pipeline run and stage milestones from the
// orchestrator to pluggable sinks. Events are batched on a background
// goroutine so emitting never blocks a running stage.
package progress

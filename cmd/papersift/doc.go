// Package main hosts the papersift CLI entrypoint and command graph.
//
// run drives one resumable classification pass through internal/pipeline.
// status, monitor, export and logs only read state and never take the run
// lock, so they are safe to use while a run is in progress. preflight,
// test-notify and config help get a deployment ready.
//
// Exit status follows pipeline.ExitCode: 2 for infrastructure failures and
// 130 when a second interrupt forced the run to stop.
package main

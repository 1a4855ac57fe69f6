// Package pipeline is the composition root for one classification run.
//
// Run wires the corpus store, the checkpoint ledger and its writer, the
// oracle client, admission control, the dispatcher, the shutdown
// coordinator, the progress monitor, notifications and the optional metrics
// server, then executes the run and records how it ended. ExitCode maps the
// outcome onto the process exit status used by the CLI.
package pipeline

// Package shutdown implements the two-phase stop used by papersift runs.
//
// The first SIGINT or SIGTERM drains the dispatcher: no new records are
// taken and in-flight attempts are given the grace period to settle. A
// second signal, or expiry of the grace period, cancels the run context so
// remaining oracle calls are abandoned. Status reports whether that forced
// phase actually cut anything off; the CLI maps a forced stop to exit code
// 130.
package shutdown

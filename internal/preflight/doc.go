// Package preflight provides readiness checks for the corpus, the ledger
// directory and the oracle that a run depends on.
//
// These checks run in two contexts:
//   - The pipeline calls RunAll before dispatching. If any check fails, the
//     run stops before a single oracle call is billed.
//   - The CLI "papersift preflight" and "status" commands use the individual
//     check functions to display readiness.
package preflight

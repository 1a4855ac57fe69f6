// Package logs reads the papersift log file for the `papersift logs` command.
//
// Tail returns the last N lines with bounded memory and the byte offset to
// continue from; Follow polls from an offset until its context ends. Both
// understand the console and JSON layouts closely enough to filter lines by
// run id.
package logs

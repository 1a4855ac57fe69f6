// Package notifications pushes run lifecycle events to ntfy.
//
// The topic comes from the [notifications] section of config.toml. With no
// topic configured NewService returns a no-op, so the pipeline can notify
// unconditionally. Each event class can be switched off independently.
package notifications

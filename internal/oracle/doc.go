// Package oracle defines the classification oracle boundary: the request and
// result types, the Client interface the dispatcher depends on, the failure
// taxonomy (rate limited, transient, malformed, permanent), result validation,
// token pricing, and helpers for decoding model JSON output.
//
// Transport-specific adapters live in subpackages and are injected by the
// pipeline; nothing in the dispatch core imports them.
package oracle

// Package openai implements oracle.Client over an OpenAI-compatible chat
// completions endpoint, including Azure OpenAI deployments.
//
// Each Classify call issues exactly one HTTP request; retries and backoff are
// owned by the dispatcher. HTTP failures are mapped onto the oracle error
// taxonomy: 429 becomes rate_limited (carrying Retry-After), 408 and 5xx
// become transient_network, undecodable or empty completions become
// malformed_response, and other 4xx responses become permanent_input.
// Credential and quota failures affect every record, so they are reported as
// infrastructure errors that halt the run instead of failing records one by
// one.
package openai

// Package throttle gates oracle calls and decides how failed attempts are
// retried.
//
// An Admitter hands out permission for one call at a time: a local token
// bucket, a Redis fixed-window counter shared by several runners, or no limit
// at all. Policy maps a failure onto the error taxonomy and returns whether
// to retry and after how long, using capped exponential backoff with
// multiplicative jitter.
package throttle

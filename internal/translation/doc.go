// Package translation calls an OpenAI-compatible chat completions endpoint
// to translate exam items between Chinese and English. Every call is
// individually timed out, transient failures are retried with exponential
// backoff, and an optional circuit breaker stops hammering an endpoint that
// keeps failing. Failures never escape as Go errors: they are reported in
// the Result of each item.
package translation

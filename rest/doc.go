// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package rest dispatches HTTP calls to the platform API while obeying
// its rate limits.
//
// Every call is compiled from a route template into a concrete path and
// a bucket key. Calls sharing a bucket run one at a time in submission
// order on a per-bucket worker; calls in different buckets run
// concurrently. Before each attempt the worker consults the route's
// [Bucket] and the dispatcher-wide global limit, suspending on the
// injected clock until the reset time when either is exhausted.
//
// Throttled (429) responses are absorbed: the dispatcher reads the
// retry-after duration, suspends the bucket (or every bucket, for a
// global limit) and retries. Callers see only the final outcome, or a
// [*RateLimitExceededError] once the retry budget is spent.
//
// Successful responses for requests that declare an entity kind are
// upserted into the shared cache. That is the dispatcher's only cache
// side effect.
package rest

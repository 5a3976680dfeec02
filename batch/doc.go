// Copyright (c) ImageFlow Authors.
// Licensed under the MIT License.

/*
Package batch implements the batch generation dispatcher: a bounded
worker pool that turns one "generate N images" request into N independent
upstream calls.

Each batch builds a slot queue of N task indices and runs min(cap, N)
workers that repeatedly claim a slot, call the provider adapter through
the retry policy, and emit events to the caller's EventSink. Per-slot
failures degrade that slot to a single error-status result; they never
abort sibling slots or the batch. Cancellation is observed before every
slot claim, before every retry attempt, and by the in-flight HTTP call;
a cancelled slot produces no events at all.

For a non-cancelled batch exactly one OnProgress call is made per task
slot, with a strictly increasing counter that ends at the batch size.
Cross-worker completion order is unspecified.
*/
package batch

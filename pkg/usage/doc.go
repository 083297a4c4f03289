// Package usage records one usage entry per proxied request and answers
// reporting queries over them.
//
// Recording is fire-and-forget. The proxy hands a Record to Recorder.Record,
// which enqueues it on a bounded channel and returns immediately; a single
// worker writes queued records to a Storage. A full queue drops the record
// and increments relay_usage_dropped_total. Usage records are for reporting
// only; quota accounting goes through the quota tracker.
//
// Reporting aggregates records per UTC day over closed-open ranges:
//
//	days, err := store.Query(ctx, keyID, usage.Range{From: from, To: to})
//	total := usage.Total(days)
//
// Pricing converts token counts to an estimated USD cost using a per-model
// table of prices per one million tokens.
//
// Implementations of Storage live in usage/storage; retention pruning lives
// in usage/retention.
package usage

// Package delivery implements the reconciliation core of parcelshare: it
// drives chunked uploads against an asynchronous ledger backend, tracks
// outbound distributions and inbound delivery notices, and folds the
// backend's pulse stream into a consistent local view.
//
// All commit operations are split-phase. A Start* call validates the parcel,
// splits it into chunks and dispatches the first batch of chunk writes; the
// rest of the lifecycle (further batches, the manifest commit, auto-send,
// tagging, caching) is driven entirely by pulses arriving on HandlePulseBatch.
// Callers observe progress through the read-only projections and the
// append-only notification log.
package delivery

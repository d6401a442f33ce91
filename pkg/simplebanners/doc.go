// Package simplebanners manages banner entries and publishes them as
// immutable, versioned snapshot sets.
//
// Entries are mutable. Every content change recomputes the entry's
// fingerprint, a BLAKE3 digest over a canonical CBOR encoding of the
// publishable fields and the denormalized slot and page. Publish takes the
// exclusive live-publication lock, deactivates the current live
// publication, creates a new one and reconciles every eligible entry:
// an entry whose fingerprint matches one of its snapshots reuses that
// snapshot, anything else gets a new snapshot. All of it commits as one
// transaction, and at most one publication is ever live.
//
// Snapshot Views
//
// A snapshot's CurrentPublicationID names the latest publication that
// reused it. The publication log keeps every publication a snapshot ever
// belonged to. ListCurrentSnapshots reads the former, ListPublicationLog
// and ListSnapshotPublications read the latter.
//
// Repositories (memory, Postgres) live under repo/.
package simplebanners

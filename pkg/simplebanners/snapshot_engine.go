package simplebanners

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SnapshotStore is the slice of a transaction the snapshot engine needs.
type SnapshotStore interface {
	LogWriter
	FindMatchingSnapshots(ctx context.Context, entries []*Entry) (map[uuid.UUID]*Snapshot, error)
	CreateSnapshots(ctx context.Context, snapshots []*Snapshot) error
	AttributeSnapshots(ctx context.Context, snapshotIDs []uuid.UUID, publicationID uuid.UUID) error
}

// SnapshotEngine decides per entry whether an existing snapshot is reused
// or a new one is captured.
type SnapshotEngine struct {
	now   func() time.Time
	newID func() uuid.UUID
}

// NewSnapshotEngine creates an engine using the given clock.
func NewSnapshotEngine(now func() time.Time) *SnapshotEngine {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &SnapshotEngine{now: now, newID: uuid.New}
}

// ReconcileResult holds the outcome of one reconcile pass.
type ReconcileResult struct {
	Reused  []uuid.UUID
	Created []uuid.UUID
}

// Reconcile attributes a snapshot of every entry to target. An entry whose
// fingerprint matches one of its snapshots reuses it; any other entry gets
// a fresh snapshot. Both paths are written in batches and every resulting
// id lands in target's publication log. It must run inside the publish
// transaction.
func (e *SnapshotEngine) Reconcile(ctx context.Context, store SnapshotStore, entries []*Entry, target *Publication) (*ReconcileResult, error) {
	result := &ReconcileResult{}
	if len(entries) == 0 {
		return result, nil
	}

	matches, err := store.FindMatchingSnapshots(ctx, entries)
	if err != nil {
		return nil, fmt.Errorf("find matching snapshots: %w", err)
	}

	now := e.now()
	var toCreate []*Snapshot
	for _, entry := range entries {
		if snapshot, ok := matches[entry.ID]; ok {
			result.Reused = append(result.Reused, snapshot.ID)
			continue
		}
		snapshot := &Snapshot{
			ID:                   e.newID(),
			Content:              entry.Content.Clone(),
			EntryID:              entry.ID,
			ContentHash:          entry.ContentHash,
			CurrentPublicationID: target.ID,
			CreatedAt:            now,
		}
		toCreate = append(toCreate, snapshot)
		result.Created = append(result.Created, snapshot.ID)
	}

	if len(result.Reused) > 0 {
		if err := store.AttributeSnapshots(ctx, result.Reused, target.ID); err != nil {
			return nil, fmt.Errorf("attribute reused snapshots: %w", err)
		}
	}
	if len(toCreate) > 0 {
		if err := store.CreateSnapshots(ctx, toCreate); err != nil {
			return nil, fmt.Errorf("create snapshots: %w", err)
		}
	}

	log := NewPublicationLog(store)
	ids := make([]uuid.UUID, 0, len(result.Reused)+len(result.Created))
	ids = append(ids, result.Reused...)
	ids = append(ids, result.Created...)
	if err := log.Add(ctx, target.ID, ids...); err != nil {
		return nil, fmt.Errorf("add to publication log: %w", err)
	}

	return result, nil
}

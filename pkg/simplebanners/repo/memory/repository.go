package memory

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-banners/pkg/simplebanners"
)

// Repository implements simplebanners.Repository using in-memory storage.
//
// Writers are serialized by a single lock that doubles as the exclusive
// live-publication lock; each write transaction works on a private copy of
// the state and publishes it atomically on commit. Readers load the last
// committed state and never wait for a writer.
type Repository struct {
	committed   atomic.Pointer[state]
	writer      chan struct{}
	lockTimeout time.Duration
}

// Option configures the in-memory repository
type Option func(*Repository)

// WithLockTimeout bounds how long a transaction waits for the writer lock
// before failing with simplebanners.ErrPublishConflict. Zero waits until
// the context is done.
func WithLockTimeout(d time.Duration) Option {
	return func(r *Repository) {
		r.lockTimeout = d
	}
}

// New creates a new in-memory repository
func New(opts ...Option) *Repository {
	r := &Repository{
		writer: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.committed.Store(newState())
	return r
}

var _ simplebanners.Repository = (*Repository)(nil)

func (r *Repository) read() *view {
	return &view{st: r.committed.Load()}
}

func (r *Repository) acquire(ctx context.Context) error {
	var timeout <-chan time.Time
	if r.lockTimeout > 0 {
		timer := time.NewTimer(r.lockTimeout)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case r.writer <- struct{}{}:
		return nil
	case <-timeout:
		return fmt.Errorf("%w: lock timeout after %s", simplebanners.ErrPublishConflict, r.lockTimeout)
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", simplebanners.ErrPublishConflict, ctx.Err())
	}
}

// WithTx runs fn against a private copy of the committed state and swaps
// it in only if fn succeeds, the context is still live and the store
// constraints hold.
func (r *Repository) WithTx(ctx context.Context, fn func(tx simplebanners.Tx) error) error {
	if err := r.acquire(ctx); err != nil {
		return err
	}
	defer func() { <-r.writer }()

	work := r.committed.Load().clone()
	if err := fn(&tx{view: view{st: work}}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := work.checkInvariants(); err != nil {
		return err
	}
	r.committed.Store(work)
	return nil
}

// Read operations on committed state

func (r *Repository) GetPage(ctx context.Context, id uuid.UUID) (*simplebanners.Page, error) {
	return r.read().GetPage(ctx, id)
}

func (r *Repository) ListPages(ctx context.Context) ([]*simplebanners.Page, error) {
	return r.read().ListPages(ctx)
}

func (r *Repository) GetSlot(ctx context.Context, id uuid.UUID) (*simplebanners.Slot, error) {
	return r.read().GetSlot(ctx, id)
}

func (r *Repository) ListSlots(ctx context.Context) ([]*simplebanners.Slot, error) {
	return r.read().ListSlots(ctx)
}

func (r *Repository) ListSlotsByPage(ctx context.Context, pageID uuid.UUID) ([]*simplebanners.Slot, error) {
	return r.read().ListSlotsByPage(ctx, pageID)
}

func (r *Repository) GetEntry(ctx context.Context, id uuid.UUID) (*simplebanners.Entry, error) {
	return r.read().GetEntry(ctx, id)
}

func (r *Repository) GetEntries(ctx context.Context, ids []uuid.UUID) ([]*simplebanners.Entry, error) {
	return r.read().GetEntries(ctx, ids)
}

func (r *Repository) ListEntries(ctx context.Context, filter simplebanners.EntryFilter) ([]*simplebanners.Entry, error) {
	return r.read().ListEntries(ctx, filter)
}

func (r *Repository) GetPublication(ctx context.Context, id uuid.UUID) (*simplebanners.Publication, error) {
	return r.read().GetPublication(ctx, id)
}

func (r *Repository) GetLivePublication(ctx context.Context) (*simplebanners.Publication, error) {
	return r.read().GetLivePublication(ctx)
}

// GetLiveSnapshotPage answers from one committed state.
func (r *Repository) GetLiveSnapshotPage(ctx context.Context, limit, offset int) (*simplebanners.Publication, []*simplebanners.Snapshot, int, error) {
	return r.read().GetLiveSnapshotPage(ctx, limit, offset)
}

func (r *Repository) ListPublications(ctx context.Context) ([]*simplebanners.Publication, error) {
	return r.read().ListPublications(ctx)
}

func (r *Repository) GetSnapshot(ctx context.Context, id uuid.UUID) (*simplebanners.Snapshot, error) {
	return r.read().GetSnapshot(ctx, id)
}

func (r *Repository) ListCurrentSnapshots(ctx context.Context, publicationID uuid.UUID, limit, offset int) ([]*simplebanners.Snapshot, int, error) {
	return r.read().ListCurrentSnapshots(ctx, publicationID, limit, offset)
}

func (r *Repository) ListLoggedSnapshots(ctx context.Context, publicationID uuid.UUID) ([]*simplebanners.Snapshot, error) {
	return r.read().ListLoggedSnapshots(ctx, publicationID)
}

func (r *Repository) ListSnapshotPublications(ctx context.Context, snapshotID uuid.UUID) ([]uuid.UUID, error) {
	return r.read().ListSnapshotPublications(ctx, snapshotID)
}

func (r *Repository) ListEntrySnapshots(ctx context.Context, entryID uuid.UUID) ([]*simplebanners.Snapshot, error) {
	return r.read().ListEntrySnapshots(ctx, entryID)
}

// Single-statement writes run in their own transaction

func (r *Repository) CreatePage(ctx context.Context, page *simplebanners.Page) error {
	return r.WithTx(ctx, func(t simplebanners.Tx) error { return t.CreatePage(ctx, page) })
}

func (r *Repository) UpdatePage(ctx context.Context, page *simplebanners.Page) error {
	return r.WithTx(ctx, func(t simplebanners.Tx) error { return t.UpdatePage(ctx, page) })
}

func (r *Repository) DeletePage(ctx context.Context, id uuid.UUID) error {
	return r.WithTx(ctx, func(t simplebanners.Tx) error { return t.DeletePage(ctx, id) })
}

func (r *Repository) CreateSlot(ctx context.Context, slot *simplebanners.Slot) error {
	return r.WithTx(ctx, func(t simplebanners.Tx) error { return t.CreateSlot(ctx, slot) })
}

func (r *Repository) UpdateSlot(ctx context.Context, slot *simplebanners.Slot) error {
	return r.WithTx(ctx, func(t simplebanners.Tx) error { return t.UpdateSlot(ctx, slot) })
}

func (r *Repository) DeleteSlot(ctx context.Context, id uuid.UUID) error {
	return r.WithTx(ctx, func(t simplebanners.Tx) error { return t.DeleteSlot(ctx, id) })
}

func (r *Repository) CreateEntries(ctx context.Context, entries []*simplebanners.Entry) error {
	return r.WithTx(ctx, func(t simplebanners.Tx) error { return t.CreateEntries(ctx, entries) })
}

func (r *Repository) UpdateEntry(ctx context.Context, entry *simplebanners.Entry) error {
	return r.WithTx(ctx, func(t simplebanners.Tx) error { return t.UpdateEntry(ctx, entry) })
}

func (r *Repository) DeleteEntry(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.WithTx(ctx, func(t simplebanners.Tx) error { return t.DeleteEntry(ctx, id, at) })
}

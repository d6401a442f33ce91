package simplebanners

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store defines the persistence operations available both on committed
// state and inside a transaction. Every read excludes inactive entries
// unless a filter asks for them.
type Store interface {
	// Page operations
	CreatePage(ctx context.Context, page *Page) error
	GetPage(ctx context.Context, id uuid.UUID) (*Page, error)
	UpdatePage(ctx context.Context, page *Page) error
	DeletePage(ctx context.Context, id uuid.UUID) error
	ListPages(ctx context.Context) ([]*Page, error)

	// Slot operations
	CreateSlot(ctx context.Context, slot *Slot) error
	GetSlot(ctx context.Context, id uuid.UUID) (*Slot, error)
	UpdateSlot(ctx context.Context, slot *Slot) error
	DeleteSlot(ctx context.Context, id uuid.UUID) error
	ListSlots(ctx context.Context) ([]*Slot, error)
	ListSlotsByPage(ctx context.Context, pageID uuid.UUID) ([]*Slot, error)

	// Entry operations. Entries are returned with Content.Slot populated
	// from the current slot and page.
	CreateEntries(ctx context.Context, entries []*Entry) error
	GetEntry(ctx context.Context, id uuid.UUID) (*Entry, error)
	GetEntries(ctx context.Context, ids []uuid.UUID) ([]*Entry, error)
	UpdateEntry(ctx context.Context, entry *Entry) error
	// DeleteEntry soft-deletes the entry, stamping updated_at with at.
	DeleteEntry(ctx context.Context, id uuid.UUID, at time.Time) error
	ListEntries(ctx context.Context, filter EntryFilter) ([]*Entry, error)

	// Publication operations
	GetPublication(ctx context.Context, id uuid.UUID) (*Publication, error)
	GetLivePublication(ctx context.Context) (*Publication, error)
	ListPublications(ctx context.Context) ([]*Publication, error)
	// GetLiveSnapshotPage reads the live publication, one window of its
	// current snapshots and their total from a single consistent view.
	// It returns ErrNoLivePublication when nothing was published yet.
	GetLiveSnapshotPage(ctx context.Context, limit, offset int) (*Publication, []*Snapshot, int, error)

	// Snapshot operations
	GetSnapshot(ctx context.Context, id uuid.UUID) (*Snapshot, error)
	ListCurrentSnapshots(ctx context.Context, publicationID uuid.UUID, limit, offset int) ([]*Snapshot, int, error)
	ListLoggedSnapshots(ctx context.Context, publicationID uuid.UUID) ([]*Snapshot, error)
	ListSnapshotPublications(ctx context.Context, snapshotID uuid.UUID) ([]uuid.UUID, error)
	ListEntrySnapshots(ctx context.Context, entryID uuid.UUID) ([]*Snapshot, error)
}

// Tx is a Store bound to one transaction, plus the operations only the
// publish path performs.
type Tx interface {
	Store

	// LockLivePublication takes the exclusive publish lock and returns the
	// current live publication, or nil when there is none. The lock is held
	// until the transaction ends.
	LockLivePublication(ctx context.Context) (*Publication, error)
	CreatePublication(ctx context.Context, publication *Publication) error
	SetPublicationState(ctx context.Context, id uuid.UUID, state PublicationState) error

	// ListEligibleEntries returns active entries whose slot is not hidden.
	// The returned rows stay locked against concurrent writers until the
	// transaction ends.
	ListEligibleEntries(ctx context.Context) ([]*Entry, error)
	// TouchEntries sets last_published_at and updated_at to at.
	TouchEntries(ctx context.Context, ids []uuid.UUID, at time.Time) error

	// FindMatchingSnapshots returns, per entry id, the snapshot of that
	// entry whose fingerprint equals the ContentHash carried by the given
	// entry value. When several match, the most recently created one wins
	// (ties: highest id).
	FindMatchingSnapshots(ctx context.Context, entries []*Entry) (map[uuid.UUID]*Snapshot, error)
	CreateSnapshots(ctx context.Context, snapshots []*Snapshot) error
	AttributeSnapshots(ctx context.Context, snapshotIDs []uuid.UUID, publicationID uuid.UUID) error

	// AddToPublicationLog unions snapshotIDs into the publication's
	// membership. Ids already present are ignored.
	AddToPublicationLog(ctx context.Context, publicationID uuid.UUID, snapshotIDs []uuid.UUID) error
}

// Repository is the transactional store behind the service.
type Repository interface {
	Store

	// WithTx runs fn in one transaction. It commits when fn returns nil and
	// rolls back every write otherwise, including when ctx is cancelled
	// before commit.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// EventSink defines the interface for event handling. Events fire only
// after the originating transaction committed.
type EventSink interface {
	// EntryCreated is fired when entries are created
	EntryCreated(ctx context.Context, entry *Entry) error

	// EntryUpdated is fired when an entry is updated
	EntryUpdated(ctx context.Context, entry *Entry) error

	// EntryDeleted is fired when an entry is soft-deleted
	EntryDeleted(ctx context.Context, entryID uuid.UUID) error

	// EntriesDuplicated is fired after a duplicate call
	EntriesDuplicated(ctx context.Context, sourceIDs, newIDs []uuid.UUID) error

	// PublicationPublished is fired after a publish committed
	PublicationPublished(ctx context.Context, publication *Publication, result PublishResult) error
}

// Metrics records publish outcomes.
type Metrics interface {
	ObservePublish(result PublishResult, duration time.Duration, err error)
}

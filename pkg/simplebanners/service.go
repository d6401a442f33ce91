package simplebanners

import (
	"context"

	"github.com/google/uuid"
)

// Service defines the main interface for the simple-banners library
type Service interface {
	// Page operations
	CreatePage(ctx context.Context, req CreatePageRequest) (*Page, error)
	GetPage(ctx context.Context, id uuid.UUID) (*Page, error)
	UpdatePage(ctx context.Context, req UpdatePageRequest) (*Page, error)
	DeletePage(ctx context.Context, id uuid.UUID) error
	ListPages(ctx context.Context) ([]*Page, error)

	// Slot operations
	CreateSlot(ctx context.Context, req CreateSlotRequest) (*Slot, error)
	GetSlot(ctx context.Context, id uuid.UUID) (*Slot, error)
	UpdateSlot(ctx context.Context, req UpdateSlotRequest) (*Slot, error)
	DeleteSlot(ctx context.Context, id uuid.UUID) error
	ListSlots(ctx context.Context) ([]*Slot, error)

	// Entry operations
	CreateEntry(ctx context.Context, req CreateEntryRequest) (*Entry, error)
	GetEntry(ctx context.Context, id uuid.UUID) (*Entry, error)
	UpdateEntry(ctx context.Context, req UpdateEntryRequest) (*Entry, error)
	DeleteEntry(ctx context.Context, id uuid.UUID) error
	ListEntries(ctx context.Context, filter EntryFilter) ([]*Entry, error)
	DuplicateEntries(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error)
	ListEntrySnapshots(ctx context.Context, entryID uuid.UUID) ([]*Snapshot, error)

	// Publication operations
	Publish(ctx context.Context, actorID string) (*PublishResult, error)
	GetLivePublication(ctx context.Context) (*Publication, error)
	// GetLiveSnapshots returns ErrNoLivePublication when nothing is live.
	GetLiveSnapshots(ctx context.Context, limit, offset int) (*LivePage, error)
	GetPublication(ctx context.Context, id uuid.UUID) (*Publication, error)
	ListPublications(ctx context.Context) ([]*Publication, error)

	// Snapshot views. ListCurrentSnapshots returns only snapshots currently
	// attributed to the publication; ListPublicationLog returns every
	// snapshot that was ever part of it.
	ListCurrentSnapshots(ctx context.Context, req ListSnapshotsRequest) (*SnapshotPage, error)
	ListPublicationLog(ctx context.Context, publicationID uuid.UUID) ([]*Snapshot, error)
	GetSnapshot(ctx context.Context, id uuid.UUID) (*Snapshot, error)
	ListSnapshotPublications(ctx context.Context, snapshotID uuid.UUID) ([]uuid.UUID, error)
}

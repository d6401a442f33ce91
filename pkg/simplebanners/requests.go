package simplebanners

import (
	"time"

	"github.com/google/uuid"
)

// Request/Response DTOs

// CreatePageRequest contains parameters for creating a page
type CreatePageRequest struct {
	Name        string
	Description string
}

// UpdatePageRequest contains parameters for updating a page
type UpdatePageRequest struct {
	ID          uuid.UUID
	Name        string
	Description string
}

// CreateSlotRequest contains parameters for creating a slot
type CreateSlotRequest struct {
	Name        string
	Description string
	PageID      uuid.UUID
	Hidden      bool
}

// UpdateSlotRequest contains parameters for updating a slot
type UpdateSlotRequest struct {
	ID          uuid.UUID
	Name        string
	Description string
	PageID      uuid.UUID
	Hidden      bool
}

// EntryFields are the editable fields of an entry.
type EntryFields struct {
	Name        string
	SlotID      uuid.UUID
	Priority    *int
	Countries   []string
	Languages   []string
	StartTime   *time.Time
	EndTime     *time.Time
	Dismissible *bool
	Stopped     bool
	Body        string
	Segments    []string
}

// CreateEntryRequest contains parameters for creating an entry. Priority
// defaults to DefaultPriority and Dismissible to true.
type CreateEntryRequest struct {
	EntryFields
}

// UpdateEntryRequest replaces all editable fields of an entry.
type UpdateEntryRequest struct {
	ID uuid.UUID
	EntryFields
}

// ListSnapshotsRequest pages over a publication's current snapshots.
type ListSnapshotsRequest struct {
	PublicationID uuid.UUID
	Limit         int
	Offset        int
}

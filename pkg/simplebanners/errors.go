package simplebanners

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Error types
var (
	// ErrEntryNotFound indicates an entry was not found
	ErrEntryNotFound = errors.New("entry not found")

	// ErrSlotNotFound indicates a slot was not found
	ErrSlotNotFound = errors.New("slot not found")

	// ErrPageNotFound indicates a page was not found
	ErrPageNotFound = errors.New("page not found")

	// ErrPublicationNotFound indicates a publication was not found
	ErrPublicationNotFound = errors.New("publication not found")

	// ErrSnapshotNotFound indicates a snapshot was not found
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrNoLivePublication indicates nothing is currently published
	ErrNoLivePublication = errors.New("no live publication")

	// ErrPublishConflict indicates another publish holds the live slot or
	// already created a live publication. Callers may retry.
	ErrPublishConflict = errors.New("publish conflict")

	// ErrInvalidTransition indicates a publication state change that the
	// lifecycle does not allow (deactivated is terminal)
	ErrInvalidTransition = errors.New("invalid publication state transition")

	// ErrSlotInUse indicates a slot is still referenced by entries
	ErrSlotInUse = errors.New("slot is referenced by entries")

	// ErrPageInUse indicates a page is still referenced by slots
	ErrPageInUse = errors.New("page is referenced by slots")

	// ErrDuplicateName indicates a unique name is already taken
	ErrDuplicateName = errors.New("name already exists")

	// ErrInvalidActor indicates publish was called without an actor
	ErrInvalidActor = errors.New("actor id is required")

	// ErrInvalidEntry indicates the entry payload failed basic checks
	ErrInvalidEntry = errors.New("invalid entry")

	// ErrInvalidName indicates a page or slot was given an empty name
	ErrInvalidName = errors.New("invalid name")
)

// IsRetryable reports whether err is a transient publish failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrPublishConflict)
}

// EntryError represents an error related to entry operations
type EntryError struct {
	EntryID uuid.UUID
	Op      string
	Err     error
}

func (e *EntryError) Error() string {
	return fmt.Sprintf("entry operation %s failed for entry %s: %v", e.Op, e.EntryID, e.Err)
}

func (e *EntryError) Unwrap() error {
	return e.Err
}

// SlotError represents an error related to slot operations
type SlotError struct {
	SlotID uuid.UUID
	Op     string
	Err    error
}

func (e *SlotError) Error() string {
	return fmt.Sprintf("slot operation %s failed for slot %s: %v", e.Op, e.SlotID, e.Err)
}

func (e *SlotError) Unwrap() error {
	return e.Err
}

// PageError represents an error related to page operations
type PageError struct {
	PageID uuid.UUID
	Op     string
	Err    error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("page operation %s failed for page %s: %v", e.Op, e.PageID, e.Err)
}

func (e *PageError) Unwrap() error {
	return e.Err
}

// PublicationError represents an error related to publication operations.
// PublicationID is uuid.Nil when the failure happened before a publication
// was created.
type PublicationError struct {
	PublicationID uuid.UUID
	Op            string
	Err           error
}

func (e *PublicationError) Error() string {
	if e.PublicationID == uuid.Nil {
		return fmt.Sprintf("publication operation %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("publication operation %s failed for publication %s: %v", e.Op, e.PublicationID, e.Err)
}

func (e *PublicationError) Unwrap() error {
	return e.Err
}

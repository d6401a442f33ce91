package simplebanners

import (
	"time"

	"github.com/google/uuid"
)

// PublicationState is the domain type for publication lifecycle states.
type PublicationState string

// Publication state constants (typed).
const (
	PublicationStateLive        PublicationState = "live"
	PublicationStateDeactivated PublicationState = "deactivated"
)

// IsValid reports whether s is a known publication state.
func (s PublicationState) IsValid() bool {
	switch s {
	case PublicationStateLive, PublicationStateDeactivated:
		return true
	}
	return false
}

// Page is the top-level container a slot belongs to.
type Page struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Slot is the placement an entry is attached to. Hidden slots are never
// published.
type Slot struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	PageID      uuid.UUID `json:"page_id"`
	Hidden      bool      `json:"hidden"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PageRef is the denormalized copy of a page carried by entries and snapshots.
type PageRef struct {
	ID          uuid.UUID `json:"id" cbor:"id"`
	Name        string    `json:"name" cbor:"name"`
	Description string    `json:"description" cbor:"description"`
}

// SlotRef is the denormalized copy of a slot carried by entries and
// snapshots. Snapshots store it verbatim so later container edits do not
// rewrite history.
type SlotRef struct {
	ID          uuid.UUID `json:"id" cbor:"id"`
	Name        string    `json:"name" cbor:"name"`
	Description string    `json:"description" cbor:"description"`
	Page        PageRef   `json:"page" cbor:"page"`
}

// NewSlotRef builds the denormalized reference for slot on page.
func NewSlotRef(slot *Slot, page *Page) SlotRef {
	return SlotRef{
		ID:          slot.ID,
		Name:        slot.Name,
		Description: slot.Description,
		Page: PageRef{
			ID:          page.ID,
			Name:        page.Name,
			Description: page.Description,
		},
	}
}

// Content holds the publishable fields shared by entries and snapshots.
type Content struct {
	Name        string     `json:"name"`
	Priority    int        `json:"priority"`
	Countries   []string   `json:"countries"`
	Languages   []string   `json:"languages"`
	StartTime   *time.Time `json:"start_time"`
	EndTime     *time.Time `json:"end_time"`
	Dismissible bool       `json:"dismissible"`
	Stopped     bool       `json:"stopped"`
	Body        string     `json:"body"`
	Segments    []string   `json:"segments"`
	Slot        SlotRef    `json:"slot"`
}

// Clone returns a deep copy of c.
func (c Content) Clone() Content {
	out := c
	out.Countries = cloneStrings(c.Countries)
	out.Languages = cloneStrings(c.Languages)
	out.Segments = cloneStrings(c.Segments)
	out.StartTime = cloneTime(c.StartTime)
	out.EndTime = cloneTime(c.EndTime)
	return out
}

// Entry is a mutable banner. ContentHash always reflects the current
// Content, including the denormalized slot and page.
type Entry struct {
	ID uuid.UUID `json:"id"`
	Content
	SlotID          uuid.UUID   `json:"slot_id"`
	ContentHash     Fingerprint `json:"content_hash"`
	Active          bool        `json:"active"`
	LastPublishedAt *time.Time  `json:"last_published_at,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// HasChangesToPublish reports whether the entry was never published or was
// modified after its last publish.
func (e *Entry) HasChangesToPublish() bool {
	return e.LastPublishedAt == nil || e.UpdatedAt.After(*e.LastPublishedAt)
}

// Clone returns a deep copy of e.
func (e *Entry) Clone() *Entry {
	out := *e
	out.Content = e.Content.Clone()
	out.LastPublishedAt = cloneTime(e.LastPublishedAt)
	return &out
}

// Publication is one activation of a snapshot set. At most one publication
// is live at any instant.
type Publication struct {
	ID          uuid.UUID        `json:"id"`
	State       PublicationState `json:"state"`
	PublishedBy string           `json:"published_by"`
	PublishedAt time.Time        `json:"published_at"`
	CreatedAt   time.Time        `json:"created_at"`
}

// IsLive reports whether p is the live publication.
func (p *Publication) IsLive() bool {
	return p.State == PublicationStateLive
}

// Snapshot is an immutable capture of an entry's content. Only
// CurrentPublicationID changes after creation; it points at the latest
// publication that reused this exact content.
type Snapshot struct {
	ID uuid.UUID `json:"id"`
	Content
	EntryID              uuid.UUID   `json:"entry_id"`
	ContentHash          Fingerprint `json:"content_hash"`
	CurrentPublicationID uuid.UUID   `json:"current_publication_id"`
	CreatedAt            time.Time   `json:"created_at"`
}

// PublishResult reports what a publish did with the eligible entries.
type PublishResult struct {
	PublicationID uuid.UUID `json:"publication_id"`
	Reused        int       `json:"reused"`
	Created       int       `json:"created"`
}

// Total is the number of snapshots attributed to the new publication.
func (r PublishResult) Total() int {
	return r.Reused + r.Created
}

// SnapshotPage is one window over a publication's currently attributed
// snapshots.
type SnapshotPage struct {
	Count     int         `json:"count"`
	Limit     int         `json:"limit"`
	Offset    int         `json:"offset"`
	Snapshots []*Snapshot `json:"snapshots"`
}

// LivePage is the live publication together with one window of its
// currently attributed snapshots, read from the same committed state.
type LivePage struct {
	Publication *Publication `json:"publication"`
	SnapshotPage
}

// EntryFilter narrows ListEntries.
type EntryFilter struct {
	SlotID          *uuid.UUID
	IncludeInactive bool
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

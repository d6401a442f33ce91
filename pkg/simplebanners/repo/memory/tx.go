package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-banners/pkg/simplebanners"
)

// tx is a write transaction over a private state copy.
type tx struct {
	view
}

// Page operations

func (t *tx) pageNameTaken(name string, except uuid.UUID) bool {
	for id, p := range t.st.pages {
		if id != except && p.Name == name {
			return true
		}
	}
	return false
}

func (t *tx) CreatePage(ctx context.Context, page *simplebanners.Page) error {
	if _, exists := t.st.pages[page.ID]; exists {
		return fmt.Errorf("page %s: %w", page.ID, simplebanners.ErrDuplicateName)
	}
	if t.pageNameTaken(page.Name, page.ID) {
		return fmt.Errorf("page %q: %w", page.Name, simplebanners.ErrDuplicateName)
	}
	pageCopy := *page
	t.st.pages[page.ID] = &pageCopy
	return nil
}

func (t *tx) UpdatePage(ctx context.Context, page *simplebanners.Page) error {
	if _, exists := t.st.pages[page.ID]; !exists {
		return simplebanners.ErrPageNotFound
	}
	if t.pageNameTaken(page.Name, page.ID) {
		return fmt.Errorf("page %q: %w", page.Name, simplebanners.ErrDuplicateName)
	}
	pageCopy := *page
	t.st.pages[page.ID] = &pageCopy
	return nil
}

func (t *tx) DeletePage(ctx context.Context, id uuid.UUID) error {
	if _, exists := t.st.pages[id]; !exists {
		return simplebanners.ErrPageNotFound
	}
	for _, slot := range t.st.slots {
		if slot.PageID == id {
			return simplebanners.ErrPageInUse
		}
	}
	delete(t.st.pages, id)
	return nil
}

// Slot operations

func (t *tx) slotNameTaken(name string, except uuid.UUID) bool {
	for id, s := range t.st.slots {
		if id != except && s.Name == name {
			return true
		}
	}
	return false
}

func (t *tx) CreateSlot(ctx context.Context, slot *simplebanners.Slot) error {
	if _, exists := t.st.pages[slot.PageID]; !exists {
		return simplebanners.ErrPageNotFound
	}
	if _, exists := t.st.slots[slot.ID]; exists || t.slotNameTaken(slot.Name, slot.ID) {
		return fmt.Errorf("slot %q: %w", slot.Name, simplebanners.ErrDuplicateName)
	}
	slotCopy := *slot
	t.st.slots[slot.ID] = &slotCopy
	return nil
}

func (t *tx) UpdateSlot(ctx context.Context, slot *simplebanners.Slot) error {
	if _, exists := t.st.slots[slot.ID]; !exists {
		return simplebanners.ErrSlotNotFound
	}
	if _, exists := t.st.pages[slot.PageID]; !exists {
		return simplebanners.ErrPageNotFound
	}
	if t.slotNameTaken(slot.Name, slot.ID) {
		return fmt.Errorf("slot %q: %w", slot.Name, simplebanners.ErrDuplicateName)
	}
	slotCopy := *slot
	t.st.slots[slot.ID] = &slotCopy
	return nil
}

// DeleteSlot refuses while any entry, including soft-deleted ones, still
// points at the slot.
func (t *tx) DeleteSlot(ctx context.Context, id uuid.UUID) error {
	if _, exists := t.st.slots[id]; !exists {
		return simplebanners.ErrSlotNotFound
	}
	for _, entry := range t.st.entries {
		if entry.SlotID == id {
			return simplebanners.ErrSlotInUse
		}
	}
	delete(t.st.slots, id)
	return nil
}

// Entry operations

func (t *tx) entryNameTaken(name string, except uuid.UUID) bool {
	for id, e := range t.st.entries {
		if id != except && e.Name == name {
			return true
		}
	}
	return false
}

func (t *tx) CreateEntries(ctx context.Context, entries []*simplebanners.Entry) error {
	for _, entry := range entries {
		if _, exists := t.st.slots[entry.SlotID]; !exists {
			return simplebanners.ErrSlotNotFound
		}
		if _, exists := t.st.entries[entry.ID]; exists {
			return fmt.Errorf("entry %s already exists", entry.ID)
		}
		if t.entryNameTaken(entry.Name, entry.ID) {
			return fmt.Errorf("entry %q: %w", entry.Name, simplebanners.ErrDuplicateName)
		}
		t.st.entries[entry.ID] = entry.Clone()
	}
	return nil
}

func (t *tx) UpdateEntry(ctx context.Context, entry *simplebanners.Entry) error {
	if _, exists := t.st.entries[entry.ID]; !exists {
		return simplebanners.ErrEntryNotFound
	}
	if _, exists := t.st.slots[entry.SlotID]; !exists {
		return simplebanners.ErrSlotNotFound
	}
	if t.entryNameTaken(entry.Name, entry.ID) {
		return fmt.Errorf("entry %q: %w", entry.Name, simplebanners.ErrDuplicateName)
	}
	t.st.entries[entry.ID] = entry.Clone()
	return nil
}

func (t *tx) DeleteEntry(ctx context.Context, id uuid.UUID, at time.Time) error {
	entry, exists := t.st.entries[id]
	if !exists || !entry.Active {
		return simplebanners.ErrEntryNotFound
	}
	updated := entry.Clone()
	updated.Active = false
	updated.UpdatedAt = at
	t.st.entries[id] = updated
	return nil
}

func (t *tx) ListEligibleEntries(ctx context.Context) ([]*simplebanners.Entry, error) {
	return t.filterEntries(func(e *simplebanners.Entry) bool {
		if !e.Active {
			return false
		}
		slot, ok := t.st.slots[e.SlotID]
		return ok && !slot.Hidden
	}), nil
}

func (t *tx) TouchEntries(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	for _, id := range ids {
		entry, exists := t.st.entries[id]
		if !exists {
			return simplebanners.ErrEntryNotFound
		}
		updated := entry.Clone()
		published := at
		updated.LastPublishedAt = &published
		updated.UpdatedAt = at
		t.st.entries[id] = updated
	}
	return nil
}

// Publication operations

// LockLivePublication relies on the writer lock WithTx already holds.
func (t *tx) LockLivePublication(ctx context.Context) (*simplebanners.Publication, error) {
	pub, err := t.GetLivePublication(ctx)
	if err == simplebanners.ErrNoLivePublication {
		return nil, nil
	}
	return pub, err
}

func (t *tx) CreatePublication(ctx context.Context, publication *simplebanners.Publication) error {
	if !publication.State.IsValid() {
		return fmt.Errorf("invalid publication state %q", publication.State)
	}
	if _, exists := t.st.publications[publication.ID]; exists {
		return fmt.Errorf("publication %s already exists", publication.ID)
	}
	if publication.State == simplebanners.PublicationStateLive {
		if _, err := t.GetLivePublication(ctx); err == nil {
			return fmt.Errorf("%w: a live publication already exists", simplebanners.ErrPublishConflict)
		}
	}
	pubCopy := *publication
	t.st.publications[publication.ID] = &pubCopy
	return nil
}

func (t *tx) SetPublicationState(ctx context.Context, id uuid.UUID, state simplebanners.PublicationState) error {
	pub, exists := t.st.publications[id]
	if !exists {
		return simplebanners.ErrPublicationNotFound
	}
	if pub.State == simplebanners.PublicationStateDeactivated && state == simplebanners.PublicationStateLive {
		return simplebanners.ErrInvalidTransition
	}
	updated := *pub
	updated.State = state
	t.st.publications[id] = &updated
	return nil
}

// Snapshot operations

func (t *tx) FindMatchingSnapshots(ctx context.Context, entries []*simplebanners.Entry) (map[uuid.UUID]*simplebanners.Snapshot, error) {
	wanted := make(map[uuid.UUID]simplebanners.Fingerprint, len(entries))
	for _, entry := range entries {
		wanted[entry.ID] = entry.ContentHash
	}
	matches := make(map[uuid.UUID]*simplebanners.Snapshot)
	for _, snapshot := range t.st.snapshots {
		hash, ok := wanted[snapshot.EntryID]
		if !ok || snapshot.ContentHash != hash {
			continue
		}
		best, seen := matches[snapshot.EntryID]
		if !seen || newerFirst(snapshot.CreatedAt, best.CreatedAt, snapshot.ID, best.ID) {
			matches[snapshot.EntryID] = snapshot
		}
	}
	for id, snapshot := range matches {
		matches[id] = copySnapshot(snapshot)
	}
	return matches, nil
}

func (t *tx) CreateSnapshots(ctx context.Context, snapshots []*simplebanners.Snapshot) error {
	for _, snapshot := range snapshots {
		if _, exists := t.st.snapshots[snapshot.ID]; exists {
			return fmt.Errorf("snapshot %s already exists", snapshot.ID)
		}
		if _, exists := t.st.publications[snapshot.CurrentPublicationID]; !exists {
			return simplebanners.ErrPublicationNotFound
		}
		t.st.snapshots[snapshot.ID] = copySnapshot(snapshot)
	}
	return nil
}

func (t *tx) AttributeSnapshots(ctx context.Context, snapshotIDs []uuid.UUID, publicationID uuid.UUID) error {
	if _, exists := t.st.publications[publicationID]; !exists {
		return simplebanners.ErrPublicationNotFound
	}
	for _, id := range snapshotIDs {
		snapshot, exists := t.st.snapshots[id]
		if !exists {
			return simplebanners.ErrSnapshotNotFound
		}
		updated := copySnapshot(snapshot)
		updated.CurrentPublicationID = publicationID
		t.st.snapshots[id] = updated
	}
	return nil
}

func (t *tx) AddToPublicationLog(ctx context.Context, publicationID uuid.UUID, snapshotIDs []uuid.UUID) error {
	if _, exists := t.st.publications[publicationID]; !exists {
		return simplebanners.ErrPublicationNotFound
	}
	for _, id := range snapshotIDs {
		if _, exists := t.st.snapshots[id]; !exists {
			return simplebanners.ErrSnapshotNotFound
		}
	}
	members := t.st.logByPub[publicationID]
	if members == nil {
		members = make(map[uuid.UUID]struct{})
		t.st.logByPub[publicationID] = members
	}
	for _, id := range snapshotIDs {
		members[id] = struct{}{}
		pubs := t.st.logBySnap[id]
		if pubs == nil {
			pubs = make(map[uuid.UUID]struct{})
			t.st.logBySnap[id] = pubs
		}
		pubs[publicationID] = struct{}{}
	}
	return nil
}

package memory

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-banners/pkg/simplebanners"
)

// state is one version of the store. A committed state is never mutated:
// transactions work on a clone and swap it in on commit. Stored values are
// private copies and are replaced, never edited in place.
type state struct {
	pages        map[uuid.UUID]*simplebanners.Page
	slots        map[uuid.UUID]*simplebanners.Slot
	entries      map[uuid.UUID]*simplebanners.Entry
	publications map[uuid.UUID]*simplebanners.Publication
	snapshots    map[uuid.UUID]*simplebanners.Snapshot
	logByPub     map[uuid.UUID]map[uuid.UUID]struct{} // publication_id -> snapshot ids
	logBySnap    map[uuid.UUID]map[uuid.UUID]struct{} // snapshot_id -> publication ids
}

func newState() *state {
	return &state{
		pages:        make(map[uuid.UUID]*simplebanners.Page),
		slots:        make(map[uuid.UUID]*simplebanners.Slot),
		entries:      make(map[uuid.UUID]*simplebanners.Entry),
		publications: make(map[uuid.UUID]*simplebanners.Publication),
		snapshots:    make(map[uuid.UUID]*simplebanners.Snapshot),
		logByPub:     make(map[uuid.UUID]map[uuid.UUID]struct{}),
		logBySnap:    make(map[uuid.UUID]map[uuid.UUID]struct{}),
	}
}

func (s *state) clone() *state {
	out := newState()
	for k, v := range s.pages {
		out.pages[k] = v
	}
	for k, v := range s.slots {
		out.slots[k] = v
	}
	for k, v := range s.entries {
		out.entries[k] = v
	}
	for k, v := range s.publications {
		out.publications[k] = v
	}
	for k, v := range s.snapshots {
		out.snapshots[k] = v
	}
	out.logByPub = cloneSets(s.logByPub)
	out.logBySnap = cloneSets(s.logBySnap)
	return out
}

// checkInvariants runs the constraints a relational store would enforce at
// commit time.
func (s *state) checkInvariants() error {
	live := 0
	for _, p := range s.publications {
		if p.State == simplebanners.PublicationStateLive {
			live++
		}
	}
	if live > 1 {
		return fmt.Errorf("%w: %d live publications", simplebanners.ErrPublishConflict, live)
	}
	return nil
}

func cloneSets(in map[uuid.UUID]map[uuid.UUID]struct{}) map[uuid.UUID]map[uuid.UUID]struct{} {
	out := make(map[uuid.UUID]map[uuid.UUID]struct{}, len(in))
	for k, set := range in {
		copied := make(map[uuid.UUID]struct{}, len(set))
		for id := range set {
			copied[id] = struct{}{}
		}
		out[k] = copied
	}
	return out
}

// view implements the read side of simplebanners.Store over one state.
type view struct {
	st *state
}

// Page operations

func (v *view) GetPage(ctx context.Context, id uuid.UUID) (*simplebanners.Page, error) {
	page, ok := v.st.pages[id]
	if !ok {
		return nil, simplebanners.ErrPageNotFound
	}
	pageCopy := *page
	return &pageCopy, nil
}

func (v *view) ListPages(ctx context.Context) ([]*simplebanners.Page, error) {
	result := make([]*simplebanners.Page, 0, len(v.st.pages))
	for _, page := range v.st.pages {
		pageCopy := *page
		result = append(result, &pageCopy)
	}
	sort.Slice(result, func(i, j int) bool {
		return newerFirst(result[i].CreatedAt, result[j].CreatedAt, result[i].ID, result[j].ID)
	})
	return result, nil
}

// Slot operations

func (v *view) GetSlot(ctx context.Context, id uuid.UUID) (*simplebanners.Slot, error) {
	slot, ok := v.st.slots[id]
	if !ok {
		return nil, simplebanners.ErrSlotNotFound
	}
	slotCopy := *slot
	return &slotCopy, nil
}

func (v *view) ListSlots(ctx context.Context) ([]*simplebanners.Slot, error) {
	return v.filterSlots(func(*simplebanners.Slot) bool { return true }), nil
}

func (v *view) ListSlotsByPage(ctx context.Context, pageID uuid.UUID) ([]*simplebanners.Slot, error) {
	return v.filterSlots(func(s *simplebanners.Slot) bool { return s.PageID == pageID }), nil
}

func (v *view) filterSlots(keep func(*simplebanners.Slot) bool) []*simplebanners.Slot {
	result := make([]*simplebanners.Slot, 0)
	for _, slot := range v.st.slots {
		if keep(slot) {
			slotCopy := *slot
			result = append(result, &slotCopy)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return newerFirst(result[i].CreatedAt, result[j].CreatedAt, result[i].ID, result[j].ID)
	})
	return result
}

// Entry operations

// hydrate returns a copy of e with the slot reference resolved against the
// current slot and page.
func (v *view) hydrate(e *simplebanners.Entry) *simplebanners.Entry {
	out := e.Clone()
	if slot, ok := v.st.slots[e.SlotID]; ok {
		if page, ok := v.st.pages[slot.PageID]; ok {
			out.Slot = simplebanners.NewSlotRef(slot, page)
		}
	}
	return out
}

func (v *view) GetEntry(ctx context.Context, id uuid.UUID) (*simplebanners.Entry, error) {
	entry, ok := v.st.entries[id]
	if !ok || !entry.Active {
		return nil, simplebanners.ErrEntryNotFound
	}
	return v.hydrate(entry), nil
}

func (v *view) GetEntries(ctx context.Context, ids []uuid.UUID) ([]*simplebanners.Entry, error) {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	result := make([]*simplebanners.Entry, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		entry, err := v.GetEntry(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("entry %s: %w", id, err)
		}
		result = append(result, entry)
	}
	return result, nil
}

func (v *view) ListEntries(ctx context.Context, filter simplebanners.EntryFilter) ([]*simplebanners.Entry, error) {
	return v.filterEntries(func(e *simplebanners.Entry) bool {
		if !filter.IncludeInactive && !e.Active {
			return false
		}
		return filter.SlotID == nil || e.SlotID == *filter.SlotID
	}), nil
}

func (v *view) filterEntries(keep func(*simplebanners.Entry) bool) []*simplebanners.Entry {
	result := make([]*simplebanners.Entry, 0)
	for _, entry := range v.st.entries {
		if keep(entry) {
			result = append(result, v.hydrate(entry))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return newerFirst(result[i].CreatedAt, result[j].CreatedAt, result[i].ID, result[j].ID)
	})
	return result
}

// Publication operations

func (v *view) GetPublication(ctx context.Context, id uuid.UUID) (*simplebanners.Publication, error) {
	pub, ok := v.st.publications[id]
	if !ok {
		return nil, simplebanners.ErrPublicationNotFound
	}
	pubCopy := *pub
	return &pubCopy, nil
}

func (v *view) GetLivePublication(ctx context.Context) (*simplebanners.Publication, error) {
	for _, pub := range v.st.publications {
		if pub.State == simplebanners.PublicationStateLive {
			pubCopy := *pub
			return &pubCopy, nil
		}
	}
	return nil, simplebanners.ErrNoLivePublication
}

func (v *view) ListPublications(ctx context.Context) ([]*simplebanners.Publication, error) {
	result := make([]*simplebanners.Publication, 0, len(v.st.publications))
	for _, pub := range v.st.publications {
		pubCopy := *pub
		result = append(result, &pubCopy)
	}
	sort.Slice(result, func(i, j int) bool {
		return newerFirst(result[i].CreatedAt, result[j].CreatedAt, result[i].ID, result[j].ID)
	})
	return result, nil
}

// Snapshot operations

func copySnapshot(s *simplebanners.Snapshot) *simplebanners.Snapshot {
	out := *s
	out.Content = s.Content.Clone()
	return &out
}

func (v *view) GetSnapshot(ctx context.Context, id uuid.UUID) (*simplebanners.Snapshot, error) {
	snapshot, ok := v.st.snapshots[id]
	if !ok {
		return nil, simplebanners.ErrSnapshotNotFound
	}
	return copySnapshot(snapshot), nil
}

func (v *view) filterSnapshots(keep func(*simplebanners.Snapshot) bool) []*simplebanners.Snapshot {
	result := make([]*simplebanners.Snapshot, 0)
	for _, snapshot := range v.st.snapshots {
		if keep(snapshot) {
			result = append(result, copySnapshot(snapshot))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return newerFirst(result[i].CreatedAt, result[j].CreatedAt, result[i].ID, result[j].ID)
	})
	return result
}

func (v *view) ListCurrentSnapshots(ctx context.Context, publicationID uuid.UUID, limit, offset int) ([]*simplebanners.Snapshot, int, error) {
	all := v.filterSnapshots(func(s *simplebanners.Snapshot) bool {
		return s.CurrentPublicationID == publicationID
	})
	count := len(all)
	if offset >= count {
		return []*simplebanners.Snapshot{}, count, nil
	}
	end := offset + limit
	if limit <= 0 || end > count {
		end = count
	}
	return all[offset:end], count, nil
}

func (v *view) ListLoggedSnapshots(ctx context.Context, publicationID uuid.UUID) ([]*simplebanners.Snapshot, error) {
	members := v.st.logByPub[publicationID]
	return v.filterSnapshots(func(s *simplebanners.Snapshot) bool {
		_, ok := members[s.ID]
		return ok
	}), nil
}

func (v *view) GetLiveSnapshotPage(ctx context.Context, limit, offset int) (*simplebanners.Publication, []*simplebanners.Snapshot, int, error) {
	pub, err := v.GetLivePublication(ctx)
	if err != nil {
		return nil, nil, 0, err
	}
	snapshots, total, err := v.ListCurrentSnapshots(ctx, pub.ID, limit, offset)
	if err != nil {
		return nil, nil, 0, err
	}
	return pub, snapshots, total, nil
}

// ListSnapshotPublications returns the snapshot's publications oldest first.
func (v *view) ListSnapshotPublications(ctx context.Context, snapshotID uuid.UUID) ([]uuid.UUID, error) {
	pubs := make([]*simplebanners.Publication, 0)
	for id := range v.st.logBySnap[snapshotID] {
		if pub, ok := v.st.publications[id]; ok {
			pubs = append(pubs, pub)
		}
	}
	sort.Slice(pubs, func(i, j int) bool {
		return newerFirst(pubs[j].CreatedAt, pubs[i].CreatedAt, pubs[j].ID, pubs[i].ID)
	})
	ids := make([]uuid.UUID, 0, len(pubs))
	for _, pub := range pubs {
		ids = append(ids, pub.ID)
	}
	return ids, nil
}

func (v *view) ListEntrySnapshots(ctx context.Context, entryID uuid.UUID) ([]*simplebanners.Snapshot, error) {
	return v.filterSnapshots(func(s *simplebanners.Snapshot) bool {
		return s.EntryID == entryID
	}), nil
}

// newerFirst orders by creation time descending, then id descending, so
// listings are stable even when timestamps collide.
func newerFirst(ti, tj time.Time, idi, idj uuid.UUID) bool {
	if !ti.Equal(tj) {
		return ti.After(tj)
	}
	return bytes.Compare(idi[:], idj[:]) > 0
}

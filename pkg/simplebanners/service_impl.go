package simplebanners

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultPriority is applied to entries created without a priority.
	DefaultPriority = 10

	// DefaultSnapshotLimit is the page size used when a listing asks for none.
	DefaultSnapshotLimit = 100

	// MaxSnapshotLimit caps the page size of snapshot listings.
	MaxSnapshotLimit = 1000

	duplicateNamePrefixLen = 80
)

// service implements the Service interface
type service struct {
	repository Repository
	eventSink  EventSink
	metrics    Metrics
	logger     *slog.Logger
	now        func() time.Time
	engine     *SnapshotEngine
}

// Option represents a functional option for configuring the service
type Option func(*service)

// WithRepository sets the repository for the service
func WithRepository(repo Repository) Option {
	return func(s *service) {
		s.repository = repo
	}
}

// WithEventSink sets the event sink for the service
func WithEventSink(sink EventSink) Option {
	return func(s *service) {
		s.eventSink = sink
	}
}

// WithMetrics sets the publish metrics recorder
func WithMetrics(m Metrics) Option {
	return func(s *service) {
		s.metrics = m
	}
}

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *service) {
		s.logger = logger
	}
}

// WithClock overrides the time source. Times are normalized to UTC.
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		s.now = now
	}
}

// New creates a new service instance with the given options
func New(options ...Option) (Service, error) {
	s := &service{}

	for _, option := range options {
		option(s)
	}

	if s.repository == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if s.eventSink == nil {
		s.eventSink = NewNoopEventSink()
	}
	if s.metrics == nil {
		s.metrics = NoopMetrics{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	clock := s.now
	if clock == nil {
		clock = time.Now
	}
	s.now = func() time.Time { return clock().UTC().Truncate(time.Microsecond) }
	s.engine = NewSnapshotEngine(s.now)

	return s, nil
}

// Page operations

func (s *service) CreatePage(ctx context.Context, req CreatePageRequest) (*Page, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, fmt.Errorf("%w: page name is required", ErrInvalidName)
	}
	now := s.now()
	page := &Page{
		ID:          uuid.New(),
		Name:        req.Name,
		Description: req.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repository.CreatePage(ctx, page); err != nil {
		return nil, &PageError{PageID: page.ID, Op: "create", Err: err}
	}
	return page, nil
}

func (s *service) GetPage(ctx context.Context, id uuid.UUID) (*Page, error) {
	return s.repository.GetPage(ctx, id)
}

// UpdatePage changes a page and re-fingerprints every entry placed on one
// of its slots, in the same transaction.
func (s *service) UpdatePage(ctx context.Context, req UpdatePageRequest) (*Page, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, fmt.Errorf("%w: page name is required", ErrInvalidName)
	}
	var updated *Page
	err := s.repository.WithTx(ctx, func(tx Tx) error {
		page, err := tx.GetPage(ctx, req.ID)
		if err != nil {
			return err
		}
		page.Name = req.Name
		page.Description = req.Description
		page.UpdatedAt = s.now()
		if err := tx.UpdatePage(ctx, page); err != nil {
			return err
		}

		slots, err := tx.ListSlotsByPage(ctx, page.ID)
		if err != nil {
			return err
		}
		for _, slot := range slots {
			if err := s.rehashSlotEntries(ctx, tx, slot.ID); err != nil {
				return err
			}
		}
		updated = page
		return nil
	})
	if err != nil {
		return nil, &PageError{PageID: req.ID, Op: "update", Err: err}
	}
	return updated, nil
}

func (s *service) DeletePage(ctx context.Context, id uuid.UUID) error {
	if err := s.repository.DeletePage(ctx, id); err != nil {
		return &PageError{PageID: id, Op: "delete", Err: err}
	}
	return nil
}

func (s *service) ListPages(ctx context.Context) ([]*Page, error) {
	return s.repository.ListPages(ctx)
}

// Slot operations

func (s *service) CreateSlot(ctx context.Context, req CreateSlotRequest) (*Slot, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, fmt.Errorf("%w: slot name is required", ErrInvalidName)
	}
	now := s.now()
	slot := &Slot{
		ID:          uuid.New(),
		Name:        req.Name,
		Description: req.Description,
		PageID:      req.PageID,
		Hidden:      req.Hidden,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := s.repository.WithTx(ctx, func(tx Tx) error {
		if _, err := tx.GetPage(ctx, req.PageID); err != nil {
			return err
		}
		return tx.CreateSlot(ctx, slot)
	})
	if err != nil {
		return nil, &SlotError{SlotID: slot.ID, Op: "create", Err: err}
	}
	return slot, nil
}

func (s *service) GetSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	return s.repository.GetSlot(ctx, id)
}

// UpdateSlot changes a slot and re-fingerprints its entries in the same
// transaction. Toggling Hidden alone leaves fingerprints untouched.
func (s *service) UpdateSlot(ctx context.Context, req UpdateSlotRequest) (*Slot, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, fmt.Errorf("%w: slot name is required", ErrInvalidName)
	}
	var updated *Slot
	err := s.repository.WithTx(ctx, func(tx Tx) error {
		slot, err := tx.GetSlot(ctx, req.ID)
		if err != nil {
			return err
		}
		if _, err := tx.GetPage(ctx, req.PageID); err != nil {
			return err
		}
		slot.Name = req.Name
		slot.Description = req.Description
		slot.PageID = req.PageID
		slot.Hidden = req.Hidden
		slot.UpdatedAt = s.now()
		if err := tx.UpdateSlot(ctx, slot); err != nil {
			return err
		}
		if err := s.rehashSlotEntries(ctx, tx, slot.ID); err != nil {
			return err
		}
		updated = slot
		return nil
	})
	if err != nil {
		return nil, &SlotError{SlotID: req.ID, Op: "update", Err: err}
	}
	return updated, nil
}

func (s *service) DeleteSlot(ctx context.Context, id uuid.UUID) error {
	if err := s.repository.DeleteSlot(ctx, id); err != nil {
		return &SlotError{SlotID: id, Op: "delete", Err: err}
	}
	return nil
}

func (s *service) ListSlots(ctx context.Context) ([]*Slot, error) {
	return s.repository.ListSlots(ctx)
}

// rehashSlotEntries refreshes the fingerprint of every entry, active or
// not, attached to slotID. Entries whose fingerprint is unchanged are not
// written.
func (s *service) rehashSlotEntries(ctx context.Context, tx Tx, slotID uuid.UUID) error {
	entries, err := tx.ListEntries(ctx, EntryFilter{SlotID: &slotID, IncludeInactive: true})
	if err != nil {
		return err
	}
	for _, entry := range entries {
		previous := entry.ContentHash
		if err := entry.Rehash(); err != nil {
			return err
		}
		if entry.ContentHash == previous {
			continue
		}
		entry.UpdatedAt = s.now()
		if err := tx.UpdateEntry(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

// Entry operations

func (s *service) CreateEntry(ctx context.Context, req CreateEntryRequest) (*Entry, error) {
	if err := validateEntryFields(req.EntryFields); err != nil {
		return nil, err
	}
	now := s.now()
	entry := &Entry{
		ID:        uuid.New(),
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	applyEntryFields(entry, req.EntryFields, true)

	err := s.repository.WithTx(ctx, func(tx Tx) error {
		if err := s.attachSlot(ctx, tx, entry); err != nil {
			return err
		}
		if err := entry.Rehash(); err != nil {
			return err
		}
		return tx.CreateEntries(ctx, []*Entry{entry})
	})
	if err != nil {
		return nil, &EntryError{EntryID: entry.ID, Op: "create", Err: err}
	}

	if err := s.eventSink.EntryCreated(ctx, entry); err != nil {
		s.logger.Error("entry created event failed", "entry_id", entry.ID, "error", err)
	}
	return entry, nil
}

func (s *service) GetEntry(ctx context.Context, id uuid.UUID) (*Entry, error) {
	return s.repository.GetEntry(ctx, id)
}

func (s *service) UpdateEntry(ctx context.Context, req UpdateEntryRequest) (*Entry, error) {
	if err := validateEntryFields(req.EntryFields); err != nil {
		return nil, err
	}
	var updated *Entry
	err := s.repository.WithTx(ctx, func(tx Tx) error {
		entry, err := tx.GetEntry(ctx, req.ID)
		if err != nil {
			return err
		}
		applyEntryFields(entry, req.EntryFields, false)
		if err := s.attachSlot(ctx, tx, entry); err != nil {
			return err
		}
		if err := entry.Rehash(); err != nil {
			return err
		}
		entry.UpdatedAt = s.now()
		if err := tx.UpdateEntry(ctx, entry); err != nil {
			return err
		}
		updated = entry
		return nil
	})
	if err != nil {
		return nil, &EntryError{EntryID: req.ID, Op: "update", Err: err}
	}

	if err := s.eventSink.EntryUpdated(ctx, updated); err != nil {
		s.logger.Error("entry updated event failed", "entry_id", updated.ID, "error", err)
	}
	return updated, nil
}

// DeleteEntry soft-deletes an entry. Its snapshots stay reachable through
// the publications that included them.
func (s *service) DeleteEntry(ctx context.Context, id uuid.UUID) error {
	if err := s.repository.DeleteEntry(ctx, id, s.now()); err != nil {
		return &EntryError{EntryID: id, Op: "delete", Err: err}
	}
	if err := s.eventSink.EntryDeleted(ctx, id); err != nil {
		s.logger.Error("entry deleted event failed", "entry_id", id, "error", err)
	}
	return nil
}

func (s *service) ListEntries(ctx context.Context, filter EntryFilter) ([]*Entry, error) {
	return s.repository.ListEntries(ctx, filter)
}

// DuplicateEntries clones the given entries under new ids with a
// "(copy <uuid>)" name suffix. The suffix is assumed unique and a
// collision is reported as ErrDuplicateName, not retried.
func (s *service) DuplicateEntries(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var newIDs []uuid.UUID
	err := s.repository.WithTx(ctx, func(tx Tx) error {
		sources, err := tx.GetEntries(ctx, ids)
		if err != nil {
			return err
		}
		now := s.now()
		clones := make([]*Entry, 0, len(sources))
		for _, source := range sources {
			clone := source.Clone()
			clone.ID = uuid.New()
			clone.Name = duplicateName(source.Name)
			clone.LastPublishedAt = nil
			clone.CreatedAt = now
			clone.UpdatedAt = now
			if err := clone.Rehash(); err != nil {
				return err
			}
			clones = append(clones, clone)
		}
		if err := tx.CreateEntries(ctx, clones); err != nil {
			return err
		}
		newIDs = make([]uuid.UUID, 0, len(clones))
		for _, clone := range clones {
			newIDs = append(newIDs, clone.ID)
		}
		return nil
	})
	if err != nil {
		return nil, &EntryError{Op: "duplicate", Err: err}
	}

	if err := s.eventSink.EntriesDuplicated(ctx, ids, newIDs); err != nil {
		s.logger.Error("entries duplicated event failed", "count", len(newIDs), "error", err)
	}
	return newIDs, nil
}

func (s *service) ListEntrySnapshots(ctx context.Context, entryID uuid.UUID) ([]*Snapshot, error) {
	return s.repository.ListEntrySnapshots(ctx, entryID)
}

// Publication operations

// Publish replaces the live publication with a new one built from every
// eligible entry. All writes share one transaction: on any failure the
// previous live publication is left exactly as it was.
func (s *service) Publish(ctx context.Context, actorID string) (*PublishResult, error) {
	if strings.TrimSpace(actorID) == "" {
		return nil, &PublicationError{Op: "publish", Err: ErrInvalidActor}
	}

	started := time.Now()
	var (
		result      PublishResult
		publication *Publication
		previous    *Publication
	)
	err := s.repository.WithTx(ctx, func(tx Tx) error {
		now := s.now()

		live, err := tx.LockLivePublication(ctx)
		if err != nil {
			return err
		}
		if live != nil {
			if err := tx.SetPublicationState(ctx, live.ID, PublicationStateDeactivated); err != nil {
				return err
			}
		}

		pub := &Publication{
			ID:          uuid.New(),
			State:       PublicationStateLive,
			PublishedBy: actorID,
			PublishedAt: now,
			CreatedAt:   now,
		}
		if err := tx.CreatePublication(ctx, pub); err != nil {
			return err
		}

		entries, err := tx.ListEligibleEntries(ctx)
		if err != nil {
			return err
		}

		reconciled, err := s.engine.Reconcile(ctx, tx, entries, pub)
		if err != nil {
			return err
		}

		ids := make([]uuid.UUID, 0, len(entries))
		for _, entry := range entries {
			ids = append(ids, entry.ID)
		}
		if err := tx.TouchEntries(ctx, ids, now); err != nil {
			return err
		}

		previous = live
		publication = pub
		result = PublishResult{
			PublicationID: pub.ID,
			Reused:        len(reconciled.Reused),
			Created:       len(reconciled.Created),
		}
		return nil
	})
	s.metrics.ObservePublish(result, time.Since(started), err)
	if err != nil {
		s.logger.Error("publish failed", "actor", actorID, "retryable", IsRetryable(err), "error", err)
		return nil, &PublicationError{Op: "publish", Err: err}
	}

	attrs := []any{
		"publication_id", publication.ID,
		"actor", actorID,
		"reused", result.Reused,
		"created", result.Created,
	}
	if previous != nil {
		attrs = append(attrs, "deactivated", previous.ID)
	}
	s.logger.Info("publication published", attrs...)

	if err := s.eventSink.PublicationPublished(ctx, publication, result); err != nil {
		s.logger.Error("publication published event failed", "publication_id", publication.ID, "error", err)
	}
	return &result, nil
}

// GetLivePublication returns ErrNoLivePublication when nothing is live.
func (s *service) GetLivePublication(ctx context.Context) (*Publication, error) {
	return s.repository.GetLivePublication(ctx)
}

func (s *service) GetLiveSnapshots(ctx context.Context, limit, offset int) (*LivePage, error) {
	limit, offset = normalizeWindow(limit, offset)
	live, snapshots, count, err := s.repository.GetLiveSnapshotPage(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	return &LivePage{
		Publication: live,
		SnapshotPage: SnapshotPage{
			Count:     count,
			Limit:     limit,
			Offset:    offset,
			Snapshots: snapshots,
		},
	}, nil
}

func (s *service) GetPublication(ctx context.Context, id uuid.UUID) (*Publication, error) {
	return s.repository.GetPublication(ctx, id)
}

func (s *service) ListPublications(ctx context.Context) ([]*Publication, error) {
	return s.repository.ListPublications(ctx)
}

func (s *service) ListCurrentSnapshots(ctx context.Context, req ListSnapshotsRequest) (*SnapshotPage, error) {
	if _, err := s.repository.GetPublication(ctx, req.PublicationID); err != nil {
		return nil, err
	}
	limit, offset := normalizeWindow(req.Limit, req.Offset)
	snapshots, count, err := s.repository.ListCurrentSnapshots(ctx, req.PublicationID, limit, offset)
	if err != nil {
		return nil, &PublicationError{PublicationID: req.PublicationID, Op: "list_snapshots", Err: err}
	}
	return &SnapshotPage{
		Count:     count,
		Limit:     limit,
		Offset:    offset,
		Snapshots: snapshots,
	}, nil
}

func (s *service) ListPublicationLog(ctx context.Context, publicationID uuid.UUID) ([]*Snapshot, error) {
	if _, err := s.repository.GetPublication(ctx, publicationID); err != nil {
		return nil, err
	}
	return s.repository.ListLoggedSnapshots(ctx, publicationID)
}

func (s *service) GetSnapshot(ctx context.Context, id uuid.UUID) (*Snapshot, error) {
	return s.repository.GetSnapshot(ctx, id)
}

func (s *service) ListSnapshotPublications(ctx context.Context, snapshotID uuid.UUID) ([]uuid.UUID, error) {
	if _, err := s.repository.GetSnapshot(ctx, snapshotID); err != nil {
		return nil, err
	}
	return s.repository.ListSnapshotPublications(ctx, snapshotID)
}

// helpers

func (s *service) attachSlot(ctx context.Context, store Store, entry *Entry) error {
	slot, err := store.GetSlot(ctx, entry.SlotID)
	if err != nil {
		return err
	}
	page, err := store.GetPage(ctx, slot.PageID)
	if err != nil {
		return err
	}
	entry.Slot = NewSlotRef(slot, page)
	return nil
}

func validateEntryFields(f EntryFields) error {
	if strings.TrimSpace(f.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidEntry)
	}
	if f.SlotID == uuid.Nil {
		return fmt.Errorf("%w: slot is required", ErrInvalidEntry)
	}
	if f.StartTime != nil && f.EndTime != nil && f.EndTime.Before(*f.StartTime) {
		return fmt.Errorf("%w: end_time is before start_time", ErrInvalidEntry)
	}
	return nil
}

func applyEntryFields(entry *Entry, f EntryFields, creating bool) {
	entry.Name = f.Name
	entry.SlotID = f.SlotID
	entry.Countries = f.Countries
	entry.Languages = f.Languages
	entry.StartTime = NormalizeTime(f.StartTime)
	entry.EndTime = NormalizeTime(f.EndTime)
	entry.Stopped = f.Stopped
	entry.Body = f.Body
	entry.Segments = f.Segments

	switch {
	case f.Priority != nil:
		entry.Priority = *f.Priority
	case creating:
		entry.Priority = DefaultPriority
	}
	switch {
	case f.Dismissible != nil:
		entry.Dismissible = *f.Dismissible
	case creating:
		entry.Dismissible = true
	}
}

func duplicateName(name string) string {
	runes := []rune(name)
	if len(runes) > duplicateNamePrefixLen {
		runes = runes[:duplicateNamePrefixLen]
	}
	return fmt.Sprintf("%s (copy %s)", string(runes), uuid.New())
}

func normalizeWindow(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultSnapshotLimit
	}
	if limit > MaxSnapshotLimit {
		limit = MaxSnapshotLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// IsNotFound reports whether err wraps any of the not-found sentinels.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrEntryNotFound) ||
		errors.Is(err, ErrSlotNotFound) ||
		errors.Is(err, ErrPageNotFound) ||
		errors.Is(err, ErrPublicationNotFound) ||
		errors.Is(err, ErrSnapshotNotFound) ||
		errors.Is(err, ErrNoLivePublication)
}

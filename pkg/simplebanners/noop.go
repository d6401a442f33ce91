package simplebanners

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// NoopEventSink is a no-operation implementation of EventSink
// Useful for production when you don't need event handling or for testing
type NoopEventSink struct{}

// NewNoopEventSink creates a new no-operation event sink
func NewNoopEventSink() EventSink {
	return &NoopEventSink{}
}

// EntryCreated does nothing and returns nil
func (n *NoopEventSink) EntryCreated(ctx context.Context, entry *Entry) error {
	return nil
}

// EntryUpdated does nothing and returns nil
func (n *NoopEventSink) EntryUpdated(ctx context.Context, entry *Entry) error {
	return nil
}

// EntryDeleted does nothing and returns nil
func (n *NoopEventSink) EntryDeleted(ctx context.Context, entryID uuid.UUID) error {
	return nil
}

// EntriesDuplicated does nothing and returns nil
func (n *NoopEventSink) EntriesDuplicated(ctx context.Context, sourceIDs, newIDs []uuid.UUID) error {
	return nil
}

// PublicationPublished does nothing and returns nil
func (n *NoopEventSink) PublicationPublished(ctx context.Context, publication *Publication, result PublishResult) error {
	return nil
}

// LoggingEventSink is an event sink that logs events but takes no other action
// Useful for development and debugging
type LoggingEventSink struct {
	logger *slog.Logger
}

// NewLoggingEventSink creates a new logging event sink
func NewLoggingEventSink(logger *slog.Logger) EventSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingEventSink{logger: logger}
}

// EntryCreated logs the entry creation event
func (l *LoggingEventSink) EntryCreated(ctx context.Context, entry *Entry) error {
	l.logger.InfoContext(ctx, "entry created", "entry_id", entry.ID, "name", entry.Name, "slot_id", entry.SlotID)
	return nil
}

// EntryUpdated logs the entry update event
func (l *LoggingEventSink) EntryUpdated(ctx context.Context, entry *Entry) error {
	l.logger.InfoContext(ctx, "entry updated", "entry_id", entry.ID, "content_hash", entry.ContentHash)
	return nil
}

// EntryDeleted logs the entry deletion event
func (l *LoggingEventSink) EntryDeleted(ctx context.Context, entryID uuid.UUID) error {
	l.logger.InfoContext(ctx, "entry deleted", "entry_id", entryID)
	return nil
}

// EntriesDuplicated logs the duplication event
func (l *LoggingEventSink) EntriesDuplicated(ctx context.Context, sourceIDs, newIDs []uuid.UUID) error {
	l.logger.InfoContext(ctx, "entries duplicated", "sources", len(sourceIDs), "created", len(newIDs))
	return nil
}

// PublicationPublished logs the publish summary
func (l *LoggingEventSink) PublicationPublished(ctx context.Context, publication *Publication, result PublishResult) error {
	l.logger.InfoContext(ctx, "publication live",
		"publication_id", publication.ID,
		"published_by", publication.PublishedBy,
		"kept", result.Reused,
		"newly_published", result.Created,
		"total", result.Total())
	return nil
}

// MultiEventSink fans every event out to several sinks. All sinks are
// called; their errors are joined.
type MultiEventSink struct {
	sinks []EventSink
}

// NewMultiEventSink creates a fan-out sink. Nil sinks are skipped.
func NewMultiEventSink(sinks ...EventSink) EventSink {
	m := &MultiEventSink{}
	for _, sink := range sinks {
		if sink != nil {
			m.sinks = append(m.sinks, sink)
		}
	}
	return m
}

func (m *MultiEventSink) each(fn func(EventSink) error) error {
	var errs []error
	for _, sink := range m.sinks {
		if err := fn(sink); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// EntryCreated forwards to every sink
func (m *MultiEventSink) EntryCreated(ctx context.Context, entry *Entry) error {
	return m.each(func(s EventSink) error { return s.EntryCreated(ctx, entry) })
}

// EntryUpdated forwards to every sink
func (m *MultiEventSink) EntryUpdated(ctx context.Context, entry *Entry) error {
	return m.each(func(s EventSink) error { return s.EntryUpdated(ctx, entry) })
}

// EntryDeleted forwards to every sink
func (m *MultiEventSink) EntryDeleted(ctx context.Context, entryID uuid.UUID) error {
	return m.each(func(s EventSink) error { return s.EntryDeleted(ctx, entryID) })
}

// EntriesDuplicated forwards to every sink
func (m *MultiEventSink) EntriesDuplicated(ctx context.Context, sourceIDs, newIDs []uuid.UUID) error {
	return m.each(func(s EventSink) error { return s.EntriesDuplicated(ctx, sourceIDs, newIDs) })
}

// PublicationPublished forwards to every sink
func (m *MultiEventSink) PublicationPublished(ctx context.Context, publication *Publication, result PublishResult) error {
	return m.each(func(s EventSink) error { return s.PublicationPublished(ctx, publication, result) })
}

// NoopMetrics discards publish observations.
type NoopMetrics struct{}

// ObservePublish does nothing
func (NoopMetrics) ObservePublish(PublishResult, time.Duration, error) {}

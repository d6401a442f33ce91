// Package redis publishes banner domain events to a Redis channel.
//
// Every event is a JSON object with a "type" discriminator. Publication
// events additionally overwrite a well-known key so consumers that join
// late can read the current live publication without replaying the channel.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/tendant/simple-banners/pkg/simplebanners"
)

// DefaultChannel is used when the sink is built without a channel name.
const DefaultChannel = "banners:events"

// Event types.
const (
	EventEntryCreated         = "entry.created"
	EventEntryUpdated         = "entry.updated"
	EventEntryDeleted         = "entry.deleted"
	EventEntriesDuplicated    = "entries.duplicated"
	EventPublicationPublished = "publication.published"
)

// Event is the payload written to the channel.
type Event struct {
	Type          string                      `json:"type"`
	OccurredAt    time.Time                   `json:"occurred_at"`
	EntryID       *uuid.UUID                  `json:"entry_id,omitempty"`
	EntryName     string                      `json:"entry_name,omitempty"`
	ContentHash   string                      `json:"content_hash,omitempty"`
	SourceIDs     []uuid.UUID                 `json:"source_ids,omitempty"`
	NewIDs        []uuid.UUID                 `json:"new_ids,omitempty"`
	Publication   *simplebanners.Publication  `json:"publication,omitempty"`
	PublishResult *simplebanners.PublishResult `json:"result,omitempty"`
}

// storeLiveScript replaces the live payload unless the stored one belongs
// to a later publication. KEYS[1] holds the payload, KEYS[2] the
// publication's published_at in microseconds.
var storeLiveScript = redis.NewScript(`
local current = redis.call('GET', KEYS[2])
if current and tonumber(current) > tonumber(ARGV[2]) then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('SET', KEYS[2], ARGV[2])
return 1
`)

// Sink implements simplebanners.EventSink on top of a go-redis client.
type Sink struct {
	rdb     redis.UniversalClient
	channel string
	liveKey string
	now     func() time.Time
}

var _ simplebanners.EventSink = (*Sink)(nil)

// NewSink wraps an existing client. An empty channel uses DefaultChannel.
func NewSink(rdb redis.UniversalClient, channel string) *Sink {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Sink{
		rdb:     rdb,
		channel: channel,
		liveKey: channel + ":live",
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// NewSinkFromURL parses a redis:// URL and connects.
func NewSinkFromURL(ctx context.Context, redisURL, channel string) (*Sink, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewSink(rdb, channel), nil
}

// Channel returns the channel events are published to.
func (s *Sink) Channel() string {
	return s.channel
}

// LiveKey returns the key holding the most recent publication event.
func (s *Sink) LiveKey() string {
	return s.liveKey
}

// Close closes the underlying client.
func (s *Sink) Close() error {
	return s.rdb.Close()
}

func (s *Sink) publish(ctx context.Context, event Event) ([]byte, error) {
	event.OccurredAt = s.now()
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s event: %w", event.Type, err)
	}
	if err := s.rdb.Publish(ctx, s.channel, payload).Err(); err != nil {
		return nil, fmt.Errorf("failed to publish %s event: %w", event.Type, err)
	}
	return payload, nil
}

// EntryCreated publishes an entry.created event
func (s *Sink) EntryCreated(ctx context.Context, entry *simplebanners.Entry) error {
	_, err := s.publish(ctx, Event{
		Type:        EventEntryCreated,
		EntryID:     &entry.ID,
		EntryName:   entry.Name,
		ContentHash: entry.ContentHash.String(),
	})
	return err
}

// EntryUpdated publishes an entry.updated event
func (s *Sink) EntryUpdated(ctx context.Context, entry *simplebanners.Entry) error {
	_, err := s.publish(ctx, Event{
		Type:        EventEntryUpdated,
		EntryID:     &entry.ID,
		EntryName:   entry.Name,
		ContentHash: entry.ContentHash.String(),
	})
	return err
}

// EntryDeleted publishes an entry.deleted event
func (s *Sink) EntryDeleted(ctx context.Context, entryID uuid.UUID) error {
	_, err := s.publish(ctx, Event{Type: EventEntryDeleted, EntryID: &entryID})
	return err
}

// EntriesDuplicated publishes an entries.duplicated event
func (s *Sink) EntriesDuplicated(ctx context.Context, sourceIDs, newIDs []uuid.UUID) error {
	_, err := s.publish(ctx, Event{Type: EventEntriesDuplicated, SourceIDs: sourceIDs, NewIDs: newIDs})
	return err
}

// PublicationPublished publishes the event and stores it under LiveKey,
// unless LiveKey already holds a later publication.
func (s *Sink) PublicationPublished(ctx context.Context, publication *simplebanners.Publication, result simplebanners.PublishResult) error {
	payload, err := s.publish(ctx, Event{
		Type:          EventPublicationPublished,
		Publication:   publication,
		PublishResult: &result,
	})
	if err != nil {
		return err
	}
	keys := []string{s.liveKey, s.liveKey + ":published_at"}
	err = storeLiveScript.Run(ctx, s.rdb, keys, payload, publication.PublishedAt.UnixMicro()).Err()
	if err != nil {
		return fmt.Errorf("failed to store live publication: %w", err)
	}
	return nil
}

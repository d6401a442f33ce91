// Package export writes a JSON manifest of every publication that goes
// live, so consumers can read banners from a blob store without touching
// the database.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-banners/pkg/simplebanners"
)

// LiveManifestKey always holds the manifest of the latest live publication.
const LiveManifestKey = "publications/live.json"

// ErrObjectNotFound is returned by blob stores for a missing key.
var ErrObjectNotFound = errors.New("object not found")

// BlobStore defines the interface for manifest storage backends
type BlobStore interface {
	// Upload stores the reader's content under objectKey, replacing any
	// previous object.
	Upload(ctx context.Context, objectKey string, reader io.Reader) error

	// Download returns the object's content or ErrObjectNotFound.
	Download(ctx context.Context, objectKey string) (io.ReadCloser, error)

	// Delete removes the object or returns ErrObjectNotFound.
	Delete(ctx context.Context, objectKey string) error
}

// SnapshotSource reads publications and their logs. simplebanners.Repository
// satisfies it.
type SnapshotSource interface {
	GetLivePublication(ctx context.Context) (*simplebanners.Publication, error)
	ListPublications(ctx context.Context) ([]*simplebanners.Publication, error)
	ListLoggedSnapshots(ctx context.Context, publicationID uuid.UUID) ([]*simplebanners.Snapshot, error)
}

// Manifest is the exported form of one publication.
type Manifest struct {
	ID          uuid.UUID                  `json:"id"`
	PublishedBy string                     `json:"published_by"`
	PublishedAt time.Time                  `json:"published_at"`
	Count       int                        `json:"count"`
	Banners     []simplebanners.BannerView `json:"banners"`
}

// ManifestKey returns the object key of a publication's manifest.
func ManifestKey(publicationID uuid.UUID) string {
	return fmt.Sprintf("publications/%s.json", publicationID)
}

// Exporter is an event sink that exports every new live publication.
// Other events are ignored.
//
// Events may arrive late or out of order, so the live manifest is only
// replaced by the publication that is still live and not older than the
// one already exported.
type Exporter struct {
	simplebanners.NoopEventSink

	source    SnapshotSource
	store     BlobStore
	logger    *slog.Logger
	retention int

	mu sync.Mutex
}

// Option configures an Exporter
type Option func(*Exporter)

// WithLogger sets the exporter's logger
func WithLogger(logger *slog.Logger) Option {
	return func(e *Exporter) {
		e.logger = logger
	}
}

// WithRetention keeps the manifests of the n newest publications and
// deletes older ones after each live export. Zero keeps everything.
func WithRetention(n int) Option {
	return func(e *Exporter) {
		if n > 0 {
			e.retention = n
		}
	}
}

// NewExporter creates an exporter reading from source and writing to store.
func NewExporter(source SnapshotSource, store BlobStore, opts ...Option) *Exporter {
	e := &Exporter{
		source: source,
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var _ simplebanners.EventSink = (*Exporter)(nil)

// PublicationPublished exports the publication. The publish has already
// committed, so a failure is reported but changes nothing.
func (e *Exporter) PublicationPublished(ctx context.Context, publication *simplebanners.Publication, result simplebanners.PublishResult) error {
	if err := e.Export(ctx, publication); err != nil {
		e.logger.ErrorContext(ctx, "manifest export failed", "publication_id", publication.ID, "error", err)
		return err
	}
	e.logger.InfoContext(ctx, "manifest exported", "publication_id", publication.ID, "banners", result.Total())
	return nil
}

// Export writes the publication's manifest. The live manifest is replaced
// only while the publication is still the live one.
func (e *Exporter) Export(ctx context.Context, publication *simplebanners.Publication) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	manifest, err := e.build(ctx, publication)
	if err != nil {
		return err
	}
	data, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	if err := e.store.Upload(ctx, ManifestKey(publication.ID), bytes.NewReader(data)); err != nil {
		return fmt.Errorf("upload manifest: %w", err)
	}

	current, err := e.isCurrent(ctx, publication)
	if err != nil {
		return err
	}
	if !current {
		e.logger.DebugContext(ctx, "live manifest left unchanged", "publication_id", publication.ID)
		return nil
	}
	if err := e.store.Upload(ctx, LiveManifestKey, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("upload live manifest: %w", err)
	}
	return e.prune(ctx)
}

// isCurrent reports whether publication is live right now and not older
// than the manifest already under LiveManifestKey.
func (e *Exporter) isCurrent(ctx context.Context, publication *simplebanners.Publication) (bool, error) {
	live, err := e.source.GetLivePublication(ctx)
	if errors.Is(err, simplebanners.ErrNoLivePublication) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get live publication: %w", err)
	}
	if live.ID != publication.ID {
		return false, nil
	}

	stored, err := ReadManifest(ctx, e.store, LiveManifestKey)
	if errors.Is(err, ErrObjectNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("read live manifest: %w", err)
	}
	return !stored.PublishedAt.After(publication.PublishedAt), nil
}

// build reads the publication log, which no later publish changes, so the
// manifest lists exactly the banners the publication went live with.
func (e *Exporter) build(ctx context.Context, publication *simplebanners.Publication) (*Manifest, error) {
	snapshots, err := e.source.ListLoggedSnapshots(ctx, publication.ID)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	return &Manifest{
		ID:          publication.ID,
		PublishedBy: publication.PublishedBy,
		PublishedAt: publication.PublishedAt,
		Count:       len(snapshots),
		Banners:     simplebanners.NewBannerViews(snapshots),
	}, nil
}

// prune deletes manifests of publications beyond the retention window.
func (e *Exporter) prune(ctx context.Context) error {
	if e.retention == 0 {
		return nil
	}
	publications, err := e.source.ListPublications(ctx)
	if err != nil {
		return fmt.Errorf("list publications: %w", err)
	}
	if len(publications) <= e.retention {
		return nil
	}
	for _, pub := range publications[e.retention:] {
		err := e.store.Delete(ctx, ManifestKey(pub.ID))
		if err != nil && !errors.Is(err, ErrObjectNotFound) {
			return fmt.Errorf("delete manifest %s: %w", pub.ID, err)
		}
	}
	return nil
}

// ReadManifest loads and decodes the manifest stored under key.
func ReadManifest(ctx context.Context, store BlobStore, key string) (*Manifest, error) {
	rc, err := store.Download(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var manifest Manifest
	if err := json.NewDecoder(rc).Decode(&manifest); err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", key, err)
	}
	return &manifest, nil
}

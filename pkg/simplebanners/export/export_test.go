package export_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-banners/pkg/simplebanners"
	"github.com/tendant/simple-banners/pkg/simplebanners/export"
	"github.com/tendant/simple-banners/pkg/simplebanners/export/storage/memory"
	repomemory "github.com/tendant/simple-banners/pkg/simplebanners/repo/memory"
)

func setupPublished(t *testing.T, entries int, opts ...export.Option) (simplebanners.Service, *memory.Backend, *simplebanners.PublishResult) {
	t.Helper()
	ctx := context.Background()
	repo := repomemory.New()
	store := memory.New()
	exporter := export.NewExporter(repo, store, opts...)

	svc, err := simplebanners.New(
		simplebanners.WithRepository(repo),
		simplebanners.WithEventSink(exporter),
	)
	require.NoError(t, err)

	page, err := svc.CreatePage(ctx, simplebanners.CreatePageRequest{Name: "home"})
	require.NoError(t, err)
	slot, err := svc.CreateSlot(ctx, simplebanners.CreateSlotRequest{Name: "top", PageID: page.ID})
	require.NoError(t, err)
	for i := 0; i < entries; i++ {
		_, err := svc.CreateEntry(ctx, simplebanners.CreateEntryRequest{EntryFields: simplebanners.EntryFields{
			Name: uuid.NewString(), SlotID: slot.ID, Body: "hello",
		}})
		require.NoError(t, err)
	}

	result, err := svc.Publish(ctx, "alice")
	require.NoError(t, err)
	return svc, store, result
}

func TestExporter_WritesManifests(t *testing.T) {
	_, store, result := setupPublished(t, 5)
	ctx := context.Background()

	assert.Equal(t, []string{
		export.ManifestKey(result.PublicationID),
		export.LiveManifestKey,
	}, sortedKeys(store))

	live, err := export.ReadManifest(ctx, store, export.LiveManifestKey)
	require.NoError(t, err)
	assert.Equal(t, result.PublicationID, live.ID)
	assert.Equal(t, "alice", live.PublishedBy)
	assert.Equal(t, 5, live.Count)
	assert.Len(t, live.Banners, 5)
	for _, b := range live.Banners {
		assert.Equal(t, "top", b.Slot.Name)
		assert.Equal(t, "home", b.Slot.Page.Name)
		assert.NotNil(t, b.Countries)
	}
}

func TestExporter_LiveManifestFollowsPublish(t *testing.T) {
	svc, store, first := setupPublished(t, 1)
	ctx := context.Background()

	second, err := svc.Publish(ctx, "bob")
	require.NoError(t, err)

	live, err := export.ReadManifest(ctx, store, export.LiveManifestKey)
	require.NoError(t, err)
	assert.Equal(t, second.PublicationID, live.ID)

	old, err := export.ReadManifest(ctx, store, export.ManifestKey(first.PublicationID))
	require.NoError(t, err)
	assert.Equal(t, first.PublicationID, old.ID)
}

func TestExporter_EmptyPublication(t *testing.T) {
	_, store, _ := setupPublished(t, 0)

	live, err := export.ReadManifest(context.Background(), store, export.LiveManifestKey)
	require.NoError(t, err)
	assert.Equal(t, 0, live.Count)
	assert.NotNil(t, live.Banners)
}

type brokenStore struct{}

func (brokenStore) Upload(context.Context, string, io.Reader) error { return errors.New("unavailable") }
func (brokenStore) Download(context.Context, string) (io.ReadCloser, error) {
	return nil, export.ErrObjectNotFound
}
func (brokenStore) Delete(context.Context, string) error { return nil }

func TestExporter_FailureDoesNotFailPublish(t *testing.T) {
	ctx := context.Background()
	repo := repomemory.New()
	exporter := export.NewExporter(repo, brokenStore{}, export.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	svc, err := simplebanners.New(simplebanners.WithRepository(repo), simplebanners.WithEventSink(exporter))
	require.NoError(t, err)

	result, err := svc.Publish(ctx, "alice")
	require.NoError(t, err)

	live, err := svc.GetLivePublication(ctx)
	require.NoError(t, err)
	assert.Equal(t, result.PublicationID, live.ID)

	_, err = export.ReadManifest(ctx, brokenStore{}, export.LiveManifestKey)
	assert.ErrorIs(t, err, export.ErrObjectNotFound)
}

type recordingSink struct {
	simplebanners.NoopEventSink
	published []*simplebanners.Publication
	results   []simplebanners.PublishResult
}

func (r *recordingSink) PublicationPublished(ctx context.Context, publication *simplebanners.Publication, result simplebanners.PublishResult) error {
	r.published = append(r.published, publication)
	r.results = append(r.results, result)
	return nil
}

// tickingClock returns a clock that advances one second per call.
func tickingClock() func() time.Time {
	var mu sync.Mutex
	current := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(time.Second)
		return current
	}
}

func TestExporter_LateEventKeepsNewerLiveManifest(t *testing.T) {
	ctx := context.Background()
	repo := repomemory.New()
	store := memory.New()
	exporter := export.NewExporter(repo, store)
	sink := &recordingSink{}
	svc, err := simplebanners.New(
		simplebanners.WithRepository(repo),
		simplebanners.WithEventSink(sink),
		simplebanners.WithClock(tickingClock()),
	)
	require.NoError(t, err)

	page, err := svc.CreatePage(ctx, simplebanners.CreatePageRequest{Name: "home"})
	require.NoError(t, err)
	slot, err := svc.CreateSlot(ctx, simplebanners.CreateSlotRequest{Name: "top", PageID: page.ID})
	require.NoError(t, err)
	var changed *simplebanners.Entry
	for i := 0; i < 3; i++ {
		changed, err = svc.CreateEntry(ctx, simplebanners.CreateEntryRequest{EntryFields: simplebanners.EntryFields{
			Name: uuid.NewString(), SlotID: slot.ID, Body: "hello",
		}})
		require.NoError(t, err)
	}
	_, err = svc.Publish(ctx, "alice")
	require.NoError(t, err)
	_, err = svc.UpdateEntry(ctx, simplebanners.UpdateEntryRequest{ID: changed.ID, EntryFields: simplebanners.EntryFields{
		Name: changed.Name, SlotID: slot.ID, Body: "changed",
	}})
	require.NoError(t, err)
	_, err = svc.Publish(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, sink.published, 2)
	first, second := sink.published[0], sink.published[1]

	// Deliver the events newest first.
	require.NoError(t, exporter.PublicationPublished(ctx, second, sink.results[1]))
	require.NoError(t, exporter.PublicationPublished(ctx, first, sink.results[0]))

	live, err := export.ReadManifest(ctx, store, export.LiveManifestKey)
	require.NoError(t, err)
	assert.Equal(t, second.ID, live.ID)
	assert.Equal(t, "bob", live.PublishedBy)
	assert.Equal(t, 3, live.Count)

	// Two of the first publication's snapshots now belong to the second one;
	// its manifest still lists everything it went live with.
	old, err := export.ReadManifest(ctx, store, export.ManifestKey(first.ID))
	require.NoError(t, err)
	assert.Equal(t, first.ID, old.ID)
	assert.Equal(t, 3, old.Count)
	assert.Len(t, old.Banners, 3)
	for _, b := range old.Banners {
		assert.Equal(t, "hello", b.Body)
	}
}

type liveSource struct {
	live *simplebanners.Publication
}

func (l liveSource) GetLivePublication(context.Context) (*simplebanners.Publication, error) {
	return l.live, nil
}

func (l liveSource) ListPublications(context.Context) ([]*simplebanners.Publication, error) {
	return []*simplebanners.Publication{l.live}, nil
}

func (l liveSource) ListLoggedSnapshots(context.Context, uuid.UUID) ([]*simplebanners.Snapshot, error) {
	return nil, nil
}

func TestExporter_KeepsNewerStoredLiveManifest(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	publishedAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	newer := export.Manifest{ID: uuid.New(), PublishedAt: publishedAt.Add(time.Hour), Banners: []simplebanners.BannerView{}}
	data, err := json.Marshal(newer)
	require.NoError(t, err)
	require.NoError(t, store.Upload(ctx, export.LiveManifestKey, bytes.NewReader(data)))

	pub := &simplebanners.Publication{ID: uuid.New(), State: simplebanners.PublicationStateLive, PublishedAt: publishedAt}
	exporter := export.NewExporter(liveSource{live: pub}, store)
	require.NoError(t, exporter.Export(ctx, pub))

	live, err := export.ReadManifest(ctx, store, export.LiveManifestKey)
	require.NoError(t, err)
	assert.Equal(t, newer.ID, live.ID)

	own, err := export.ReadManifest(ctx, store, export.ManifestKey(pub.ID))
	require.NoError(t, err)
	assert.Equal(t, 0, own.Count)
}

func TestExporter_RetentionPrunesOldManifests(t *testing.T) {
	ctx := context.Background()
	repo := repomemory.New()
	store := memory.New()
	exporter := export.NewExporter(repo, store, export.WithRetention(2))
	svc, err := simplebanners.New(
		simplebanners.WithRepository(repo),
		simplebanners.WithEventSink(exporter),
		simplebanners.WithClock(tickingClock()),
	)
	require.NoError(t, err)

	var ids []uuid.UUID
	for i := 0; i < 4; i++ {
		result, err := svc.Publish(ctx, "alice")
		require.NoError(t, err)
		ids = append(ids, result.PublicationID)
	}

	assert.ElementsMatch(t, []string{
		export.ManifestKey(ids[2]),
		export.ManifestKey(ids[3]),
		export.LiveManifestKey,
	}, store.Keys())

	_, err = export.ReadManifest(ctx, store, export.ManifestKey(ids[0]))
	assert.ErrorIs(t, err, export.ErrObjectNotFound)
}

func sortedKeys(store *memory.Backend) []string {
	return store.Keys()
}

//go:build integration

package postgres_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/tendant/simple-banners/pkg/simplebanners"
	"github.com/tendant/simple-banners/pkg/simplebanners/repo/postgres"
)

// connString returns TEST_DATABASE_URL or starts a disposable PostgreSQL
// container.
func connString(t *testing.T) string {
	t.Helper()
	if url := os.Getenv("TEST_DATABASE_URL"); url != "" {
		return url
	}

	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "banners",
			"POSTGRES_PASSWORD": "banners",
			"POSTGRES_DB":       "banners",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pgC.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := pgC.Host(ctx)
	require.NoError(t, err)
	port, err := pgC.MappedPort(ctx, "5432")
	require.NoError(t, err)
	return fmt.Sprintf("postgres://banners:banners@%s:%s/banners?sslmode=disable", host, port.Port())
}

// setupRepository gives every test its own schema so tests never share rows.
func setupRepository(t *testing.T, opts ...postgres.Option) (*postgres.Repository, *pgxpool.Pool) {
	t.Helper()
	ctx := context.Background()
	schema := "banners_test_" + uuid.NewString()[:8]

	admin, err := pgxpool.New(ctx, connString(t))
	require.NoError(t, err)
	_, err = admin.Exec(ctx, "CREATE SCHEMA "+schema)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = admin.Exec(context.Background(), "DROP SCHEMA "+schema+" CASCADE")
		admin.Close()
	})

	cfg, err := pgxpool.ParseConfig(admin.Config().ConnString())
	require.NoError(t, err)
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, postgres.Migrate(ctx, pool))
	// Applying twice must be harmless.
	require.NoError(t, postgres.Migrate(ctx, pool))
	return postgres.NewWithPool(pool, opts...), pool
}

func setupService(t *testing.T, repo simplebanners.Repository) (simplebanners.Service, *simplebanners.Slot) {
	t.Helper()
	ctx := context.Background()
	svc, err := simplebanners.New(simplebanners.WithRepository(repo))
	require.NoError(t, err)
	page, err := svc.CreatePage(ctx, simplebanners.CreatePageRequest{Name: "home"})
	require.NoError(t, err)
	slot, err := svc.CreateSlot(ctx, simplebanners.CreateSlotRequest{Name: "top", PageID: page.ID})
	require.NoError(t, err)
	return svc, slot
}

func TestPostgresRepository_PublishLifecycle(t *testing.T) {
	repo, _ := setupRepository(t)
	svc, slot := setupService(t, repo)
	ctx := context.Background()

	start := time.Date(2024, 5, 1, 8, 30, 0, 123456789, time.UTC)
	a, err := svc.CreateEntry(ctx, simplebanners.CreateEntryRequest{EntryFields: simplebanners.EntryFields{
		Name: "A", SlotID: slot.ID, Body: "a", StartTime: &start, Countries: []string{"DE"},
	}})
	require.NoError(t, err)
	b, err := svc.CreateEntry(ctx, simplebanners.CreateEntryRequest{EntryFields: simplebanners.EntryFields{
		Name: "B", SlotID: slot.ID, Body: "b",
	}})
	require.NoError(t, err)

	// Round-tripping through the database keeps the fingerprint stable.
	stored, err := svc.GetEntry(ctx, a.ID)
	require.NoError(t, err)
	before := stored.ContentHash
	require.NoError(t, stored.Rehash())
	assert.Equal(t, before, stored.ContentHash)

	first, err := svc.Publish(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, first.Created)

	_, err = svc.UpdateEntry(ctx, simplebanners.UpdateEntryRequest{ID: b.ID, EntryFields: simplebanners.EntryFields{
		Name: "B", SlotID: slot.ID, Body: "b2",
	}})
	require.NoError(t, err)

	second, err := svc.Publish(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, second.Reused)
	assert.Equal(t, 1, second.Created)

	p1, err := svc.GetPublication(ctx, first.PublicationID)
	require.NoError(t, err)
	assert.Equal(t, simplebanners.PublicationStateDeactivated, p1.State)

	live, err := svc.GetLivePublication(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.PublicationID, live.ID)

	current, err := svc.ListCurrentSnapshots(ctx, simplebanners.ListSnapshotsRequest{PublicationID: live.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, current.Count)
	for _, snap := range current.Snapshots {
		assert.True(t, snap.Verify(), "snapshot %s fingerprint", snap.ID)
		if snap.EntryID == a.ID {
			pubs, err := svc.ListSnapshotPublications(ctx, snap.ID)
			require.NoError(t, err)
			assert.Equal(t, []uuid.UUID{first.PublicationID, second.PublicationID}, pubs)
		}
	}

	history, err := svc.ListPublicationLog(ctx, first.PublicationID)
	require.NoError(t, err)
	assert.Len(t, history, 2)

	fresh, err := svc.GetEntry(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, fresh.HasChangesToPublish())
}

func TestPostgresRepository_ConcurrentPublish(t *testing.T) {
	repo, pool := setupRepository(t)
	svc, slot := setupService(t, repo)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.CreateEntry(ctx, simplebanners.CreateEntryRequest{EntryFields: simplebanners.EntryFields{
			Name: fmt.Sprintf("entry-%d", i), SlotID: slot.ID, Body: "x",
		}})
		require.NoError(t, err)
	}

	const publishers = 6
	var wg sync.WaitGroup
	errs := make(chan error, publishers)
	for i := 0; i < publishers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Publish(ctx, "racer")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	var live int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM publication WHERE state = 'live'`).Scan(&live))
	assert.Equal(t, 1, live)

	var total int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM publication`).Scan(&total))
	assert.Equal(t, publishers, total)
}

func TestPostgresRepository_LockTimeout(t *testing.T) {
	repo, _ := setupRepository(t, postgres.WithLockTimeout(50*time.Millisecond))
	svc, _ := setupService(t, repo)
	ctx := context.Background()

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- repo.WithTx(ctx, func(tx simplebanners.Tx) error {
			if _, err := tx.LockLivePublication(ctx); err != nil {
				return err
			}
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	_, err := svc.Publish(ctx, "alice")
	close(release)
	require.NoError(t, <-done)
	assert.ErrorIs(t, err, simplebanners.ErrPublishConflict)
}

func TestPostgresRepository_ReferentialProtection(t *testing.T) {
	repo, _ := setupRepository(t)
	svc, slot := setupService(t, repo)
	ctx := context.Background()

	_, err := svc.CreateEntry(ctx, simplebanners.CreateEntryRequest{EntryFields: simplebanners.EntryFields{
		Name: "A", SlotID: slot.ID,
	}})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.DeleteSlot(ctx, slot.ID), simplebanners.ErrSlotInUse)
	assert.ErrorIs(t, svc.DeletePage(ctx, slot.PageID), simplebanners.ErrPageInUse)

	_, err = svc.CreateEntry(ctx, simplebanners.CreateEntryRequest{EntryFields: simplebanners.EntryFields{
		Name: "A", SlotID: slot.ID,
	}})
	assert.ErrorIs(t, err, simplebanners.ErrDuplicateName)
}

// An edit racing a publish either lands before the publish reads the entry
// or waits until it commits; the publish never mixes the two versions.
func TestPostgresRepository_PublishHoldsEligibleEntries(t *testing.T) {
	repo, _ := setupRepository(t)
	svc, slot := setupService(t, repo)
	ctx := context.Background()

	entry, err := svc.CreateEntry(ctx, simplebanners.CreateEntryRequest{EntryFields: simplebanners.EntryFields{
		Name: "A", SlotID: slot.ID, Body: "v1",
	}})
	require.NoError(t, err)
	first, err := svc.Publish(ctx, "alice")
	require.NoError(t, err)

	var updated sync.WaitGroup
	updateDone := make(chan struct{})
	err = repo.WithTx(ctx, func(tx simplebanners.Tx) error {
		entries, err := tx.ListEligibleEntries(ctx)
		require.NoError(t, err)
		require.Len(t, entries, 1)

		updated.Add(1)
		go func() {
			defer updated.Done()
			defer close(updateDone)
			_, err := svc.UpdateEntry(ctx, simplebanners.UpdateEntryRequest{ID: entry.ID, EntryFields: simplebanners.EntryFields{
				Name: "A", SlotID: slot.ID, Body: "v2",
			}})
			assert.NoError(t, err)
		}()

		select {
		case <-updateDone:
			t.Fatal("update did not wait for the publish transaction")
		case <-time.After(300 * time.Millisecond):
		}

		matches, err := tx.FindMatchingSnapshots(ctx, entries)
		require.NoError(t, err)
		require.Contains(t, matches, entry.ID)
		assert.Equal(t, first.PublicationID, matches[entry.ID].CurrentPublicationID)
		return nil
	})
	require.NoError(t, err)
	updated.Wait()

	fresh, err := svc.GetEntry(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, "v2", fresh.Body)
	assert.True(t, fresh.HasChangesToPublish())
}

func TestPostgresRepository_ConcurrentEditsAndPublishes(t *testing.T) {
	repo, pool := setupRepository(t, postgres.WithLockTimeout(10*time.Second))
	svc, slot := setupService(t, repo)
	ctx := context.Background()

	entry, err := svc.CreateEntry(ctx, simplebanners.CreateEntryRequest{EntryFields: simplebanners.EntryFields{
		Name: "A", SlotID: slot.ID, Body: "v0",
	}})
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			_, err := svc.UpdateEntry(ctx, simplebanners.UpdateEntryRequest{ID: entry.ID, EntryFields: simplebanners.EntryFields{
				Name: "A", SlotID: slot.ID, Body: fmt.Sprintf("v%d", i%3),
			}})
			assert.NoError(t, err)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			_, err := svc.Publish(ctx, "racer")
			assert.NoError(t, err)
		}
	}()
	wg.Wait()

	// Every fingerprint is captured at most once per entry.
	var duplicates int
	require.NoError(t, pool.QueryRow(ctx, `
		SELECT count(*) FROM (
			SELECT entry_id, content_hash FROM snapshot
			GROUP BY entry_id, content_hash HAVING count(*) > 1
		) d`).Scan(&duplicates))
	assert.Zero(t, duplicates)

	// A final publish leaves the entry clean and its live snapshot in sync.
	result, err := svc.Publish(ctx, "final")
	require.NoError(t, err)
	fresh, err := svc.GetEntry(ctx, entry.ID)
	require.NoError(t, err)
	assert.False(t, fresh.HasChangesToPublish())
	page, err := svc.ListCurrentSnapshots(ctx, simplebanners.ListSnapshotsRequest{PublicationID: result.PublicationID})
	require.NoError(t, err)
	require.Len(t, page.Snapshots, 1)
	assert.Equal(t, fresh.ContentHash, page.Snapshots[0].ContentHash)
}

func TestPostgresRepository_DeleteEntryStampsGivenTime(t *testing.T) {
	repo, _ := setupRepository(t)
	svc, slot := setupService(t, repo)
	ctx := context.Background()

	entry, err := svc.CreateEntry(ctx, simplebanners.CreateEntryRequest{EntryFields: simplebanners.EntryFields{
		Name: "gone", SlotID: slot.ID,
	}})
	require.NoError(t, err)

	deletedAt := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.DeleteEntry(ctx, entry.ID, deletedAt))
	all, err := repo.ListEntries(ctx, simplebanners.EntryFilter{IncludeInactive: true})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, deletedAt, all[0].UpdatedAt.UTC())
}

func TestPostgresRepository_LiveSnapshotPage(t *testing.T) {
	repo, _ := setupRepository(t)
	svc, slot := setupService(t, repo)
	ctx := context.Background()

	_, _, _, err := repo.GetLiveSnapshotPage(ctx, 10, 0)
	assert.ErrorIs(t, err, simplebanners.ErrNoLivePublication)

	for i := 0; i < 3; i++ {
		_, err := svc.CreateEntry(ctx, simplebanners.CreateEntryRequest{EntryFields: simplebanners.EntryFields{
			Name: fmt.Sprintf("entry-%d", i), SlotID: slot.ID, Body: "x",
		}})
		require.NoError(t, err)
	}
	result, err := svc.Publish(ctx, "alice")
	require.NoError(t, err)

	live, snapshots, count, err := repo.GetLiveSnapshotPage(ctx, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, result.PublicationID, live.ID)
	assert.Equal(t, 3, count)
	assert.Len(t, snapshots, 2)
}

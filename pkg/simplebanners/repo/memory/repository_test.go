package memory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-banners/pkg/simplebanners"
	"github.com/tendant/simple-banners/pkg/simplebanners/repo/memory"
)

func seedSlot(t *testing.T, repo *memory.Repository) (*simplebanners.Page, *simplebanners.Slot) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	page := &simplebanners.Page{ID: uuid.New(), Name: "page-" + uuid.NewString(), CreatedAt: now, UpdatedAt: now}
	require.NoError(t, repo.CreatePage(ctx, page))
	slot := &simplebanners.Slot{ID: uuid.New(), Name: "slot-" + uuid.NewString(), PageID: page.ID, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, repo.CreateSlot(ctx, slot))
	return page, slot
}

func newEntry(slotID uuid.UUID, name string) *simplebanners.Entry {
	now := time.Now().UTC()
	return &simplebanners.Entry{
		ID:        uuid.New(),
		Content:   simplebanners.Content{Name: name, Countries: []string{"DE"}},
		SlotID:    slotID,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestMemoryRepository_EntryOperations(t *testing.T) {
	repo := memory.New()
	ctx := context.Background()
	page, slot := seedSlot(t, repo)

	t.Run("CreateAndGet", func(t *testing.T) {
		entry := newEntry(slot.ID, "first")
		require.NoError(t, repo.CreateEntries(ctx, []*simplebanners.Entry{entry}))

		got, err := repo.GetEntry(ctx, entry.ID)
		require.NoError(t, err)
		assert.Equal(t, entry.Name, got.Name)
		assert.Equal(t, slot.Name, got.Slot.Name)
		assert.Equal(t, page.ID, got.Slot.Page.ID)
	})

	t.Run("ReturnsCopies", func(t *testing.T) {
		entry := newEntry(slot.ID, "copies")
		require.NoError(t, repo.CreateEntries(ctx, []*simplebanners.Entry{entry}))
		entry.Countries[0] = "XX"

		got, err := repo.GetEntry(ctx, entry.ID)
		require.NoError(t, err)
		assert.Equal(t, "DE", got.Countries[0])

		got.Name = "mutated"
		again, err := repo.GetEntry(ctx, entry.ID)
		require.NoError(t, err)
		assert.Equal(t, "copies", again.Name)
	})

	t.Run("UniqueName", func(t *testing.T) {
		err := repo.CreateEntries(ctx, []*simplebanners.Entry{newEntry(slot.ID, "first")})
		assert.ErrorIs(t, err, simplebanners.ErrDuplicateName)
	})

	t.Run("UnknownSlot", func(t *testing.T) {
		err := repo.CreateEntries(ctx, []*simplebanners.Entry{newEntry(uuid.New(), "orphan")})
		assert.ErrorIs(t, err, simplebanners.ErrSlotNotFound)
	})

	t.Run("SoftDelete", func(t *testing.T) {
		entry := newEntry(slot.ID, "doomed")
		require.NoError(t, repo.CreateEntries(ctx, []*simplebanners.Entry{entry}))
		deletedAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		require.NoError(t, repo.DeleteEntry(ctx, entry.ID, deletedAt))

		_, err := repo.GetEntry(ctx, entry.ID)
		assert.ErrorIs(t, err, simplebanners.ErrEntryNotFound)

		all, err := repo.ListEntries(ctx, simplebanners.EntryFilter{IncludeInactive: true})
		require.NoError(t, err)
		found := false
		for _, e := range all {
			if e.ID == entry.ID {
				found = true
				assert.False(t, e.Active)
				assert.Equal(t, deletedAt, e.UpdatedAt)
			}
		}
		assert.True(t, found)

		assert.ErrorIs(t, repo.DeleteEntry(ctx, entry.ID, deletedAt), simplebanners.ErrEntryNotFound)
	})

	t.Run("GetEntriesFailsOnMissing", func(t *testing.T) {
		_, err := repo.GetEntries(ctx, []uuid.UUID{uuid.New()})
		assert.ErrorIs(t, err, simplebanners.ErrEntryNotFound)
	})
}

func TestMemoryRepository_TransactionRollback(t *testing.T) {
	repo := memory.New()
	ctx := context.Background()
	_, slot := seedSlot(t, repo)

	boom := errors.New("boom")
	entry := newEntry(slot.ID, "rolled back")
	err := repo.WithTx(ctx, func(tx simplebanners.Tx) error {
		if err := tx.CreateEntries(ctx, []*simplebanners.Entry{entry}); err != nil {
			return err
		}
		// Visible inside the transaction.
		if _, err := tx.GetEntry(ctx, entry.ID); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = repo.GetEntry(ctx, entry.ID)
	assert.ErrorIs(t, err, simplebanners.ErrEntryNotFound)
}

func TestMemoryRepository_ReadersSeeCommittedState(t *testing.T) {
	repo := memory.New()
	ctx := context.Background()
	_, slot := seedSlot(t, repo)

	entry := newEntry(slot.ID, "pending")
	inside := make(chan struct{})
	proceed := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- repo.WithTx(ctx, func(tx simplebanners.Tx) error {
			if err := tx.CreateEntries(ctx, []*simplebanners.Entry{entry}); err != nil {
				return err
			}
			close(inside)
			<-proceed
			return nil
		})
	}()

	<-inside
	_, err := repo.GetEntry(ctx, entry.ID)
	assert.ErrorIs(t, err, simplebanners.ErrEntryNotFound)
	close(proceed)
	require.NoError(t, <-done)

	_, err = repo.GetEntry(ctx, entry.ID)
	assert.NoError(t, err)
}

func TestMemoryRepository_PublicationInvariants(t *testing.T) {
	repo := memory.New()
	ctx := context.Background()
	now := time.Now().UTC()

	p1 := &simplebanners.Publication{ID: uuid.New(), State: simplebanners.PublicationStateLive, PublishedBy: "a", CreatedAt: now}
	require.NoError(t, repo.WithTx(ctx, func(tx simplebanners.Tx) error {
		return tx.CreatePublication(ctx, p1)
	}))

	t.Run("SecondLiveRejected", func(t *testing.T) {
		err := repo.WithTx(ctx, func(tx simplebanners.Tx) error {
			return tx.CreatePublication(ctx, &simplebanners.Publication{ID: uuid.New(), State: simplebanners.PublicationStateLive, CreatedAt: now})
		})
		assert.ErrorIs(t, err, simplebanners.ErrPublishConflict)
	})

	t.Run("NoReactivation", func(t *testing.T) {
		err := repo.WithTx(ctx, func(tx simplebanners.Tx) error {
			if err := tx.SetPublicationState(ctx, p1.ID, simplebanners.PublicationStateDeactivated); err != nil {
				return err
			}
			return tx.SetPublicationState(ctx, p1.ID, simplebanners.PublicationStateLive)
		})
		assert.ErrorIs(t, err, simplebanners.ErrInvalidTransition)

		live, err := repo.GetLivePublication(ctx)
		require.NoError(t, err)
		assert.Equal(t, p1.ID, live.ID)
	})

	t.Run("LockReturnsLive", func(t *testing.T) {
		require.NoError(t, repo.WithTx(ctx, func(tx simplebanners.Tx) error {
			live, err := tx.LockLivePublication(ctx)
			require.NoError(t, err)
			require.NotNil(t, live)
			assert.Equal(t, p1.ID, live.ID)
			return nil
		}))
	})
}

func TestMemoryRepository_SnapshotOperations(t *testing.T) {
	repo := memory.New()
	ctx := context.Background()
	_, slot := seedSlot(t, repo)

	entry := newEntry(slot.ID, "snap")
	require.NoError(t, entry.Rehash())
	require.NoError(t, repo.CreateEntries(ctx, []*simplebanners.Entry{entry}))

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	pub := &simplebanners.Publication{ID: uuid.New(), State: simplebanners.PublicationStateLive, CreatedAt: base}
	older := &simplebanners.Snapshot{ID: uuid.New(), Content: entry.Content.Clone(), EntryID: entry.ID, ContentHash: entry.ContentHash, CurrentPublicationID: pub.ID, CreatedAt: base}
	newer := &simplebanners.Snapshot{ID: uuid.New(), Content: entry.Content.Clone(), EntryID: entry.ID, ContentHash: entry.ContentHash, CurrentPublicationID: pub.ID, CreatedAt: base.Add(time.Minute)}
	stale := &simplebanners.Snapshot{ID: uuid.New(), Content: entry.Content.Clone(), EntryID: entry.ID, CurrentPublicationID: pub.ID, CreatedAt: base.Add(time.Hour)}

	require.NoError(t, repo.WithTx(ctx, func(tx simplebanners.Tx) error {
		if err := tx.CreatePublication(ctx, pub); err != nil {
			return err
		}
		return tx.CreateSnapshots(ctx, []*simplebanners.Snapshot{older, newer, stale})
	}))

	t.Run("FindMatchingPrefersMostRecent", func(t *testing.T) {
		require.NoError(t, repo.WithTx(ctx, func(tx simplebanners.Tx) error {
			matches, err := tx.FindMatchingSnapshots(ctx, []*simplebanners.Entry{entry, {ID: uuid.New()}})
			require.NoError(t, err)
			require.Len(t, matches, 1)
			assert.Equal(t, newer.ID, matches[entry.ID].ID)
			return nil
		}))
	})

	t.Run("FindMatchingUsesGivenFingerprint", func(t *testing.T) {
		read := entry.Clone()
		read.ContentHash = stale.ContentHash
		require.NoError(t, repo.WithTx(ctx, func(tx simplebanners.Tx) error {
			matches, err := tx.FindMatchingSnapshots(ctx, []*simplebanners.Entry{read})
			require.NoError(t, err)
			require.Len(t, matches, 1)
			assert.Equal(t, stale.ID, matches[entry.ID].ID)
			return nil
		}))
	})

	t.Run("PublicationLogIsASet", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			require.NoError(t, repo.WithTx(ctx, func(tx simplebanners.Tx) error {
				return tx.AddToPublicationLog(ctx, pub.ID, []uuid.UUID{older.ID, newer.ID})
			}))
		}
		logged, err := repo.ListLoggedSnapshots(ctx, pub.ID)
		require.NoError(t, err)
		assert.Len(t, logged, 2)

		pubs, err := repo.ListSnapshotPublications(ctx, older.ID)
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{pub.ID}, pubs)
	})

	t.Run("LogRejectsUnknownSnapshot", func(t *testing.T) {
		err := repo.WithTx(ctx, func(tx simplebanners.Tx) error {
			return tx.AddToPublicationLog(ctx, pub.ID, []uuid.UUID{uuid.New()})
		})
		assert.ErrorIs(t, err, simplebanners.ErrSnapshotNotFound)
	})

	t.Run("CurrentSnapshotsPaginate", func(t *testing.T) {
		page, count, err := repo.ListCurrentSnapshots(ctx, pub.ID, 2, 0)
		require.NoError(t, err)
		assert.Equal(t, 3, count)
		require.Len(t, page, 2)
		assert.Equal(t, stale.ID, page[0].ID)

		rest, _, err := repo.ListCurrentSnapshots(ctx, pub.ID, 2, 2)
		require.NoError(t, err)
		require.Len(t, rest, 1)
		assert.Equal(t, older.ID, rest[0].ID)
	})

	t.Run("LiveSnapshotPage", func(t *testing.T) {
		live, page, count, err := repo.GetLiveSnapshotPage(ctx, 1, 1)
		require.NoError(t, err)
		assert.Equal(t, pub.ID, live.ID)
		assert.Equal(t, 3, count)
		require.Len(t, page, 1)
		assert.Equal(t, newer.ID, page[0].ID)
	})
}

func TestMemoryRepository_LiveSnapshotPageWithoutPublication(t *testing.T) {
	repo := memory.New()
	_, _, _, err := repo.GetLiveSnapshotPage(context.Background(), 10, 0)
	assert.ErrorIs(t, err, simplebanners.ErrNoLivePublication)
}

func TestMemoryRepository_LockTimeout(t *testing.T) {
	repo := memory.New(memory.WithLockTimeout(20 * time.Millisecond))
	ctx := context.Background()

	held := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = repo.WithTx(ctx, func(tx simplebanners.Tx) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	err := repo.WithTx(ctx, func(tx simplebanners.Tx) error { return nil })
	assert.ErrorIs(t, err, simplebanners.ErrPublishConflict)

	close(release)
	wg.Wait()
	assert.NoError(t, repo.WithTx(ctx, func(tx simplebanners.Tx) error { return nil }))
}

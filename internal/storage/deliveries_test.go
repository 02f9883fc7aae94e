package storage_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0x0BSoD/feedRelay/internal/model"
	"github.com/0x0BSoD/feedRelay/internal/storage"
	"github.com/0x0BSoD/feedRelay/internal/storage/storagetest"
)

func items(feedID string, guids ...string) []model.Item {
	out := make([]model.Item, 0, len(guids))
	for _, g := range guids {
		out = append(out, model.Item{FeedID: feedID, GUID: g, Title: "title " + g})
	}
	return out
}

func TestDeliveryStorage_CommitTwice(t *testing.T) {
	ctx := context.Background()
	db := storagetest.NewDB(t)
	s := storage.NewDeliveryStorage(db)

	require.NoError(t, s.Commit(ctx, "feed", "guid-1", time.Now()))
	err := s.Commit(ctx, "feed", "guid-1", time.Now())
	assert.ErrorIs(t, err, storage.ErrAlreadyRecorded)

	assert.Equal(t, 1, storagetest.Count(t, db, "feed", "guid-1"))
}

func TestDeliveryStorage_SameGUIDDifferentFeeds(t *testing.T) {
	ctx := context.Background()
	s := storage.NewDeliveryStorage(storagetest.NewDB(t))

	require.NoError(t, s.Commit(ctx, "a", "guid", time.Now()))
	require.NoError(t, s.Commit(ctx, "b", "guid", time.Now()))

	fresh, err := s.FilterNew(ctx, "b", items("b", "guid", "other"))
	require.NoError(t, err)
	require.Len(t, fresh, 1)
	assert.Equal(t, "other", fresh[0].GUID)
}

func TestDeliveryStorage_ConcurrentCommit(t *testing.T) {
	ctx := context.Background()
	db := storagetest.NewDB(t)
	s := storage.NewDeliveryStorage(db)

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok      int
		already int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Commit(ctx, "feed", "race", time.Now())

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, storage.ErrAlreadyRecorded):
				already++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, workers-1, already)

	assert.Equal(t, 1, storagetest.Count(t, db, "feed", "race"))
}

func TestDeliveryStorage_FilterNew(t *testing.T) {
	ctx := context.Background()
	s := storage.NewDeliveryStorage(storagetest.NewDB(t))

	require.NoError(t, s.Commit(ctx, "feed", "2", time.Now()))
	require.NoError(t, s.Commit(ctx, "feed", "4", time.Now()))

	fresh, err := s.FilterNew(ctx, "feed", items("feed", "1", "2", "3", "4", "5"))
	require.NoError(t, err)

	guids := make([]string, 0, len(fresh))
	for _, item := range fresh {
		guids = append(guids, item.GUID)
	}
	assert.Equal(t, []string{"1", "3", "5"}, guids, "feed order is preserved")
}

func TestDeliveryStorage_FilterNewLargeBatch(t *testing.T) {
	ctx := context.Background()
	s := storage.NewDeliveryStorage(storagetest.NewDB(t))

	guids := make([]string, 0, 1200)
	for i := 0; i < 1200; i++ {
		guids = append(guids, fmt.Sprintf("g-%d", i))
	}
	require.NoError(t, s.Commit(ctx, "feed", "g-1100", time.Now()))

	fresh, err := s.FilterNew(ctx, "feed", items("feed", guids...))
	require.NoError(t, err)
	assert.Len(t, fresh, 1199)
}

func TestDeliveryStorage_FilterNewEmpty(t *testing.T) {
	s := storage.NewDeliveryStorage(storagetest.NewDB(t))

	fresh, err := s.FilterNew(context.Background(), "feed", nil)
	require.NoError(t, err)
	assert.Empty(t, fresh)
}

func TestDeliveryStorage_StoreError(t *testing.T) {
	db := storagetest.NewDB(t)
	s := storage.NewDeliveryStorage(db)
	require.NoError(t, db.Close())

	_, err := s.FilterNew(context.Background(), "feed", items("feed", "1"))
	var se *storage.StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "filter", se.Op)

	err = s.Commit(context.Background(), "feed", "1", time.Now())
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "commit", se.Op)
	assert.NotErrorIs(t, err, storage.ErrAlreadyRecorded)
}

func TestMigrate_Idempotent(t *testing.T) {
	db := storagetest.NewDB(t)
	require.NoError(t, storage.Migrate(db))
}

func TestDeliveryStorage_Record(t *testing.T) {
	ctx := context.Background()
	s := storage.NewDeliveryStorage(storagetest.NewDB(t))

	_, err := s.Record(ctx, "feed", "guid-1")
	assert.ErrorIs(t, err, storage.ErrNotRecorded)

	at := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	require.NoError(t, s.Commit(ctx, "feed", "guid-1", at))

	rec, err := s.Record(ctx, "feed", "guid-1")
	require.NoError(t, err)
	assert.Equal(t, "feed", rec.FeedID)
	assert.Equal(t, "guid-1", rec.GUID)
	assert.True(t, rec.DeliveredAt.Equal(at))
}

func TestOpen_SQLiteConcurrentCycles(t *testing.T) {
	ctx := context.Background()
	db, err := storage.Open(ctx, "sqlite", filepath.Join(t.TempDir(), "relay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, storage.Migrate(db))

	s := storage.NewDeliveryStorage(db)

	const (
		feeds  = 4
		rounds = 100
	)
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for f := 0; f < feeds; f++ {
		f := f
		wg.Add(1)
		go func() {
			defer wg.Done()
			feedID := fmt.Sprintf("feed-%d", f)
			for r := 0; r < rounds; r++ {
				guid := fmt.Sprintf("guid-%d", r)
				fresh, err := s.FilterNew(ctx, feedID, items(feedID, guid))
				if err == nil && len(fresh) == 1 {
					err = s.Commit(ctx, feedID, guid, time.Now())
				}
				if err != nil {
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	for f := 0; f < feeds; f++ {
		assert.Equal(t, 1, storagetest.Count(t, db, fmt.Sprintf("feed-%d", f), fmt.Sprintf("guid-%d", rounds-1)))
	}
}

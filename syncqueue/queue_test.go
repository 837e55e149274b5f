package syncqueue_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mkos11/neon/cmn"
	"github.com/mkos11/neon/syncqueue"
)

func testID() cmn.TenantTimelineID {
	return cmn.TenantTimelineID{Tenant: cmn.TenantID{1}, Timeline: cmn.TimelineID{2}}
}

func TestPushMergesSameIDSameKind(t *testing.T) {
	q := syncqueue.New()
	id := testID()

	q.Push(id, syncqueue.UploadTask(syncqueue.SyncData[syncqueue.LayersUpload]{
		Data: syncqueue.LayersUpload{LayersToUpload: map[string]struct{}{"a": {}}},
	}))
	q.Push(id, syncqueue.UploadTask(syncqueue.SyncData[syncqueue.LayersUpload]{
		Data: syncqueue.LayersUpload{LayersToUpload: map[string]struct{}{"b": {}}},
	}))

	require.Equal(t, 1, q.Len())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	item, ok := q.Pop(ctx)
	require.True(t, ok)
	require.Contains(t, item.Task.Upload.Data.LayersToUpload, "a")
	require.Contains(t, item.Task.Upload.Data.LayersToUpload, "b")
}

func TestDownloadPrecedesUploadForDifferentIDs(t *testing.T) {
	q := syncqueue.New()
	upID := cmn.TenantTimelineID{Tenant: cmn.TenantID{1}, Timeline: cmn.TimelineID{1}}
	dlID := cmn.TenantTimelineID{Tenant: cmn.TenantID{2}, Timeline: cmn.TimelineID{2}}

	q.Push(upID, syncqueue.UploadTask(syncqueue.SyncData[syncqueue.LayersUpload]{}))
	q.Push(dlID, syncqueue.DownloadTask(syncqueue.SyncData[syncqueue.LayersDownload]{}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	item, ok := q.Pop(ctx)
	require.True(t, ok)
	require.True(t, item.Task.IsDownload())
	require.Equal(t, dlID, item.ID)
}

func TestPushKeepsBothKindsForSameID(t *testing.T) {
	q := syncqueue.New()
	id := testID()

	q.Push(id, syncqueue.UploadTask(syncqueue.SyncData[syncqueue.LayersUpload]{
		Data: syncqueue.LayersUpload{LayersToUpload: map[string]struct{}{"a": {}}},
	}))
	q.Push(id, syncqueue.DownloadTask(syncqueue.SyncData[syncqueue.LayersDownload]{
		Data: syncqueue.LayersDownload{LayersToSkip: map[string]struct{}{"b": {}}},
	}))

	require.Equal(t, 2, q.Len(), "a download and an upload for the same id must both stay pending")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	first, ok := q.Pop(ctx)
	require.True(t, ok)
	require.True(t, first.Task.IsDownload(), "download for an id must dispatch before that id's upload")
	require.Equal(t, id, first.ID)

	second, ok := q.Pop(ctx)
	require.True(t, ok)
	require.False(t, second.Task.IsDownload())
	require.Contains(t, second.Task.Upload.Data.LayersToUpload, "a", "the upload payload must not have been dropped")
}

func TestPopIsFifoWithinLane(t *testing.T) {
	q := syncqueue.New()
	first := cmn.TenantTimelineID{Tenant: cmn.TenantID{1}, Timeline: cmn.TimelineID{1}}
	second := cmn.TenantTimelineID{Tenant: cmn.TenantID{2}, Timeline: cmn.TimelineID{2}}
	third := cmn.TenantTimelineID{Tenant: cmn.TenantID{3}, Timeline: cmn.TimelineID{3}}

	q.Push(first, syncqueue.UploadTask(syncqueue.SyncData[syncqueue.LayersUpload]{}))
	q.Push(second, syncqueue.UploadTask(syncqueue.SyncData[syncqueue.LayersUpload]{}))
	q.Push(third, syncqueue.UploadTask(syncqueue.SyncData[syncqueue.LayersUpload]{}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for _, want := range []cmn.TenantTimelineID{first, second, third} {
		item, ok := q.Pop(ctx)
		require.True(t, ok)
		require.Equal(t, want, item.ID, "same-priority tasks must dispatch in push order")
	}
}

func TestPopBlocksUntilCancel(t *testing.T) {
	q := syncqueue.New()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, ok := q.Pop(ctx)
	require.False(t, ok)
}

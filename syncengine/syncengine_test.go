package syncengine_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mkos11/neon/cmn"
	"github.com/mkos11/neon/index"
	"github.com/mkos11/neon/remote/localfs"
	"github.com/mkos11/neon/syncengine"
	"github.com/mkos11/neon/syncqueue"
)

func newID() cmn.TenantTimelineID {
	return cmn.TenantTimelineID{Tenant: cmn.TenantID{9}, Timeline: cmn.TimelineID{7}}
}

func downloadTask(skip map[string]struct{}) syncqueue.SyncData[syncqueue.LayersDownload] {
	if skip == nil {
		skip = map[string]struct{}{}
	}
	return syncqueue.SyncData[syncqueue.LayersDownload]{Data: syncqueue.LayersDownload{LayersToSkip: skip}}
}

func TestRegularLayerUploadThenDownload(t *testing.T) {
	remoteRoot := t.TempDir()
	localDir := t.TempDir()
	backend := localfs.New(remoteRoot)
	id := newID()
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(localDir, "layer-a"), []byte("aaa"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(localDir, "layer-b"), []byte("bbb"), 0o644))

	task := syncqueue.SyncData[syncqueue.LayersUpload]{
		Data: syncqueue.LayersUpload{
			LayersToUpload: map[string]struct{}{"layer-a": {}, "layer-b": {}},
		},
	}
	result, err := syncengine.UploadTimelineLayers(ctx, backend, localDir, id, nil, task)
	require.NoError(t, err)
	require.Len(t, result.Data.UploadedLayers, 2)

	ip := index.NewIndexPart()
	for name := range result.Data.UploadedLayers {
		p, err := index.NewRelativePath(name)
		require.NoError(t, err)
		ip.MarkStored(p)
	}
	ip.DiskConsistentLsn = 800
	require.NoError(t, syncengine.UploadIndexPart(ctx, backend, id, ip))

	gotIP, err := syncengine.DownloadIndexPart(ctx, backend, id)
	require.NoError(t, err)
	require.EqualValues(t, 800, gotIP.DiskConsistentLsn)
	require.Len(t, gotIP.StoredFiles, 2)

	downloadDir := t.TempDir()
	rt := &index.RemoteTimeline{Parts: gotIP, AwaitsDownload: true}
	outcome, dlResult, err := syncengine.DownloadTimelineLayers(ctx, backend, downloadDir, id, rt, nil, downloadTask(nil))
	require.NoError(t, err)
	require.Equal(t, syncengine.Successful, outcome)
	require.Len(t, dlResult.Data.LayersToSkip, 2)
	a, err := os.ReadFile(filepath.Join(downloadDir, "layer-a"))
	require.NoError(t, err)
	require.Equal(t, "aaa", string(a))
}

func TestUploadSkipsLayerMissingLocally(t *testing.T) {
	remoteRoot := t.TempDir()
	localDir := t.TempDir()
	backend := localfs.New(remoteRoot)
	id := newID()
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(localDir, "layer-a"), []byte("aaa"), 0o644))
	// layer-b is listed but never written to localDir: simulates a GC race.

	task := syncqueue.SyncData[syncqueue.LayersUpload]{
		Data: syncqueue.LayersUpload{
			LayersToUpload: map[string]struct{}{"layer-a": {}, "layer-b": {}},
		},
	}
	result, err := syncengine.UploadTimelineLayers(ctx, backend, localDir, id, nil, task)
	require.NoError(t, err)
	require.Len(t, result.Data.UploadedLayers, 1)
	require.Contains(t, result.Data.UploadedLayers, "layer-a")
}

func TestUploadDedupsAgainstRemoteTimeline(t *testing.T) {
	remoteRoot := t.TempDir()
	localDir := t.TempDir()
	backend := localfs.New(remoteRoot)
	id := newID()
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(localDir, "layer-a"), []byte("aaa"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(localDir, "layer-b"), []byte("bbb"), 0o644))

	ip := index.NewIndexPart()
	p, _ := index.NewRelativePath("layer-a")
	ip.MarkStored(p)
	rt := &index.RemoteTimeline{Parts: ip, AwaitsDownload: true}

	task := syncqueue.SyncData[syncqueue.LayersUpload]{
		Data: syncqueue.LayersUpload{
			LayersToUpload: map[string]struct{}{"layer-a": {}, "layer-b": {}},
		},
	}
	result, err := syncengine.UploadTimelineLayers(ctx, backend, localDir, id, rt, task)
	require.NoError(t, err)
	require.NotContains(t, result.Data.UploadedLayers, "layer-a", "already-remote layer must not be re-uploaded")
	require.Contains(t, result.Data.UploadedLayers, "layer-b")
}

func TestDownloadSkipsLayersAlreadySkippedOrLocal(t *testing.T) {
	remoteRoot := t.TempDir()
	backend := localfs.New(remoteRoot)
	id := newID()
	ctx := context.Background()

	task := syncqueue.SyncData[syncqueue.LayersUpload]{
		Data: syncqueue.LayersUpload{LayersToUpload: map[string]struct{}{"layer-a": {}}},
	}
	localDirUp := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(localDirUp, "layer-a"), []byte("aaa"), 0o644))
	_, err := syncengine.UploadTimelineLayers(ctx, backend, localDirUp, id, nil, task)
	require.NoError(t, err)

	ip := index.NewIndexPart()
	p, _ := index.NewRelativePath("layer-a")
	ip.MarkStored(p)
	rt := &index.RemoteTimeline{Parts: ip, AwaitsDownload: true}

	downloadDir := t.TempDir()
	// Pre-create the file locally so the download engine must skip it.
	require.NoError(t, os.WriteFile(filepath.Join(downloadDir, "layer-a"), []byte("already-here"), 0o644))
	outcome, dlResult, err := syncengine.DownloadTimelineLayers(ctx, backend, downloadDir, id, rt, nil, downloadTask(nil))
	require.NoError(t, err)
	require.Equal(t, syncengine.Successful, outcome)
	require.Contains(t, dlResult.Data.LayersToSkip, "layer-a")

	got, err := os.ReadFile(filepath.Join(downloadDir, "layer-a"))
	require.NoError(t, err)
	require.Equal(t, "already-here", string(got), "already-present local layer must not be overwritten")
}

func TestDownloadAbortsWithoutAwaitsDownload(t *testing.T) {
	remoteRoot := t.TempDir()
	backend := localfs.New(remoteRoot)
	id := newID()
	ctx := context.Background()

	ip := index.NewIndexPart()
	p, _ := index.NewRelativePath("layer-a")
	ip.MarkStored(p)
	rt := &index.RemoteTimeline{Parts: ip, AwaitsDownload: false}

	outcome, _, err := syncengine.DownloadTimelineLayers(ctx, backend, t.TempDir(), id, rt, nil, downloadTask(nil))
	require.Error(t, err)
	require.Equal(t, syncengine.Aborted, outcome)

	outcome, _, err = syncengine.DownloadTimelineLayers(ctx, backend, t.TempDir(), id, nil, nil, downloadTask(nil))
	require.Error(t, err)
	require.Equal(t, syncengine.Aborted, outcome)
}

func TestUploadDownloadRoundTripWithCompression(t *testing.T) {
	remoteRoot := t.TempDir()
	localDir := t.TempDir()
	backend := localfs.New(remoteRoot)
	id := newID()
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(localDir, "layer-a"), []byte("compress me please"), 0o644))

	task := syncqueue.SyncData[syncqueue.LayersUpload]{
		Data: syncqueue.LayersUpload{LayersToUpload: map[string]struct{}{"layer-a": {}}},
	}
	result, err := syncengine.UploadTimelineLayers(ctx, backend, localDir, id, nil, task, syncengine.Options{Compress: true})
	require.NoError(t, err)
	require.Contains(t, result.Data.UploadedLayers, "layer-a")

	ip := index.NewIndexPart()
	p, _ := index.NewRelativePath("layer-a")
	ip.MarkStored(p)
	rt := &index.RemoteTimeline{Parts: ip, AwaitsDownload: true}

	downloadDir := t.TempDir()
	_, _, err = syncengine.DownloadTimelineLayers(ctx, backend, downloadDir, id, rt, nil, downloadTask(nil), syncengine.Options{Compress: true})
	require.NoError(t, err)
	got, err := os.ReadFile(filepath.Join(downloadDir, "layer-a"))
	require.NoError(t, err)
	require.Equal(t, "compress me please", string(got))
}

func TestGatherTenantTimelinesIndexPartsEmptyTenantIsNotError(t *testing.T) {
	remoteRoot := t.TempDir()
	backend := localfs.New(remoteRoot)
	ctx := context.Background()

	tenant := cmn.TenantID{3}
	got, err := syncengine.GatherTenantTimelinesIndexParts(ctx, backend, tenant)
	require.NoError(t, err)
	require.False(t, got.IsPoisoned())
}

func TestDownloadTimelineLayersReschedulesOnFailure(t *testing.T) {
	remoteRoot := t.TempDir() // nothing uploaded: every download fails NotFound
	backend := localfs.New(remoteRoot)
	id := newID()
	ctx := context.Background()

	ip := index.NewIndexPart()
	p, _ := index.NewRelativePath("layer-missing")
	ip.MarkStored(p)
	rt := &index.RemoteTimeline{Parts: ip, AwaitsDownload: true}

	queue := syncqueue.New()
	outcome, _, err := syncengine.DownloadTimelineLayers(ctx, backend, t.TempDir(), id, rt, queue, downloadTask(nil))
	require.Error(t, err)
	require.Equal(t, syncengine.FailedAndRescheduled, outcome)
	require.Equal(t, 1, queue.Len())
}

package syncengine

import (
	"bytes"
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/mkos11/neon/cmn"
	"github.com/mkos11/neon/cmn/archive"
	"github.com/mkos11/neon/cmn/nlog"
	"github.com/mkos11/neon/index"
	"github.com/mkos11/neon/metrics"
	"github.com/mkos11/neon/remote"
	"github.com/mkos11/neon/syncqueue"
)

// UploadIndexPart publishes ip as the timeline's index part. Callers
// must upload every layer ip.StoredFiles names before calling this, so
// the published index part never claims a layer is remote before it
// actually is. Publishing goes through index.Manifest so a regression
// in DiskConsistentLsn against whatever is currently remote is rejected
// rather than silently overwriting a newer snapshot.
func UploadIndexPart(ctx context.Context, backend remote.Backend, id cmn.TenantTimelineID, ip *index.IndexPart) error {
	key := remote.Key(path.Join(string(timelinePrefix(id)), indexPartObjectName))
	return index.NewManifest(backend).Publish(ctx, key, ip)
}

// UploadTimelineLayers uploads every layer in task.Data.LayersToUpload
// that is not already remote (per remoteTimeline.StoredFiles, a layer
// an earlier upload or a sibling task already landed) and not already
// confirmed this task, bounded to maxParallelLayerTransfers concurrent
// transfers. remoteTimeline may be nil for a timeline with no remote
// state yet, in which case nothing is deduped.
//
// A layer missing from local disk when its upload is attempted is a GC
// race (the layer was superseded and removed before its turn came): it
// is dropped from the task and a warning is logged, never surfaced as
// an error. If deduping leaves nothing to upload, the task completes as
// a no-op with no I/O. The returned SyncData reflects exactly which
// layers completed, so a caller that hits a real error can re-push the
// remainder without re-uploading what already landed.
func UploadTimelineLayers(ctx context.Context, backend remote.Backend, localDir string, id cmn.TenantTimelineID, remoteTimeline *index.RemoteTimeline, task syncqueue.SyncData[syncqueue.LayersUpload], opts ...Options) (syncqueue.SyncData[syncqueue.LayersUpload], error) {
	var opt Options
	if len(opts) > 0 {
		opt = opts[0]
	}
	prefix := timelinePrefix(id)
	uploaded := cloneSet(task.Data.UploadedLayers)
	alreadyRemote := remoteStoredFileNames(remoteTimeline)

	toUpload := make(map[string]struct{}, len(task.Data.LayersToUpload))
	for name := range task.Data.LayersToUpload {
		if _, isRemote := alreadyRemote[name]; isRemote {
			continue
		}
		toUpload[name] = struct{}{}
	}

	if len(toUpload) == 0 {
		metrics.SyncTaskNoop.WithLabelValues("upload").Inc()
		return syncqueue.SyncData[syncqueue.LayersUpload]{
			Retries: task.Retries,
			Data: syncqueue.LayersUpload{
				LayersToUpload: task.Data.LayersToUpload,
				UploadedLayers: uploaded,
				Metadata:       task.Data.Metadata,
			},
		}, nil
	}

	var mu sync.Mutex
	remaining := cloneSet(task.Data.LayersToUpload)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelLayerTransfers)

	for name := range toUpload {
		name := name
		if _, done := uploaded[name]; done {
			continue
		}
		localPath := filepath.Join(localDir, filepath.FromSlash(name))
		if !alreadyOnDisk(localPath) {
			nlog.Warningf("upload %s: layer %s missing locally, dropping (gc race)", id, name)
			delete(remaining, name)
			continue
		}
		g.Go(func() error {
			if err := uploadOneLayer(gctx, backend, prefix, name, localPath, opt); err != nil {
				metrics.LayersTransferred.WithLabelValues("upload", "error").Inc()
				return err
			}
			metrics.LayersTransferred.WithLabelValues("upload", "ok").Inc()
			mu.Lock()
			uploaded[name] = struct{}{}
			mu.Unlock()
			return nil
		})
	}

	err := g.Wait()
	result := syncqueue.SyncData[syncqueue.LayersUpload]{
		Retries: task.Retries,
		Data: syncqueue.LayersUpload{
			LayersToUpload: remaining,
			UploadedLayers: uploaded,
			Metadata:       task.Data.Metadata,
		},
	}
	if err != nil {
		result.Retries++
		metrics.SyncTaskRescheduled.WithLabelValues("upload").Inc()
	}
	return result, err
}

// remoteStoredFileNames adapts RemoteTimeline.StoredFiles (keyed by
// index.RelativePath) to the plain string layer names the upload/queue
// types use.
func remoteStoredFileNames(rt *index.RemoteTimeline) map[string]struct{} {
	stored := rt.StoredFiles()
	if len(stored) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(stored))
	for p := range stored {
		out[string(p)] = struct{}{}
	}
	return out
}

func uploadOneLayer(ctx context.Context, backend remote.Backend, prefix remote.Key, name, localPath string, opt Options) error {
	f, err := os.Open(localPath)
	if err != nil {
		if os.IsNotExist(err) {
			nlog.Warningf("upload %s: layer %s vanished before open (gc race)", prefix, name)
			return nil // lost the GC race between the check above and opening
		}
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	key := remote.Key(path.Join(string(prefix), name))
	if !opt.Compress {
		if err := backend.UploadObject(ctx, key, f, info.Size()); err != nil {
			return err
		}
		metrics.BytesTransferred.WithLabelValues("upload").Add(float64(info.Size()))
		return nil
	}

	var buf bytes.Buffer
	cw := archive.CompressWriter(&buf)
	if _, err := io.Copy(cw, f); err != nil {
		return err
	}
	if err := cw.Close(); err != nil {
		return err
	}
	if err := backend.UploadObject(ctx, key, &buf, int64(buf.Len())); err != nil {
		return err
	}
	metrics.BytesTransferred.WithLabelValues("upload").Add(float64(buf.Len()))
	return nil
}

func cloneSet(in map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(in))
	for k := range in {
		out[k] = struct{}{}
	}
	return out
}

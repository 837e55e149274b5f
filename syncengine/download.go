package syncengine

import (
	"context"
	"errors"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/mkos11/neon/cmn"
	"github.com/mkos11/neon/cmn/archive"
	"github.com/mkos11/neon/cmn/nlog"
	"github.com/mkos11/neon/faultinject"
	"github.com/mkos11/neon/fs"
	"github.com/mkos11/neon/index"
	"github.com/mkos11/neon/metrics"
	"github.com/mkos11/neon/remote"
	"github.com/mkos11/neon/syncqueue"
	"github.com/mkos11/neon/transport"
)

const indexPartObjectName = "index_part.json"
const maxParallelLayerTransfers = 8

// Options tunes how layer transfers move bytes; the zero value is the
// uncompressed default every existing caller gets.
type Options struct {
	Compress bool
}

// Outcome reports how a download or upload task finished, mirroring
// the three-way result a sync task can have: it completed, it failed
// and was handed back to the queue for another attempt, or the caller
// asked for something the current state makes impossible.
type Outcome int

const (
	Successful Outcome = iota
	FailedAndRescheduled
	Aborted
)

func (o Outcome) String() string {
	switch o {
	case Successful:
		return "successful"
	case FailedAndRescheduled:
		return "failed_and_rescheduled"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

func tenantPrefix(t cmn.TenantID) remote.Key { return remote.Key(t.String()) }

func timelinePrefix(id cmn.TenantTimelineID) remote.Key {
	return remote.Key(path.Join(id.Tenant.String(), id.Timeline.String()))
}

// DownloadIndexPart fetches and decodes the single index part object for
// one timeline. A missing object is reported as *cmn.ErrNotFound: at this
// single-object granularity that is fatal to the caller, unlike a
// missing object encountered while listing a prefix in bulk.
func DownloadIndexPart(ctx context.Context, backend remote.Backend, id cmn.TenantTimelineID) (*index.IndexPart, error) {
	key := remote.Key(path.Join(string(timelinePrefix(id)), indexPartObjectName))
	dl, err := backend.DownloadObject(ctx, key, nil)
	if err != nil {
		return nil, err
	}
	defer dl.Stream.Close()

	data := make([]byte, 0, dl.Length)
	buf := transport.AllocBuf()
	defer transport.FreeBuf(buf)
	for {
		n, rerr := dl.Stream.Read(*buf)
		if n > 0 {
			data = append(data, (*buf)[:n]...)
		}
		if rerr != nil {
			break
		}
	}
	return index.Unmarshal(data)
}

// IndexPartResult is one timeline's outcome from DownloadIndexParts: a
// successfully decoded Part, or the Err that fetching it failed with
// (which may be a benign *cmn.ErrNotFound).
type IndexPartResult struct {
	ID   cmn.TenantTimelineID
	Part *index.IndexPart
	Err  error
}

// DownloadIndexParts fetches the index part for every id in ids
// concurrently, bounded to maxParallelLayerTransfers in flight at once,
// regardless of how many distinct tenants the ids span. Every id gets
// exactly one IndexPartResult in the returned slice, in the same order
// as ids; one id's failure never cancels the others' in-flight fetches.
func DownloadIndexParts(ctx context.Context, backend remote.Backend, ids []cmn.TenantTimelineID) []IndexPartResult {
	results := make([]IndexPartResult, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelLayerTransfers)

	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			ip, err := DownloadIndexPart(gctx, backend, id)
			results[i] = IndexPartResult{ID: id, Part: ip, Err: err}
			return nil // capture each failure independently; never abort the group
		})
	}
	_ = g.Wait()
	return results
}

// GatherTenantTimelinesIndexParts discovers every timeline a tenant has
// remotely and downloads each one's index part, fanning the downloads
// out concurrently via DownloadIndexParts. A tenant with no remote
// timelines yet returns an empty, non-poisoned result: this is a valid
// state for a freshly created tenant, not an error.
//
// A timeline whose index part is missing (*cmn.ErrNotFound) is recorded
// as absent and gathering continues normally: this is the ordinary
// shape of a timeline that raced with its own first upload. Any other
// failure poisons the whole tenant and records that timeline id as
// missing, but gathering still continues for the remaining timelines so
// one bad timeline does not hide the failures of its siblings: every
// later failure is added to Missing as well. Index parts fetched after
// the tenant is poisoned are not recorded. A poisoned result is
// returned with a nil error; callers check IsPoisoned.
func GatherTenantTimelinesIndexParts(ctx context.Context, backend remote.Backend, tenant cmn.TenantID) (*index.TenantIndexParts, error) {
	keys, err := backend.ListPrefixes(ctx, tenantPrefix(tenant))
	if err != nil {
		return nil, err
	}

	seen := map[cmn.TimelineID]struct{}{}
	ids := make([]cmn.TenantTimelineID, 0, len(keys))
	for _, k := range keys {
		rel := path.Base(path.Dir(string(k)))
		var tlID cmn.TimelineID
		if err := (&tlID).UnmarshalText([]byte(rel)); err != nil {
			continue
		}
		if _, dup := seen[tlID]; dup {
			continue
		}
		seen[tlID] = struct{}{}
		ids = append(ids, cmn.TenantTimelineID{Tenant: tenant, Timeline: tlID})
	}

	out := index.NewPresent(tenant)
	for _, res := range DownloadIndexParts(ctx, backend, ids) {
		if res.Err != nil {
			var notFound *cmn.ErrNotFound
			if errors.As(res.Err, &notFound) {
				nlog.Warningf("gather index parts: tenant %s timeline %s: index part absent", tenant, res.ID.Timeline)
				continue
			}
			nlog.Warningf("gather index parts: tenant %s timeline %s: %v", tenant, res.ID.Timeline, res.Err)
			out.Poison(res.ID.Timeline)
			continue
		}
		if out.IsPoisoned() {
			continue
		}
		if serr := out.Set(res.ID.Timeline, res.Part); serr != nil {
			return out, serr
		}
	}
	return out, nil
}

// DownloadTimelineLayers fetches every layer remoteTimeline names that
// is not already in task.Data.LayersToSkip and not already present on
// local disk, writing each one durably and fsyncing the timeline
// directory once the whole batch lands. remoteTimeline must be non-nil
// and awaiting download; any other state is a caller invariant
// violation (cmn.ErrAbort) and is never retried.
//
// If there is nothing left to download once local state and
// LayersToSkip are accounted for, the call is a no-op: Successful, no
// I/O. On success, every layer this call found already local or added
// itself is folded into the returned LayersToSkip, so a repeated call
// for the same timeline never redoes the work. On failure the task's
// retry count is bumped and, if queue is non-nil, the task is re-pushed
// onto it so a later Pop retries it. A failed directory fsync rolls
// back only the LayersToSkip entries this call itself added, since
// their durability is unconfirmed; entries already in the task before
// this call are left alone.
func DownloadTimelineLayers(ctx context.Context, backend remote.Backend, localDir string, id cmn.TenantTimelineID, remoteTimeline *index.RemoteTimeline, queue *syncqueue.Queue, task syncqueue.SyncData[syncqueue.LayersDownload], opts ...Options) (Outcome, syncqueue.SyncData[syncqueue.LayersDownload], error) {
	var opt Options
	if len(opts) > 0 {
		opt = opts[0]
	}
	if remoteTimeline == nil || !remoteTimeline.AwaitsDownload {
		return Aborted, task, &cmn.ErrAbort{Reason: "timeline " + id.Timeline.String() + " has no remote state or is not awaiting download"}
	}

	skip := cloneSet(task.Data.LayersToSkip)
	addedThisCall := map[string]struct{}{}
	toDownload := map[string]string{}

	for relPath := range remoteTimeline.StoredFiles() {
		name := string(relPath)
		if _, already := skip[name]; already {
			continue
		}
		dstPath := filepath.Join(localDir, filepath.FromSlash(name))
		if alreadyOnDisk(dstPath) {
			skip[name] = struct{}{}
			addedThisCall[name] = struct{}{}
			continue
		}
		toDownload[name] = dstPath
	}

	result := syncqueue.SyncData[syncqueue.LayersDownload]{
		Retries: task.Retries,
		Data:    syncqueue.LayersDownload{LayersToSkip: skip},
	}

	if len(toDownload) == 0 {
		metrics.SyncTaskNoop.WithLabelValues("download").Inc()
		return Successful, result, nil
	}

	prefix := timelinePrefix(id)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelLayerTransfers)
	var mu sync.Mutex

	for name, dstPath := range toDownload {
		name, dstPath := name, dstPath
		g.Go(func() error {
			if err := downloadOneLayer(gctx, backend, prefix, name, dstPath, opt); err != nil {
				metrics.LayersTransferred.WithLabelValues("download", "error").Inc()
				return err
			}
			metrics.LayersTransferred.WithLabelValues("download", "ok").Inc()
			mu.Lock()
			skip[name] = struct{}{}
			addedThisCall[name] = struct{}{}
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return reschedule(queue, id, result, err)
	}

	if err := fs.FsyncDir(localDir); err != nil {
		for name := range addedThisCall {
			delete(skip, name)
		}
		result.Data.LayersToSkip = skip
		return reschedule(queue, id, result, err)
	}

	return Successful, result, nil
}

func reschedule(queue *syncqueue.Queue, id cmn.TenantTimelineID, result syncqueue.SyncData[syncqueue.LayersDownload], cause error) (Outcome, syncqueue.SyncData[syncqueue.LayersDownload], error) {
	result.Retries++
	if queue != nil {
		queue.Push(id, syncqueue.DownloadTask(result))
	}
	metrics.SyncTaskRescheduled.WithLabelValues("download").Inc()
	return FailedAndRescheduled, result, cause
}

func downloadOneLayer(ctx context.Context, backend remote.Backend, prefix remote.Key, name, dstPath string, opt Options) error {
	if err := faultinject.Fire("remote-storage-download-pre-rename"); err != nil {
		return err
	}

	key := remote.Key(path.Join(string(prefix), name))
	dl, err := backend.DownloadObject(ctx, key, nil)
	if err != nil {
		return err
	}
	defer dl.Stream.Close()

	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return err
	}
	var src io.Reader = dl.Stream
	if opt.Compress {
		src = archive.DecompressReader(dl.Stream)
	}
	if err := fs.WriteDurably(dstPath, src); err != nil {
		return err
	}
	metrics.BytesTransferred.WithLabelValues("download").Add(float64(dl.Length))
	return nil
}

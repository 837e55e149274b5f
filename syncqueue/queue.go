// Package syncqueue implements the task queue that schedules download
// and upload work per timeline. The queue has no capacity limit: Push
// never blocks, and pending work is bounded only by merging every push
// for an id into that id's one pending entry per lane. Downloads and uploads are two
// independent lanes: pushing an upload for an id with a download
// already pending never drops either one, and a pending download for
// an id still dispatches before a same-id upload, since local state
// cannot be trusted to upload until a download has confirmed it is
// current. Across the whole queue, any pending download is polled
// before any pending upload.
package syncqueue

import (
	"context"
	"sync"

	"github.com/mkos11/neon/cmn"
	"github.com/mkos11/neon/metrics"
)

type kind int

const (
	download kind = iota
	upload
)

// Task is either a download or an upload task for one timeline.
type Task struct {
	Kind     kind
	Download SyncData[LayersDownload]
	Upload   SyncData[LayersUpload]
}

func DownloadTask(d SyncData[LayersDownload]) Task { return Task{Kind: download, Download: d} }
func UploadTask(u SyncData[LayersUpload]) Task      { return Task{Kind: upload, Upload: u} }

func (t Task) IsDownload() bool { return t.Kind == download }

// Item is a dequeued (id, task) pair.
type Item struct {
	ID   cmn.TenantTimelineID
	Task Task
}

// Queue is safe for concurrent Push and a single Pop loop, mirroring
// the dispatcher/jogger split: one goroutine pops and fans work out,
// many producers push. Downloads and uploads are tracked in separate
// maps, each with its own insertion-order slice, so Go's randomized
// map iteration never decides dispatch order within a lane.
type Queue struct {
	mu   sync.Mutex

	downloads     map[cmn.TenantTimelineID]SyncData[LayersDownload]
	downloadOrder []cmn.TenantTimelineID

	uploads     map[cmn.TenantTimelineID]SyncData[LayersUpload]
	uploadOrder []cmn.TenantTimelineID

	signalCh chan struct{}
	stopCh   cmn.StopCh
}

func New() *Queue {
	return &Queue{
		downloads: make(map[cmn.TenantTimelineID]SyncData[LayersDownload]),
		uploads:   make(map[cmn.TenantTimelineID]SyncData[LayersUpload]),
		signalCh:  make(chan struct{}, 1),
		stopCh:    cmn.NewStopCh(),
	}
}

// Push enqueues task for id, merging with whatever is already pending
// in that task's lane for id. A download and an upload for the same id
// are independent entries and both remain pending until each is popped.
func (q *Queue) Push(id cmn.TenantTimelineID, task Task) {
	q.mu.Lock()
	if task.IsDownload() {
		d := task.Download
		if existing, ok := q.downloads[id]; ok {
			d = mergeDownload(existing, d)
		} else {
			q.downloadOrder = append(q.downloadOrder, id)
		}
		q.downloads[id] = d
	} else {
		u := task.Upload
		if existing, ok := q.uploads[id]; ok {
			u = mergeUpload(existing, u)
		} else {
			q.uploadOrder = append(q.uploadOrder, id)
		}
		q.uploads[id] = u
	}
	depth := len(q.downloads) + len(q.uploads)
	q.mu.Unlock()
	metrics.SyncQueueDepth.Set(float64(depth))

	select {
	case q.signalCh <- struct{}{}:
	default:
	}
}

// mergeDownload unions two pending downloads for the same id, keeping
// the higher retry count.
func mergeDownload(existing, next SyncData[LayersDownload]) SyncData[LayersDownload] {
	return SyncData[LayersDownload]{
		Retries: maxInt(existing.Retries, next.Retries),
		Data: LayersDownload{
			LayersToSkip: mergeSets(existing.Data.LayersToSkip, next.Data.LayersToSkip),
		},
	}
}

// mergeUpload unions two pending uploads for the same id, keeping the
// higher retry count and the most recently pushed metadata.
func mergeUpload(existing, next SyncData[LayersUpload]) SyncData[LayersUpload] {
	return SyncData[LayersUpload]{
		Retries: maxInt(existing.Retries, next.Retries),
		Data: LayersUpload{
			LayersToUpload: mergeSets(existing.Data.LayersToUpload, next.Data.LayersToUpload),
			UploadedLayers: mergeSets(existing.Data.UploadedLayers, next.Data.UploadedLayers),
			Metadata:       next.Data.Metadata,
		},
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Pop blocks until a task is available or ctx is done. Any pending
// download is returned before any pending upload; within a lane, the
// longest-waiting id is returned first.
func (q *Queue) Pop(ctx context.Context) (Item, bool) {
	for {
		if item, ok := q.tryPop(); ok {
			return item, true
		}
		select {
		case <-q.signalCh:
		case <-ctx.Done():
			return Item{}, false
		case <-q.stopCh.Listen():
			return Item{}, false
		}
	}
}

func (q *Queue) tryPop() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if id, ok := popFront(&q.downloadOrder, func(id cmn.TenantTimelineID) bool {
		_, ok := q.downloads[id]
		return ok
	}); ok {
		d := q.downloads[id]
		delete(q.downloads, id)
		q.updateDepthLocked()
		return Item{ID: id, Task: DownloadTask(d)}, true
	}

	if id, ok := popFront(&q.uploadOrder, func(id cmn.TenantTimelineID) bool {
		_, ok := q.uploads[id]
		return ok
	}); ok {
		u := q.uploads[id]
		delete(q.uploads, id)
		q.updateDepthLocked()
		return Item{ID: id, Task: UploadTask(u)}, true
	}

	return Item{}, false
}

// popFront returns the first id in order still satisfying has, trimming
// any stale ids (already popped via another path) it skips past. Order
// is an insertion-ordered FIFO; entries are append-only, so staleness
// only ever grows by an id being deleted out from under us, never by
// reordering.
func popFront(order *[]cmn.TenantTimelineID, has func(cmn.TenantTimelineID) bool) (cmn.TenantTimelineID, bool) {
	o := *order
	for len(o) > 0 {
		id := o[0]
		o = o[1:]
		if has(id) {
			*order = o
			return id, true
		}
	}
	*order = o
	return cmn.TenantTimelineID{}, false
}

func (q *Queue) updateDepthLocked() {
	metrics.SyncQueueDepth.Set(float64(len(q.downloads) + len(q.uploads)))
}

func (q *Queue) Stop() { q.stopCh.Close() }

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.downloads) + len(q.uploads)
}

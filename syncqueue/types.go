package syncqueue

// SyncData wraps a sync task's payload with its retry count, shared
// across the download and upload lanes.
type SyncData[T any] struct {
	Retries int
	Data    T
}

// LayersUpload is the upload lane's payload: the layer files still to
// upload, those already confirmed uploaded this task, and the index
// part metadata to publish once every layer lands.
type LayersUpload struct {
	LayersToUpload map[string]struct{}
	UploadedLayers map[string]struct{}
	Metadata       []byte
}

// LayersDownload is the download lane's payload: layer files already
// present locally (from a prior attempt or a GC race) that this task
// does not need to fetch again.
type LayersDownload struct {
	LayersToSkip map[string]struct{}
}

func mergeSets(a, b map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		out[k] = struct{}{}
	}
	for k := range b {
		out[k] = struct{}{}
	}
	return out
}

// Package remote defines the storage adapter capability interface the
// download and upload engines drive, and the set of concrete backends
// (local filesystem, S3, GCS, Azure blob) that implement it.
package remote

import (
	"context"
	"io"

	"github.com/mkos11/neon/cmn"
)

// Key is a slash-separated remote object key, relative to the backend's
// configured bucket/container root.
type Key string

// ByteRange requests a partial download; nil means the whole object.
type ByteRange struct {
	Start, End int64 // inclusive, like an HTTP Range header
}

// Download is a streamed remote object. Callers must Close it, even on
// a short read, to release the underlying connection back to the pool.
type Download struct {
	Stream io.ReadCloser
	Length int64
}

// Backend is the capability set every remote storage implementation
// must provide. It deliberately excludes bucket lifecycle management
// and ACLs: the sync engine only ever lists, reads, and writes objects
// under a prefix it already knows.
type Backend interface {
	// RemoteObjectID maps a local, mountpath-relative layer or index
	// part path to the key it is stored under remotely.
	RemoteObjectID(localRelPath string) (Key, error)

	// ListPrefixes returns every object key under prefix, at any depth
	// of nesting: the listing uses no delimiter.
	ListPrefixes(ctx context.Context, prefix Key) ([]Key, error)

	// DownloadObject opens a stream for key. A nil ByteRange reads the
	// whole object. Returns *cmn.ErrNotFound if key does not exist.
	DownloadObject(ctx context.Context, key Key, rng *ByteRange) (*Download, error)

	// UploadObject writes size bytes from r to key, replacing any
	// existing object at that key.
	UploadObject(ctx context.Context, key Key, r io.Reader, size int64) error
}

// NewNotFound is the canonical constructor callers use so every backend
// reports missing objects the same way.
func NewNotFound(key Key) error { return &cmn.ErrNotFound{Key: string(key)} }

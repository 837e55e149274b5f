// Package index implements the index part: the manifest that records,
// for one timeline, which layer files are durably stored remotely, the
// LSN up to which local state is consistent, and opaque timeline
// metadata. It also models TenantIndexParts, the in-memory view a
// pageserver keeps of every timeline's index part for a tenant.
package index

import (
	"path"
	"strings"

	"github.com/mkos11/neon/cmn"
)

// RelativePath is a layer-file path relative to a timeline's directory.
// It can never escape that directory: constructing one validates against
// ".." components and absolute roots, so every StoredFiles/MissingFiles
// entry is safe to join directly onto a local or remote base path.
type RelativePath string

func NewRelativePath(p string) (RelativePath, error) {
	clean := path.Clean(filepathToSlash(p))
	if clean == "." || clean == "" {
		return "", &cmn.ErrCorrupt{What: "relative path", Err: errEmptyPath}
	}
	if strings.HasPrefix(clean, "..") || path.IsAbs(clean) {
		return "", &cmn.ErrCorrupt{What: "relative path", Err: errEscapingPath}
	}
	return RelativePath(clean), nil
}

func filepathToSlash(p string) string { return strings.ReplaceAll(p, "\\", "/") }

var (
	errEmptyPath    = pathErr("empty path")
	errEscapingPath = pathErr("path escapes timeline directory")
)

type pathErr string

func (e pathErr) Error() string { return string(e) }

// IndexPart is the durable manifest for one timeline: the set of layer
// files known to be stored remotely, the set known to be referenced but
// absent from remote storage, the LSN up to which the timeline's
// local state is consistent, and opaque page-server-owned metadata
// bytes it does not interpret.
//
// Invariants:
//  1. every RelativePath in StoredFiles names a layer file unique within
//     the timeline;
//  2. a path in StoredFiles is, eventually, actually present in remote
//     storage (the index part may race ahead of a slow upload);
//  3. DiskConsistentLsn only ever increases across successive stores for
//     the same timeline.
type IndexPart struct {
	StoredFiles       map[RelativePath]struct{}
	MissingFiles      map[RelativePath]struct{}
	DiskConsistentLsn cmn.Lsn
	MetadataBytes     []byte
}

func NewIndexPart() *IndexPart {
	return &IndexPart{
		StoredFiles:  make(map[RelativePath]struct{}),
		MissingFiles: make(map[RelativePath]struct{}),
	}
}

func (ip *IndexPart) MarkStored(p RelativePath) {
	delete(ip.MissingFiles, p)
	ip.StoredFiles[p] = struct{}{}
}

func (ip *IndexPart) MarkMissing(p RelativePath) {
	delete(ip.StoredFiles, p)
	ip.MissingFiles[p] = struct{}{}
}

// Clone returns a deep copy, so a caller can compute a pending index
// part without mutating the published one until the upload that backs
// it actually lands.
func (ip *IndexPart) Clone() *IndexPart {
	out := NewIndexPart()
	for k := range ip.StoredFiles {
		out.StoredFiles[k] = struct{}{}
	}
	for k := range ip.MissingFiles {
		out.MissingFiles[k] = struct{}{}
	}
	out.DiskConsistentLsn = ip.DiskConsistentLsn
	out.MetadataBytes = append([]byte(nil), ip.MetadataBytes...)
	return out
}

// RemoteTimeline is the in-memory mirror of a timeline's latest known
// IndexPart plus the runtime flag the download engine needs before it
// is allowed to touch local disk for that timeline at all: a timeline
// that was never registered as awaiting download, or that has no known
// remote state, must never be downloaded into.
type RemoteTimeline struct {
	Parts          *IndexPart
	AwaitsDownload bool
}

// StoredFiles reports the remote layer set, or nil if rt is nil or has
// no known index part yet.
func (rt *RemoteTimeline) StoredFiles() map[RelativePath]struct{} {
	if rt == nil || rt.Parts == nil {
		return nil
	}
	return rt.Parts.StoredFiles
}

package index

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/mkos11/neon/cmn"
	"github.com/mkos11/neon/remote"
)

// Manifest owns the publish path for a timeline's index part. Every
// publish reads back whatever is currently remote and validates the
// new part against it before writing, so the monotonic-LSN invariant
// (data model invariant 3) is enforced at the one place a new index
// part can actually replace an old one.
type Manifest struct {
	Backend remote.Backend
}

func NewManifest(backend remote.Backend) *Manifest { return &Manifest{Backend: backend} }

// Publish validates next against the index part currently stored at
// key, if any, then marshals and uploads it. A missing prior object is
// not a validation failure: the first publish for a timeline has
// nothing to compare against.
func (m *Manifest) Publish(ctx context.Context, key remote.Key, next *IndexPart) error {
	prior, err := m.fetchPrior(ctx, key)
	if err != nil {
		return err
	}
	if err := Validate(prior, next); err != nil {
		return err
	}
	data, err := Marshal(next)
	if err != nil {
		return err
	}
	return m.Backend.UploadObject(ctx, key, bytes.NewReader(data), int64(len(data)))
}

func (m *Manifest) fetchPrior(ctx context.Context, key remote.Key) (*IndexPart, error) {
	dl, err := m.Backend.DownloadObject(ctx, key, nil)
	if err != nil {
		var notFound *cmn.ErrNotFound
		if errors.As(err, &notFound) {
			return nil, nil
		}
		return nil, err
	}
	defer dl.Stream.Close()
	data, err := io.ReadAll(dl.Stream)
	if err != nil {
		return nil, err
	}
	return Unmarshal(data)
}

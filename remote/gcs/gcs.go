// Package gcs implements remote.Backend against Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/mkos11/neon/cmn"
	"github.com/mkos11/neon/remote"
)

type Backend struct {
	Client *storage.Client
	Bucket string
	Prefix string
}

func New(client *storage.Client, bucket, prefix string) *Backend {
	return &Backend{Client: client, Bucket: bucket, Prefix: strings.Trim(prefix, "/")}
}

var _ remote.Backend = (*Backend)(nil)

func (b *Backend) key(relPath string) string { return path.Join(b.Prefix, path.Clean(relPath)) }

func (b *Backend) RemoteObjectID(localRelPath string) (remote.Key, error) {
	clean := path.Clean(localRelPath)
	if strings.HasPrefix(clean, "..") {
		return "", &cmn.ErrCorrupt{What: "local relative path"}
	}
	return remote.Key(b.key(clean)), nil
}

func (b *Backend) bucket() *storage.BucketHandle { return b.Client.Bucket(b.Bucket) }

func (b *Backend) ListPrefixes(ctx context.Context, prefix remote.Key) ([]remote.Key, error) {
	fullPrefix := path.Join(b.Prefix, string(prefix))
	it := b.bucket().Objects(ctx, &storage.Query{Prefix: fullPrefix})
	var keys []remote.Key
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, &cmn.ErrTransport{Op: "objects.list", Err: err}
		}
		keys = append(keys, remote.Key(attrs.Name))
	}
	return keys, nil
}

func (b *Backend) DownloadObject(ctx context.Context, key remote.Key, rng *remote.ByteRange) (*remote.Download, error) {
	obj := b.bucket().Object(string(key))
	var (
		r   *storage.Reader
		err error
	)
	if rng != nil {
		r, err = obj.NewRangeReader(ctx, rng.Start, rng.End-rng.Start+1)
	} else {
		r, err = obj.NewReader(ctx)
	}
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, remote.NewNotFound(key)
		}
		return nil, &cmn.ErrTransport{Op: "object.read", Err: err}
	}
	return &remote.Download{Stream: r, Length: r.Attrs.Size}, nil
}

func (b *Backend) UploadObject(ctx context.Context, key remote.Key, r io.Reader, _ int64) error {
	w := b.bucket().Object(string(key)).NewWriter(ctx)
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return &cmn.ErrTransport{Op: "object.write", Err: err}
	}
	if err := w.Close(); err != nil {
		return &cmn.ErrTransport{Op: "object.write.close", Err: err}
	}
	return nil
}

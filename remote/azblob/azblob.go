// Package azblob implements remote.Backend against Azure Blob Storage.
package azblob

import (
	"context"
	"io"
	"path"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"github.com/mkos11/neon/cmn"
	"github.com/mkos11/neon/remote"
)

type Backend struct {
	Client    *azblob.Client
	Container string
	Prefix    string
}

func New(client *azblob.Client, container, prefix string) *Backend {
	return &Backend{Client: client, Container: container, Prefix: strings.Trim(prefix, "/")}
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

func (b *Backend) ListPrefixes(ctx context.Context, prefix remote.Key) ([]remote.Key, error) {
	fullPrefix := path.Join(b.Prefix, string(prefix))
	pager := b.Client.NewListBlobsFlatPager(b.Container, &container.ListBlobsFlatOptions{
		Prefix: to.Ptr(fullPrefix),
	})
	var keys []remote.Key
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, &cmn.ErrTransport{Op: "list_blobs", Err: err}
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name != nil {
				keys = append(keys, remote.Key(*item.Name))
			}
		}
	}
	return keys, nil
}

func (b *Backend) DownloadObject(ctx context.Context, key remote.Key, rng *remote.ByteRange) (*remote.Download, error) {
	opts := &azblob.DownloadStreamOptions{}
	if rng != nil {
		opts.Range = azblob.HTTPRange{Offset: rng.Start, Count: rng.End - rng.Start + 1}
	}
	resp, err := b.Client.DownloadStream(ctx, b.Container, string(key), opts)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, remote.NewNotFound(key)
		}
		return nil, &cmn.ErrTransport{Op: "download_stream", Err: err}
	}
	length := int64(0)
	if resp.ContentLength != nil {
		length = *resp.ContentLength
	}
	return &remote.Download{Stream: resp.Body, Length: length}, nil
}

// UploadObject buffers r in memory before handing it to UploadBuffer:
// layer files are bounded by the pageserver's layer size target, so this
// never approaches a problematic size.
func (b *Backend) UploadObject(ctx context.Context, key remote.Key, r io.Reader, _ int64) error {
	buf, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if _, err := b.Client.UploadBuffer(ctx, b.Container, string(key), buf, nil); err != nil {
		return &cmn.ErrTransport{Op: "upload_buffer", Err: err}
	}
	return nil
}

// Package localfs is a filesystem-backed remote.Backend: the remote
// store is just another directory tree. It is what the original sync
// engine's own tests ran against, and it is the backend of choice for
// single-node deployments that don't need an object store.
package localfs

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mkos11/neon/cmn"
	"github.com/mkos11/neon/fs"
	"github.com/mkos11/neon/remote"
)

type Backend struct {
	Root string
}

func New(root string) *Backend { return &Backend{Root: root} }

var _ remote.Backend = (*Backend)(nil)

func (b *Backend) RemoteObjectID(localRelPath string) (remote.Key, error) {
	clean := filepath.ToSlash(filepath.Clean(localRelPath))
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", &cmn.ErrCorrupt{What: "local relative path", Err: os.ErrInvalid}
	}
	return remote.Key(clean), nil
}

func (b *Backend) ListPrefixes(_ context.Context, prefix remote.Key) ([]remote.Key, error) {
	root := filepath.Join(b.Root, filepath.FromSlash(string(prefix)))
	var keys []remote.Key
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(b.Root, path)
		if err != nil {
			return err
		}
		keys = append(keys, remote.Key(filepath.ToSlash(rel)))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys, nil
}

func (b *Backend) DownloadObject(_ context.Context, key remote.Key, rng *remote.ByteRange) (*remote.Download, error) {
	path := filepath.Join(b.Root, filepath.FromSlash(string(key)))
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, remote.NewNotFound(key)
		}
		return nil, &cmn.ErrTransport{Op: "download", Err: err}
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, &cmn.ErrTransport{Op: "stat", Err: err}
	}
	length := info.Size()
	if rng != nil {
		if _, err := f.Seek(rng.Start, io.SeekStart); err != nil {
			f.Close()
			return nil, err
		}
		length = rng.End - rng.Start + 1
		return &remote.Download{Stream: limitedReadCloser{io.LimitReader(f, length), f}, Length: length}, nil
	}
	return &remote.Download{Stream: f, Length: length}, nil
}

func (b *Backend) UploadObject(_ context.Context, key remote.Key, r io.Reader, _ int64) error {
	dst := filepath.Join(b.Root, filepath.FromSlash(string(key)))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return fs.WriteDurably(dst, r)
}

type limitedReadCloser struct {
	io.Reader
	f *os.File
}

func (l limitedReadCloser) Close() error { return l.f.Close() }

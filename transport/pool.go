// Package transport provides the pooled byte buffers the download and
// upload engines reuse across layer-file transfers, so a steady stream
// of sync tasks doesn't force the allocator to churn one buffer per
// file.
package transport

import "sync"

const defaultBufSize = 64 * 1024

var bufPool = sync.Pool{
	New: func() any {
		b := make([]byte, defaultBufSize)
		return &b
	},
}

// AllocBuf returns a buffer of at least defaultBufSize bytes for
// streaming a layer file to or from remote storage.
func AllocBuf() *[]byte { return bufPool.Get().(*[]byte) }

// FreeBuf returns buf to the pool. Callers must not use buf after
// calling FreeBuf.
func FreeBuf(buf *[]byte) { bufPool.Put(buf) }

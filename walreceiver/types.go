// Package walreceiver drives a physical replication connection to a
// safekeeper: it connects, starts streaming from a computed startpoint,
// decodes the XLogData stream into aligned records, hands each record
// to an Ingester, and periodically reports replication progress back
// over the same connection.
package walreceiver

import (
	"time"

	"github.com/mkos11/neon/cmn"
)

// WalConnectionStatus is published after every state transition so a
// supervisor can observe connection health without polling logs.
type WalConnectionStatus struct {
	Connected        bool
	LastReceivedWal  *WalRecord
	LatestConnection time.Time
	IsStuck          bool
	HasProcessedWal  bool
}

// WalRecord is the last record observed on the wire, independent of
// whether it has been ingested yet.
type WalRecord struct {
	Lsn      cmn.Lsn
	Received time.Time
}

// Ingester is the pageserver-side collaborator that applies decoded WAL
// records to a timeline. It is the one piece of this package that is
// domain-specific rather than protocol-specific, so it stays an
// interface the caller supplies.
type Ingester interface {
	// RecordLen reports the length of the next WAL record at the front
	// of buf and whether enough bytes are buffered to know it yet,
	// matching the signature Decoder.recordLen expects. Ownership of
	// the on-disk WAL record format lives entirely on the Ingester
	// side; this package only ever sees byte slices.
	RecordLen(buf []byte) (int, bool)
	IngestRecord(rec []byte, lsn cmn.Lsn) error
	CheckCheckpointDistance() error

	// DiskConsistentLsn is the local timeline's own flush position: how
	// far locally-applied WAL is durable on this pageserver's disk.
	DiskConsistentLsn() cmn.Lsn

	// RemoteDiskConsistentLsn is the disk-consistent LSN the remote
	// index currently has on record for this timeline, or 0 if the
	// timeline has never published one. It is distinct from
	// DiskConsistentLsn: the safekeeper's apply_lsn feedback must
	// reflect what is durable in remote storage, not just on local
	// disk, since the safekeeper may be serving a different pageserver
	// replica than the one that did the local flush.
	RemoteDiskConsistentLsn() cmn.Lsn
}

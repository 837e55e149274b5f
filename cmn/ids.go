package cmn

import (
	"encoding/hex"
	"fmt"
)

// TenantID and TimelineID are 16-byte opaque identifiers, rendered as
// lowercase hex, matching the on-disk and on-wire representation used by
// the remote object layout (see remote package).
type TenantID [16]byte

type TimelineID [16]byte

func (id TenantID) String() string   { return hex.EncodeToString(id[:]) }
func (id TimelineID) String() string { return hex.EncodeToString(id[:]) }

func (id TenantID) MarshalText() ([]byte, error)   { return []byte(id.String()), nil }
func (id TimelineID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *TenantID) UnmarshalText(b []byte) error {
	decoded, err := parseHexID(b)
	if err != nil {
		return fmt.Errorf("tenant id: %w", err)
	}
	*id = TenantID(decoded)
	return nil
}

func (id *TimelineID) UnmarshalText(b []byte) error {
	decoded, err := parseHexID(b)
	if err != nil {
		return fmt.Errorf("timeline id: %w", err)
	}
	*id = TimelineID(decoded)
	return nil
}

func parseHexID(b []byte) ([16]byte, error) {
	var out [16]byte
	n, err := hex.Decode(out[:], b)
	if err != nil {
		return out, err
	}
	if n != 16 {
		return out, fmt.Errorf("want 16 bytes, got %d", n)
	}
	return out, nil
}

// TenantTimelineID addresses a single timeline within a tenant; it is the
// unit of sync scheduling (see syncqueue.Queue) and the unit of WAL
// ingest (see walreceiver.Connection).
type TenantTimelineID struct {
	Tenant   TenantID
	Timeline TimelineID
}

func (id TenantTimelineID) String() string {
	return id.Tenant.String() + "/" + id.Timeline.String()
}

// NodeID identifies a safekeeper or pageserver node in the cluster.
type NodeID int64

// Lsn is a PostgreSQL write-ahead-log byte position: a monotonically
// increasing absolute offset into the logical WAL stream.
type Lsn uint64

const lsnAlignment = 8

// Aligned reports whether l sits on an 8-byte record boundary, the
// invariant every decoded WAL record start position must satisfy.
func (l Lsn) Aligned() bool { return l%lsnAlignment == 0 }

// CalcPadding returns the number of bytes needed to advance l to the next
// multiple of align (align must be a power of two, normally 8).
func (l Lsn) CalcPadding(align uint64) uint64 {
	rem := uint64(l) % align
	if rem == 0 {
		return 0
	}
	return align - rem
}

func (l Lsn) String() string {
	return fmt.Sprintf("%X/%X", uint64(l)>>32, uint32(l))
}

package walreceiver

import (
	"encoding/binary"

	"github.com/mkos11/neon/cmn"
)

// Replication protocol message tags carried inside a CopyData payload,
// per the PostgreSQL physical replication protocol.
const (
	msgXLogData        = 'w'
	msgPrimaryKeepalive = 'k'
)

// XLogData is a parsed 'w' CopyData message: a contiguous slice of WAL
// bytes starting at StartLsn.
type XLogData struct {
	StartLsn cmn.Lsn
	EndLsn   cmn.Lsn
	Data     []byte
}

// KeepAlive is a parsed 'k' CopyData message.
type KeepAlive struct {
	EndLsn         cmn.Lsn
	ReplyRequested bool
}

// ParseCopyData dispatches a raw CopyData payload (as delivered by
// pgconn's replication message reader) to its typed form. The first
// byte is the message tag; unknown tags are a protocol violation.
func ParseCopyData(payload []byte) (any, error) {
	if len(payload) == 0 {
		return nil, &cmn.ErrProtocol{Detail: "empty CopyData payload"}
	}
	switch payload[0] {
	case msgXLogData:
		return parseXLogData(payload)
	case msgPrimaryKeepalive:
		return parseKeepAlive(payload)
	default:
		return nil, &cmn.ErrProtocol{Detail: "unknown CopyData tag"}
	}
}

func parseXLogData(payload []byte) (*XLogData, error) {
	if len(payload) < 25 {
		return nil, &cmn.ErrProtocol{Detail: "truncated XLogData header"}
	}
	return &XLogData{
		StartLsn: cmn.Lsn(binary.BigEndian.Uint64(payload[1:9])),
		EndLsn:   cmn.Lsn(binary.BigEndian.Uint64(payload[9:17])),
		Data:     payload[25:],
	}, nil
}

func parseKeepAlive(payload []byte) (*KeepAlive, error) {
	if len(payload) < 18 {
		return nil, &cmn.ErrProtocol{Detail: "truncated PrimaryKeepalive"}
	}
	return &KeepAlive{
		EndLsn:         cmn.Lsn(binary.BigEndian.Uint64(payload[1:9])),
		ReplyRequested: payload[17] != 0,
	}, nil
}

// Decoder assembles aligned WAL records out of a sequence of XLogData
// chunks. The wire delivers arbitrary byte ranges; Decoder buffers until
// it holds at least one full, 8-byte-aligned record before emitting it,
// matching the original walreceiver's assumption that every emitted
// record starts on an alignment boundary.
type Decoder struct {
	buf       []byte
	recordLen func([]byte) (int, bool)
}

// NewDecoder takes recordLen, a function that, given the bytes
// accumulated so far, reports the full length of the next record and
// whether enough bytes are buffered to know it. This keeps the wire
// framing (this file) independent of the on-disk WAL record format
// (owned by the caller's Ingester).
func NewDecoder(recordLen func([]byte) (int, bool)) *Decoder {
	return &Decoder{recordLen: recordLen}
}

func (d *Decoder) Feed(chunk []byte) {
	d.buf = append(d.buf, chunk...)
}

// PollDecode returns the next complete record and its start LSN, or
// ok=false if the buffer doesn't yet hold a full one. startLsn is the
// position of the first buffered byte; callers advance it themselves as
// records are consumed (see Connection.streamLoop).
func (d *Decoder) PollDecode(startLsn cmn.Lsn) (rec []byte, consumed int, ok bool) {
	n, have := d.recordLen(d.buf)
	if !have || n > len(d.buf) {
		return nil, 0, false
	}
	cmn.AssertMsg(startLsn.Aligned(), "record start lsn must be 8-byte aligned")
	rec = append([]byte(nil), d.buf[:n]...)
	d.buf = d.buf[n:]
	return rec, n, true
}

func (d *Decoder) Pending() int { return len(d.buf) }

package walreceiver

import (
	"encoding/binary"
	"time"

	"github.com/mkos11/neon/cmn"
)

// Feedback is the set of LSNs reported back to the safekeeper: how far
// bytes have been written to the wire, flushed durably, and applied to
// the timeline.
type Feedback struct {
	WriteLsn cmn.Lsn
	FlushLsn cmn.Lsn
	ApplyLsn cmn.Lsn
	SentAt   time.Time
}

// EncodeStatusUpdate builds the 'r' Standby Status Update CopyData
// payload: tag, write/flush/apply LSN, client timestamp (microseconds
// since the Postgres epoch), and a reply-requested byte.
func EncodeStatusUpdate(fb Feedback, replyRequested bool) []byte {
	buf := make([]byte, 34)
	buf[0] = 'r'
	binary.BigEndian.PutUint64(buf[1:9], uint64(fb.WriteLsn))
	binary.BigEndian.PutUint64(buf[9:17], uint64(fb.FlushLsn))
	binary.BigEndian.PutUint64(buf[17:25], uint64(fb.ApplyLsn))
	binary.BigEndian.PutUint64(buf[25:33], uint64(pgMicros(fb.SentAt)))
	if replyRequested {
		buf[33] = 1
	}
	return buf
}

// pgEpoch is 2000-01-01T00:00:00Z, the zero point of Postgres timestamp
// arithmetic on the wire.
var pgEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

func pgMicros(t time.Time) int64 { return t.Sub(pgEpoch).Microseconds() }

// FeedbackSender writes status updates onto an already-established
// replication connection.
type FeedbackSender interface {
	SendStatusUpdate(payload []byte) error
}

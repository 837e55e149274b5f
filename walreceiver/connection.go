package walreceiver

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgproto3"

	"github.com/mkos11/neon/cmn"
	"github.com/mkos11/neon/cmn/nlog"
	"github.com/mkos11/neon/faultinject"
	"github.com/mkos11/neon/metrics"
)

const (
	connectTimeout      = 10 * time.Second
	statusInterval      = 10 * time.Second
	lsnAlign            = 8
)

// Connection drives one physical replication stream for one timeline.
// Exactly one goroutine runs Run; every suspension point inside it
// selects on ctx.Done() so the caller's cancellation is observed
// promptly, whether the connection is mid-read, mid-ingest, or waiting
// to send its next status update.
type Connection struct {
	id       cmn.TenantTimelineID
	ingester Ingester
	status   *statusOwner
	statusCh chan WalConnectionStatus
}

func NewConnection(id cmn.TenantTimelineID, ingester Ingester) *Connection {
	return &Connection{
		id:       id,
		ingester: ingester,
		status:   newStatusOwner(),
		statusCh: make(chan WalConnectionStatus, 16),
	}
}

func (c *Connection) Status() WalConnectionStatus { return c.status.get() }

// StatusCh publishes every status transition, including the caught-up
// transition: observers need this to tell "replaying backlog" from
// "live tailing" without polling logs (see design notes).
func (c *Connection) StatusCh() <-chan WalConnectionStatus { return c.statusCh }

func (c *Connection) publish(fn func(*WalConnectionStatus)) {
	next := c.status.update(fn)
	select {
	case c.statusCh <- next:
	default: // slow observer: drop, the atomic pointer still holds latest
	}
}

// Run connects to the safekeeper at connString, starts physical
// replication from disk-consistent-lsn rounded up to the next 8-byte
// boundary, and streams until ctx is cancelled or a protocol error
// occurs.
func (c *Connection) Run(ctx context.Context, connString string) error {
	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	conn, err := pgconn.Connect(connectCtx, connString)
	cancel()
	if err != nil {
		return &cmn.ErrTransport{Op: "replication connect", Err: err}
	}
	defer conn.Close(context.Background())

	c.publish(func(s *WalConnectionStatus) { s.Connected = true; s.LatestConnection = time.Now() })
	defer c.publish(func(s *WalConnectionStatus) { s.Connected = false })

	sysID, endOfWal, err := identifySystem(ctx, conn)
	if err != nil {
		return err
	}
	nlog.Infof("wal receiver %s: identified system %s", c.id, sysID)

	startLsn := c.ingester.DiskConsistentLsn()
	if startLsn == 0 {
		startLsn = endOfWal
	}
	startLsn += cmn.Lsn(startLsn.CalcPadding(lsnAlign))

	if err := startReplication(ctx, conn, startLsn); err != nil {
		return err
	}

	return c.streamLoop(ctx, conn, startLsn, endOfWal)
}

// streamLoop drives the receive/decode/ingest/feedback cycle. Each
// XLogData chunk is fed into a Decoder rather than ingested whole: a
// single chunk routinely spans, splits, or straddles several WAL
// records, and the decoder is what reassembles 8-byte-aligned records
// out of that arbitrary wire framing. write_lsn tracks bytes received
// off the wire; flush_lsn and apply_lsn are never tracked locally at
// all — sendStatus queries the ingester fresh each time it reports
// status, since those positions can move for reasons (background
// flush, a remote index publish from another path) this loop does not
// drive itself.
func (c *Connection) streamLoop(ctx context.Context, conn *pgconn.PgConn, startLsn, endOfWal cmn.Lsn) error {
	lastWriteLsn := startLsn
	nextStatus := time.Now().Add(statusInterval)
	caughtUp := false

	decoder := NewDecoder(c.ingester.RecordLen)
	decodeLsn := startLsn

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		timeout := time.Until(nextStatus)
		if timeout < 0 {
			timeout = 0
		}
		recvCtx, cancel := context.WithTimeout(ctx, timeout+statusInterval)
		msg, err := conn.ReceiveMessage(recvCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if time.Now().After(nextStatus) {
				if serr := c.sendStatus(ctx, conn, lastWriteLsn, false); serr != nil {
					return serr
				}
				nextStatus = time.Now().Add(statusInterval)
				continue
			}
			return &cmn.ErrTransport{Op: "replication receive", Err: err}
		}

		cd, ok := msg.(*pgproto3.CopyData)
		if !ok {
			continue
		}
		parsed, perr := ParseCopyData(cd.Data)
		if perr != nil {
			return perr
		}

		switch v := parsed.(type) {
		case *XLogData:
			c.publish(func(s *WalConnectionStatus) {
				s.LastReceivedWal = &WalRecord{Lsn: v.StartLsn, Received: time.Now()}
			})
			if decoder.Pending() == 0 {
				decodeLsn = v.StartLsn
			}
			decoder.Feed(v.Data)
			if v.EndLsn > lastWriteLsn {
				lastWriteLsn = v.EndLsn
			}

			for {
				rec, consumed, ok := decoder.PollDecode(decodeLsn)
				if !ok {
					break
				}
				if err := c.ingester.IngestRecord(rec, decodeLsn); err != nil {
					return err
				}
				decodeLsn += cmn.Lsn(consumed)
				if ferr := faultinject.Fire("walreceiver-after-ingest"); ferr != nil {
					return ferr
				}
				if err := c.ingester.CheckCheckpointDistance(); err != nil {
					return err
				}
			}

			if !caughtUp && v.EndLsn >= endOfWal {
				caughtUp = true
				c.publish(func(s *WalConnectionStatus) { s.HasProcessedWal = true })
			}
		case *KeepAlive:
			if v.EndLsn > lastWriteLsn {
				lastWriteLsn = v.EndLsn
			}
			if v.ReplyRequested {
				if err := c.sendStatus(ctx, conn, lastWriteLsn, false); err != nil {
					return err
				}
				nextStatus = time.Now().Add(statusInterval)
			}
		}

		if time.Now().After(nextStatus) {
			if err := c.sendStatus(ctx, conn, lastWriteLsn, false); err != nil {
				return err
			}
			nextStatus = time.Now().Add(statusInterval)
		}
	}
}

// sendStatus reports write_lsn as given (the caller's running tally of
// bytes received off the wire) but queries flush_lsn and apply_lsn
// fresh from the ingester every time: they must reflect what is
// actually durable right now, not what this loop last happened to see,
// or a safekeeper watching the feed would trim WAL the pageserver has
// not truly flushed or applied yet.
func (c *Connection) sendStatus(ctx context.Context, conn *pgconn.PgConn, write cmn.Lsn, replyRequested bool) error {
	flush := c.ingester.DiskConsistentLsn()
	apply := c.ingester.RemoteDiskConsistentLsn()
	metrics.WalFlushLagBytes.WithLabelValues(c.id.Tenant.String(), c.id.Timeline.String()).Set(float64(write - flush))
	payload := EncodeStatusUpdate(Feedback{WriteLsn: write, FlushLsn: flush, ApplyLsn: apply, SentAt: time.Now()}, replyRequested)
	fe := conn.Frontend()
	if err := fe.Send(&pgproto3.CopyData{Data: payload}); err != nil {
		return &cmn.ErrTransport{Op: "send status update", Err: err}
	}
	if err := fe.Flush(); err != nil {
		return &cmn.ErrTransport{Op: "flush status update", Err: err}
	}
	return nil
}

// identifySystem runs IDENTIFY_SYSTEM and returns the system id and the
// xlogpos column: the upstream's current end of WAL. Run starts from it
// when the caller has no prior disk-consistent LSN to resume from, and
// streamLoop treats reaching it as catching up. Row shape is the four columns
// Postgres documents for the command: systemid, timeline, xlogpos,
// dbname.
func identifySystem(ctx context.Context, conn *pgconn.PgConn) (systemID string, lsn cmn.Lsn, err error) {
	results, rerr := conn.Exec(ctx, "IDENTIFY_SYSTEM").ReadAll()
	if rerr != nil {
		return "", 0, &cmn.ErrProtocol{Detail: "IDENTIFY_SYSTEM: " + rerr.Error()}
	}
	if len(results) == 0 || len(results[0].Rows) == 0 {
		return "", 0, &cmn.ErrProtocol{Detail: "IDENTIFY_SYSTEM returned no rows"}
	}
	row := results[0].Rows[0]
	if len(row) < 3 {
		return "", 0, &cmn.ErrProtocol{Detail: "IDENTIFY_SYSTEM row missing columns"}
	}
	systemID = string(row[0])
	lsn, perr := parseLsn(string(row[2]))
	if perr != nil {
		return "", 0, &cmn.ErrProtocol{Detail: "IDENTIFY_SYSTEM: " + perr.Error()}
	}
	return systemID, lsn, nil
}

func startReplication(ctx context.Context, conn *pgconn.PgConn, startLsn cmn.Lsn) error {
	cmd := "START_REPLICATION PHYSICAL " + lsnToText(startLsn)
	if _, err := conn.Exec(ctx, cmd).ReadAll(); err != nil {
		return &cmn.ErrProtocol{Detail: "START_REPLICATION: " + err.Error()}
	}
	return nil
}

// parseLsn parses Postgres's "XXXXXXXX/XXXXXXXX" textual LSN format.
func parseLsn(s string) (cmn.Lsn, error) {
	hi, lo, found := strings.Cut(s, "/")
	if !found {
		return 0, fmt.Errorf("malformed lsn %q", s)
	}
	hiVal, err := strconv.ParseUint(hi, 16, 32)
	if err != nil {
		return 0, err
	}
	loVal, err := strconv.ParseUint(lo, 16, 32)
	if err != nil {
		return 0, err
	}
	return cmn.Lsn(hiVal<<32 | loVal), nil
}

func lsnToText(lsn cmn.Lsn) string {
	return strconv.FormatUint(uint64(lsn)>>32, 16) + "/" + strconv.FormatUint(uint64(lsn)&0xFFFFFFFF, 16)
}

package walreceiver_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mkos11/neon/cmn"
	"github.com/mkos11/neon/walreceiver"
)

func buildXLogData(startLsn, endLsn uint64, data []byte) []byte {
	buf := make([]byte, 25+len(data))
	buf[0] = 'w'
	binary.BigEndian.PutUint64(buf[1:9], startLsn)
	binary.BigEndian.PutUint64(buf[9:17], endLsn)
	binary.BigEndian.PutUint64(buf[17:25], 0) // server clock, unused
	copy(buf[25:], data)
	return buf
}

func TestParseCopyDataXLogData(t *testing.T) {
	payload := buildXLogData(0x1000, 0x1010, []byte("recordbytes"))
	parsed, err := walreceiver.ParseCopyData(payload)
	require.NoError(t, err)
	xl, ok := parsed.(*walreceiver.XLogData)
	require.True(t, ok)
	require.EqualValues(t, 0x1000, xl.StartLsn)
	require.Equal(t, "recordbytes", string(xl.Data))
}

func TestParseCopyDataRejectsUnknownTag(t *testing.T) {
	_, err := walreceiver.ParseCopyData([]byte{'z'})
	require.Error(t, err)
}

func TestParseCopyDataRejectsEmpty(t *testing.T) {
	_, err := walreceiver.ParseCopyData(nil)
	require.Error(t, err)
}

func TestDecoderEmitsAlignedRecords(t *testing.T) {
	// recordLen reports a fixed 8-byte record length once 8 bytes are buffered.
	recordLen := func(buf []byte) (int, bool) {
		if len(buf) < 8 {
			return 0, false
		}
		return 8, true
	}
	d := walreceiver.NewDecoder(recordLen)
	d.Feed([]byte{1, 2, 3, 4})
	_, _, ok := d.PollDecode(cmn.Lsn(0))
	require.False(t, ok, "must not decode before a full record is buffered")

	d.Feed([]byte{5, 6, 7, 8})
	rec, consumed, ok := d.PollDecode(cmn.Lsn(0))
	require.True(t, ok)
	require.Equal(t, 8, consumed)
	require.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, rec)
}

func TestDecoderEmitsMultipleRecordsFromOneChunk(t *testing.T) {
	// a single XLogData chunk spanning three fixed-size records must
	// yield three separate PollDecode calls, not one.
	// Each record is 8 bytes so every record start stays 8-byte aligned.
	recordLen := func(buf []byte) (int, bool) {
		if len(buf) < 8 {
			return 0, false
		}
		return 8, true
	}
	d := walreceiver.NewDecoder(recordLen)
	d.Feed([]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20, 21, 22, 23, 24})

	lsn := cmn.Lsn(0)
	var got [][]byte
	for {
		rec, consumed, ok := d.PollDecode(lsn)
		if !ok {
			break
		}
		got = append(got, rec)
		lsn += cmn.Lsn(consumed)
	}
	require.Equal(t, [][]byte{{1, 2, 3, 4, 5, 6, 7, 8}, {9, 10, 11, 12, 13, 14, 15, 16}, {17, 18, 19, 20, 21, 22, 23, 24}}, got)
	require.Equal(t, 0, d.Pending())
}

func TestDecoderBuffersPartialRecordAcrossFeeds(t *testing.T) {
	// a record split across two chunks must not decode until the
	// second chunk arrives.
	recordLen := func(buf []byte) (int, bool) {
		if len(buf) < 8 {
			return 0, false
		}
		return 8, true
	}
	d := walreceiver.NewDecoder(recordLen)
	d.Feed([]byte{1, 2, 3})
	_, _, ok := d.PollDecode(cmn.Lsn(0))
	require.False(t, ok)
	require.Equal(t, 3, d.Pending())

	d.Feed([]byte{4, 5, 6, 7, 8})
	rec, consumed, ok := d.PollDecode(cmn.Lsn(0))
	require.True(t, ok)
	require.Equal(t, 8, consumed)
	require.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, rec)
}

func TestDecoderPanicsOnMisalignedStart(t *testing.T) {
	recordLen := func(buf []byte) (int, bool) { return 8, len(buf) >= 8 }
	d := walreceiver.NewDecoder(recordLen)
	d.Feed(make([]byte, 8))
	require.Panics(t, func() { d.PollDecode(cmn.Lsn(3)) })
}

func TestEncodeStatusUpdateRoundTripsLsns(t *testing.T) {
	payload := walreceiver.EncodeStatusUpdate(walreceiver.Feedback{
		WriteLsn: 100, FlushLsn: 90, ApplyLsn: 80,
	}, true)
	require.Equal(t, byte('r'), payload[0])
	require.EqualValues(t, 100, binary.BigEndian.Uint64(payload[1:9]))
	require.EqualValues(t, 90, binary.BigEndian.Uint64(payload[9:17]))
	require.EqualValues(t, 80, binary.BigEndian.Uint64(payload[17:25]))
	require.Equal(t, byte(1), payload[33])
}

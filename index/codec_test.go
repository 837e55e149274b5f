package index_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mkos11/neon/cmn"
	"github.com/mkos11/neon/index"
)

func TestIndexPartRoundTrip(t *testing.T) {
	ip := index.NewIndexPart()
	a, err := index.NewRelativePath("layer-a")
	require.NoError(t, err)
	b, err := index.NewRelativePath("sub/layer-b")
	require.NoError(t, err)
	ip.MarkStored(a)
	ip.MarkStored(b)
	ip.DiskConsistentLsn = cmn.Lsn(0x1800)
	ip.MetadataBytes = []byte("opaque")

	data, err := index.Marshal(ip)
	require.NoError(t, err)

	got, err := index.Unmarshal(data)
	require.NoError(t, err)
	require.Equal(t, ip.DiskConsistentLsn, got.DiskConsistentLsn)
	require.Equal(t, ip.MetadataBytes, got.MetadataBytes)
	require.Contains(t, got.StoredFiles, a)
	require.Contains(t, got.StoredFiles, b)
}

func TestIndexPartUnmarshalToleratesUnknownFields(t *testing.T) {
	raw := []byte(`{"stored_files":["layer-a"],"missing_files":[],"disk_consistent_lsn":8,"metadata_bytes":null,"future_field":"ignored"}`)
	got, err := index.Unmarshal(raw)
	require.NoError(t, err)
	require.EqualValues(t, 8, got.DiskConsistentLsn)
}

func TestRelativePathRejectsEscape(t *testing.T) {
	_, err := index.NewRelativePath("../outside")
	require.Error(t, err)
}

func TestValidateRejectsLsnRegression(t *testing.T) {
	prior := index.NewIndexPart()
	prior.DiskConsistentLsn = 16
	next := index.NewIndexPart()
	next.DiskConsistentLsn = 8
	require.Error(t, index.Validate(prior, next))
}

package index

import (
	jsoniter "github.com/json-iterator/go"

	"github.com/mkos11/neon/cmn"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// wireIndexPart is the JSON shape of an index part. Fields are named
// independently of the in-memory IndexPart so the wire format can stay
// stable across renames of the Go type. jsoniter silently ignores any
// field it doesn't recognize, keeping old pageservers forwards-tolerant
// of index parts written by a newer one.
type wireIndexPart struct {
	StoredFiles       []string `json:"stored_files"`
	MissingFiles      []string `json:"missing_files"`
	DiskConsistentLsn uint64   `json:"disk_consistent_lsn"`
	MetadataBytes     []byte   `json:"metadata_bytes"`
}

func Marshal(ip *IndexPart) ([]byte, error) {
	w := wireIndexPart{
		DiskConsistentLsn: uint64(ip.DiskConsistentLsn),
		MetadataBytes:     ip.MetadataBytes,
	}
	for p := range ip.StoredFiles {
		w.StoredFiles = append(w.StoredFiles, string(p))
	}
	for p := range ip.MissingFiles {
		w.MissingFiles = append(w.MissingFiles, string(p))
	}
	return json.Marshal(w)
}

func Unmarshal(data []byte) (*IndexPart, error) {
	var w wireIndexPart
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, &cmn.ErrCorrupt{What: "index part json", Err: err}
	}
	ip := NewIndexPart()
	ip.DiskConsistentLsn = cmn.Lsn(w.DiskConsistentLsn)
	ip.MetadataBytes = w.MetadataBytes
	for _, s := range w.StoredFiles {
		p, err := NewRelativePath(s)
		if err != nil {
			return nil, err
		}
		ip.StoredFiles[p] = struct{}{}
	}
	for _, s := range w.MissingFiles {
		p, err := NewRelativePath(s)
		if err != nil {
			return nil, err
		}
		ip.MissingFiles[p] = struct{}{}
	}
	return ip, nil
}

// Validate enforces invariant 3 (monotonic DiskConsistentLsn) before a
// new index part replaces prior, already-published state.
func Validate(prior, next *IndexPart) error {
	if prior != nil && next.DiskConsistentLsn < prior.DiskConsistentLsn {
		return &cmn.ErrCorrupt{What: "disk_consistent_lsn regression"}
	}
	return nil
}

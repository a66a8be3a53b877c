package filestore

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/raftsnap/src/snapshot"
)

const (
	metaVersion = 1

	MetaFileName    = "meta.toml"
	PayloadFileName = "state.bin"
	partialFileName = "state.partial"
)

// metaHeader is the TOML structure written to meta.toml inside each
// snapshot directory. Checksum covers every other field; PayloadCRC covers
// the payload file. The header is published last, so its presence marks the
// directory complete.
type metaHeader struct {
	Version     uint32 `toml:"version"`
	Index       uint64 `toml:"index"`
	Term        uint64 `toml:"term"`
	Cluster     string `toml:"cluster"` // hex encoded, persisted verbatim
	PayloadSize int64  `toml:"payload_size"`
	PayloadCRC  uint32 `toml:"payload_crc"`
	Checksum    uint32 `toml:"checksum"`
}

func newHeader(meta snapshot.Meta, payloadSize int64, payloadCRC uint32) metaHeader {
	h := metaHeader{
		Version:     metaVersion,
		Index:       meta.Index,
		Term:        meta.Term,
		Cluster:     hex.EncodeToString(meta.Cluster),
		PayloadSize: payloadSize,
		PayloadCRC:  payloadCRC,
	}
	h.Checksum = h.computeChecksum()
	return h
}

// computeChecksum folds every header field except Checksum itself into a
// CRC-32 over a fixed-width binary layout.
func (h metaHeader) computeChecksum() uint32 {
	buf := make([]byte, 0, 44+len(h.Cluster))
	buf = binary.BigEndian.AppendUint32(buf, h.Version)
	buf = binary.BigEndian.AppendUint64(buf, h.Index)
	buf = binary.BigEndian.AppendUint64(buf, h.Term)
	buf = binary.BigEndian.AppendUint64(buf, uint64(len(h.Cluster)))
	buf = append(buf, h.Cluster...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(h.PayloadSize))
	buf = binary.BigEndian.AppendUint32(buf, h.PayloadCRC)
	return crc32.ChecksumIEEE(buf)
}

func (h metaHeader) meta() (snapshot.Meta, error) {
	cluster, err := hex.DecodeString(h.Cluster)
	if err != nil {
		return snapshot.Meta{}, fmt.Errorf("%w: bad cluster field: %v", snapshot.ErrInvalidFormat, err)
	}
	return snapshot.Meta{Index: h.Index, Term: h.Term, Cluster: cluster}, nil
}

// readHeader parses and validates meta.toml under dir.
func readHeader(dir string) (metaHeader, error) {
	path := filepath.Join(dir, MetaFileName)

	var h metaHeader
	if _, err := toml.DecodeFile(path, &h); err != nil {
		if os.IsNotExist(err) {
			return metaHeader{}, fmt.Errorf("failed to open snapshot meta: %w", err)
		}
		return metaHeader{}, fmt.Errorf("%w: %v", snapshot.ErrInvalidFormat, err)
	}

	if h.Version != metaVersion {
		return metaHeader{}, &snapshot.InvalidVersionError{Version: h.Version}
	}
	if h.Checksum != h.computeChecksum() {
		return metaHeader{}, fmt.Errorf("%w: meta header corrupt", snapshot.ErrChecksum)
	}
	return h, nil
}

// writeHeader publishes meta.toml atomically: encode to a temp file in the
// same directory, sync, rename over the final name.
func writeHeader(dir string, h metaHeader) error {
	tmp, err := os.CreateTemp(dir, MetaFileName+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp meta file: %w", err)
	}
	tmpPath := tmp.Name()

	cleanupTmp := true
	defer func() {
		if cleanupTmp {
			_ = os.Remove(tmpPath)
		}
	}()

	enc := toml.NewEncoder(tmp)
	enc.Indent = ""
	if err := enc.Encode(h); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to encode snapshot meta: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync snapshot meta: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot meta: %w", err)
	}

	if err := os.Rename(tmpPath, filepath.Join(dir, MetaFileName)); err != nil {
		return fmt.Errorf("failed to publish snapshot meta: %w", err)
	}
	cleanupTmp = false
	return nil
}

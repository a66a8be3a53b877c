// Package filestore is the file-backed snapshot backend. Each snapshot
// directory holds two files: state.bin with the raw machine payload and
// meta.toml with the validated header. A receive in progress appends to
// state.partial and only renames it into place once the final chunk checks
// out, so a directory with a header is always complete.
package filestore

import (
	"bytes"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"

	"github.com/danmuck/raftsnap/src/snapshot"
)

// FileStore implements snapshot.Backend over plain files.
type FileStore struct{}

// New returns a file-backed snapshot backend.
func New() *FileStore {
	return &FileStore{}
}

// Prepare captures the machine state behind cursor on the caller's task.
func (fs *FileStore) Prepare(meta snapshot.Meta, cursor snapshot.ReleaseCursor) (snapshot.Ref, error) {
	return cursor.Capture()
}

// Write serializes ref into dir: payload first, fsynced, then the header.
// Runs on a worker task.
func (fs *FileStore) Write(dir string, meta snapshot.Meta, ref snapshot.Ref) error {
	var buf bytes.Buffer
	if err := ref.Persist(&buf); err != nil {
		return fmt.Errorf("failed to serialize machine state: %w", err)
	}
	payload := buf.Bytes()

	f, err := os.Create(filepath.Join(dir, PayloadFileName))
	if err != nil {
		return fmt.Errorf("failed to create snapshot payload: %w", err)
	}
	if _, err := f.Write(payload); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write snapshot payload: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to sync snapshot payload: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot payload: %w", err)
	}

	h := newHeader(meta, int64(len(payload)), crc32.ChecksumIEEE(payload))
	return writeHeader(dir, h)
}

// Read opens dir for outbound streaming in chunks of chunkSize bytes. The
// stream owns the payload handle and releases it after the final chunk.
func (fs *FileStore) Read(chunkSize int, dir string) (uint32, snapshot.Meta, snapshot.ChunkStream, error) {
	if chunkSize < 1 {
		return 0, snapshot.Meta{}, nil, fmt.Errorf("invalid chunk size %d", chunkSize)
	}

	h, err := readHeader(dir)
	if err != nil {
		return 0, snapshot.Meta{}, nil, err
	}
	meta, err := h.meta()
	if err != nil {
		return 0, snapshot.Meta{}, nil, err
	}

	f, err := os.Open(filepath.Join(dir, PayloadFileName))
	if err != nil {
		return 0, snapshot.Meta{}, nil, fmt.Errorf("failed to open snapshot payload: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return 0, snapshot.Meta{}, nil, fmt.Errorf("failed to stat snapshot payload: %w", err)
	}
	if info.Size() != h.PayloadSize {
		_ = f.Close()
		return 0, snapshot.Meta{}, nil, fmt.Errorf("%w: payload is %d bytes, header says %d",
			snapshot.ErrChecksum, info.Size(), h.PayloadSize)
	}

	// an empty payload still ships as one empty terminal chunk
	numChunks := int((h.PayloadSize + int64(chunkSize) - 1) / int64(chunkSize))
	if numChunks == 0 {
		numChunks = 1
	}

	stream := &chunkStream{
		f:         f,
		chunkSize: chunkSize,
		numChunks: numChunks,
	}
	return h.PayloadCRC, meta, stream, nil
}

// BeginAccept opens state.partial for the inbound payload. crc must match
// the complete payload when the final chunk commits.
func (fs *FileStore) BeginAccept(dir string, crc uint32, meta snapshot.Meta) (snapshot.AcceptSink, error) {
	f, err := os.OpenFile(filepath.Join(dir, partialFileName), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open partial payload: %w", err)
	}
	return &acceptSink{
		dir:     dir,
		f:       f,
		meta:    meta,
		declare: crc,
		sum:     crc32.NewIEEE(),
	}, nil
}

// Recover reads back the full machine payload, verifying size and CRC.
func (fs *FileStore) Recover(dir string) (snapshot.Meta, []byte, error) {
	h, err := readHeader(dir)
	if err != nil {
		return snapshot.Meta{}, nil, err
	}
	meta, err := h.meta()
	if err != nil {
		return snapshot.Meta{}, nil, err
	}

	payload, err := os.ReadFile(filepath.Join(dir, PayloadFileName))
	if err != nil {
		return snapshot.Meta{}, nil, fmt.Errorf("failed to read snapshot payload: %w", err)
	}
	if int64(len(payload)) != h.PayloadSize {
		return snapshot.Meta{}, nil, fmt.Errorf("%w: payload is %d bytes, header says %d",
			snapshot.ErrChecksum, len(payload), h.PayloadSize)
	}
	if crc32.ChecksumIEEE(payload) != h.PayloadCRC {
		return snapshot.Meta{}, nil, fmt.Errorf("%w: payload corrupt", snapshot.ErrChecksum)
	}
	return meta, payload, nil
}

// ReadMeta parses only the metadata header of dir.
func (fs *FileStore) ReadMeta(dir string) (snapshot.Meta, error) {
	h, err := readHeader(dir)
	if err != nil {
		return snapshot.Meta{}, err
	}
	return h.meta()
}

// Verify deep-checks one snapshot directory: header checksum, payload
// presence, size, and CRC. Does not modify any state.
func (fs *FileStore) Verify(dir string) error {
	_, _, err := fs.Recover(dir)
	return err
}

type chunkStream struct {
	f         *os.File
	chunkSize int
	numChunks int
	produced  int
	closed    bool
}

func (s *chunkStream) NumChunks() int {
	return s.numChunks
}

func (s *chunkStream) Next() ([]byte, error) {
	if s.produced >= s.numChunks {
		return nil, io.EOF
	}

	buf := make([]byte, s.chunkSize)
	n, err := io.ReadFull(s.f, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("failed to read snapshot chunk: %w", err)
	}

	s.produced++
	if s.produced == s.numChunks {
		if err := s.Close(); err != nil {
			return nil, err
		}
	}
	return buf[:n], nil
}

func (s *chunkStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.f.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot payload: %w", err)
	}
	return nil
}

type acceptSink struct {
	dir     string
	f       *os.File
	meta    snapshot.Meta
	declare uint32
	sum     hash.Hash32
	size    int64
	done    bool
}

func (s *acceptSink) Append(data []byte) error {
	if s.done {
		return fmt.Errorf("accept sink already terminated")
	}
	if _, err := s.f.Write(data); err != nil {
		return fmt.Errorf("failed to append snapshot chunk: %w", err)
	}
	s.sum.Write(data)
	s.size += int64(len(data))
	return nil
}

// Complete appends the final chunk, verifies the declared CRC, fsyncs, and
// publishes the directory by renaming the payload and writing the header.
func (s *acceptSink) Complete(data []byte) error {
	if err := s.Append(data); err != nil {
		s.done = true
		_ = s.f.Close()
		return err
	}
	s.done = true

	if got := s.sum.Sum32(); got != s.declare {
		_ = s.f.Close()
		return fmt.Errorf("%w: received payload crc %08x, sender declared %08x",
			snapshot.ErrChecksum, got, s.declare)
	}

	if err := s.f.Sync(); err != nil {
		_ = s.f.Close()
		return fmt.Errorf("failed to sync received payload: %w", err)
	}
	if err := s.f.Close(); err != nil {
		return fmt.Errorf("failed to close received payload: %w", err)
	}
	if err := os.Rename(filepath.Join(s.dir, partialFileName), filepath.Join(s.dir, PayloadFileName)); err != nil {
		return fmt.Errorf("failed to publish received payload: %w", err)
	}

	return writeHeader(s.dir, newHeader(s.meta, s.size, s.declare))
}

// Cancel closes and removes the partial payload. The caller owns removal of
// the directory itself.
func (s *acceptSink) Cancel() error {
	if s.done {
		return nil
	}
	s.done = true
	_ = s.f.Close()
	if err := os.Remove(filepath.Join(s.dir, partialFileName)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove partial payload: %w", err)
	}
	return nil
}

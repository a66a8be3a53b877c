package snapshot

import (
	"fmt"
	"os"
	"path/filepath"

	logs "github.com/danmuck/smplog"

	"github.com/danmuck/raftsnap/src/registry"
)

// Manager owns the snapshot lifecycle of a single raft participant and is
// the authoritative answer to "what snapshot is current". It is exclusively
// owned by the participant's goroutine: no internal locking, every mutation
// happens on that one task. The background write worker shares no state
// with it and communicates only through the participant's inbox.
type Manager struct {
	uid     UID
	backend Backend
	dir     string
	reg     *registry.Registry

	current   *IdxTerm
	pending   *pendingWrite
	accepting *acceptCtx
}

type pendingWrite struct {
	worker  *Worker
	idxTerm IdxTerm
}

type acceptCtx struct {
	numChunks int
	next      int
	idxTerm   IdxTerm
	sink      AcceptSink
}

// SnapshotsDir returns the conventional snapshot root under a participant's
// data directory.
func SnapshotsDir(root string) string {
	return filepath.Join(root, "snapshots")
}

// InitManager scans dir for existing snapshot subdirectories, retains the
// youngest one whose meta header parses, publishes its index to reg, and
// reclaims every other snapshot subdirectory. Entries whose names do not
// follow the snapshot layout are left untouched. A crash mid-write can only leave a partial
// directory that sorts higher than the last complete one, so walking
// candidates youngest-first and keeping the first parseable directory
// recovers the last durable snapshot.
func InitManager(uid UID, backend Backend, dir string, reg *registry.Registry) (*Manager, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	m := &Manager{
		uid:     uid,
		backend: backend,
		dir:     dir,
		reg:     reg,
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot directory: %w", err)
	}

	// ReadDir sorts by filename; fixed-width hex names make that numeric
	// (term, index) order.
	var candidates []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, ok := ParseDirName(entry.Name()); !ok {
			logs.Debugf("snapshot init %q: ignoring foreign entry %s", uid, entry.Name())
			continue
		}
		candidates = append(candidates, entry.Name())
	}

	retained := ""
	for i := len(candidates) - 1; i >= 0; i-- {
		name := candidates[i]
		meta, err := backend.ReadMeta(filepath.Join(dir, name))
		if err != nil {
			logs.Warnf("snapshot init %q: unreadable candidate %s: %v", uid, name, err)
			continue
		}
		retained = name
		it := meta.IdxTerm()
		m.current = &it
		reg.Publish(string(uid), it.Index)
		break
	}

	for _, name := range candidates {
		if name == retained {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, name)); err != nil {
			return nil, fmt.Errorf("failed to reclaim stale snapshot %s: %w", name, err)
		}
	}

	if m.current != nil {
		logs.Infof("snapshot init %q: current %s", uid, m.current)
	}
	return m, nil
}

// UID returns the owning participant's identifier.
func (m *Manager) UID() UID {
	return m.uid
}

// Current returns the (index, term) of the snapshot known to exist complete
// on disk, if any.
func (m *Manager) Current() (IdxTerm, bool) {
	if m.current == nil {
		return IdxTerm{}, false
	}
	return *m.current, true
}

// Pending returns the (index, term) of an in-progress background write, if
// any.
func (m *Manager) Pending() (IdxTerm, bool) {
	if m.pending == nil {
		return IdxTerm{}, false
	}
	return m.pending.idxTerm, true
}

// Accepting returns the (index, term) an in-progress chunked receive claims,
// if any.
func (m *Manager) Accepting() (IdxTerm, bool) {
	if m.accepting == nil {
		return IdxTerm{}, false
	}
	return m.accepting.idxTerm, true
}

// BeginSnapshot captures the machine state behind cursor on the caller's
// task and spawns a background worker to materialize it under the snapshot
// root. The returned effects contain a single MonitorWorker descriptor the
// dispatcher must realize so that worker death reaches HandleDown.
//
// Snapshotting and installing are mutually exclusive: calling this with a
// write pending or a receive in progress is a programmer error.
func (m *Manager) BeginSnapshot(meta Meta, cursor ReleaseCursor, inbox chan<- Event) ([]Effect, error) {
	m.mustBeIdle("begin snapshot")

	it := meta.IdxTerm()
	dir := m.snapDir(it)

	// the worker never creates its own target; the directory must exist
	// before the spawn
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot target %s: %w", dir, err)
	}

	ref, err := m.backend.Prepare(meta, cursor)
	if err != nil {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			logs.Warnf("snapshot %q: failed to reclaim %s after prepare error: %v", m.uid, dir, rmErr)
		}
		return nil, fmt.Errorf("failed to prepare snapshot %s: %w", it, err)
	}

	w := spawnWriter(m.backend, dir, meta, ref, inbox)
	m.pending = &pendingWrite{worker: w, idxTerm: it}
	logs.Debugf("snapshot %q: writer %d started for %s", m.uid, w.ID(), it)

	return []Effect{MonitorWorker{Worker: w}}, nil
}

// CompleteSnapshot installs a finished background write as the current
// snapshot. Invoked when the participant dequeues the SnapshotWritten event
// matching the pending write; any other idxterm is a programmer error.
func (m *Manager) CompleteSnapshot(it IdxTerm) error {
	if m.pending == nil || m.pending.idxTerm != it {
		panic(fmt.Sprintf("snapshot manager %q: complete %s does not match pending write", m.uid, it))
	}

	prev := m.current
	m.pending = nil
	m.current = &it
	m.reg.Publish(string(m.uid), it.Index)
	snapshotsWrittenVar.Add(1)

	if err := m.removePrevious(prev, it); err != nil {
		return err
	}
	logs.Infof("snapshot %q: current %s", m.uid, it)
	return nil
}

// BeginAccept starts a chunked receive of a peer's snapshot. numChunks is
// the total the sender declared; crc covers the complete payload.
func (m *Manager) BeginAccept(crc uint32, meta Meta, numChunks int) error {
	m.mustBeIdle("begin accept")

	if numChunks < 1 {
		return fmt.Errorf("invalid chunk count %d", numChunks)
	}

	it := meta.IdxTerm()
	dir := m.snapDir(it)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot target %s: %w", dir, err)
	}

	sink, err := m.backend.BeginAccept(dir, crc, meta)
	if err != nil {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			logs.Warnf("snapshot %q: failed to reclaim %s after accept error: %v", m.uid, dir, rmErr)
		}
		return fmt.Errorf("failed to begin accept of %s: %w", it, err)
	}

	m.accepting = &acceptCtx{
		numChunks: numChunks,
		next:      1,
		idxTerm:   it,
		sink:      sink,
	}
	logs.Debugf("snapshot %q: accepting %s in %d chunks", m.uid, it, numChunks)
	return nil
}

// AcceptChunk sequences one inbound chunk. Duplicates of already-committed
// chunks (n below the expected number) are ignored so that transport
// resends stay idempotent; a gap (n above it) is a protocol violation and
// returns ErrOutOfOrderChunk, after which the caller must DiscardAccept and
// reset the transfer. Committing the final chunk installs the snapshot.
func (m *Manager) AcceptChunk(data []byte, n int) error {
	if m.accepting == nil {
		panic(fmt.Sprintf("snapshot manager %q: chunk %d with no receive in progress", m.uid, n))
	}
	acc := m.accepting

	switch {
	case n < acc.next:
		// resend of a committed chunk
		return nil
	case n > acc.next:
		return fmt.Errorf("%w: got %d, expected %d of %d", ErrOutOfOrderChunk, n, acc.next, acc.numChunks)
	}

	if n < acc.numChunks {
		if err := acc.sink.Append(data); err != nil {
			return fmt.Errorf("failed to accept chunk %d of %s: %w", n, acc.idxTerm, err)
		}
		acc.next++
		chunksAcceptedVar.Add(1)
		return nil
	}

	// final chunk; the sink is terminated either way
	m.accepting = nil
	if err := acc.sink.Complete(data); err != nil {
		if rmErr := os.RemoveAll(m.snapDir(acc.idxTerm)); rmErr != nil {
			logs.Warnf("snapshot %q: failed to reclaim %s after accept failure: %v", m.uid, acc.idxTerm, rmErr)
		}
		return fmt.Errorf("failed to complete accept of %s: %w", acc.idxTerm, err)
	}
	chunksAcceptedVar.Add(1)

	// the previous snapshot goes first, so at most one complete directory
	// exists at steady state
	it := acc.idxTerm
	if err := m.removePrevious(m.current, it); err != nil {
		return err
	}

	m.current = &it
	m.reg.Publish(string(m.uid), it.Index)
	snapshotsInstalledVar.Add(1)
	logs.Infof("snapshot %q: installed %s from peer", m.uid, it)
	return nil
}

// DiscardAccept tears down an in-flight receive: the transport declared the
// peer dead, or a chunk arrived out of order. Safe to call when nothing is
// being accepted.
func (m *Manager) DiscardAccept() error {
	if m.accepting == nil {
		return nil
	}
	acc := m.accepting
	m.accepting = nil

	if err := acc.sink.Cancel(); err != nil {
		logs.Warnf("snapshot %q: failed to cancel accept of %s: %v", m.uid, acc.idxTerm, err)
	}
	if err := os.RemoveAll(m.snapDir(acc.idxTerm)); err != nil {
		return fmt.Errorf("failed to reclaim partial snapshot %s: %w", acc.idxTerm, err)
	}
	logs.Debugf("snapshot %q: discarded accept of %s", m.uid, acc.idxTerm)
	return nil
}

// HandleDown reacts to the termination notification of a monitored worker.
// A death matching the pending write reclaims the partial directory and
// clears the pending state; everything else (stale ids, the notification
// trailing a completed write) is a no-op. This is the sole recovery path
// for a crashed background write.
func (m *Manager) HandleDown(id WorkerID, reason error) error {
	if m.pending == nil || m.pending.worker.ID() != id {
		return nil
	}

	it := m.pending.idxTerm
	m.pending = nil
	if err := os.RemoveAll(m.snapDir(it)); err != nil {
		return fmt.Errorf("failed to reclaim dead write %s: %w", it, err)
	}
	logs.Warnf("snapshot %q: writer %d died (%v), reclaimed %s", m.uid, id, reason, it)
	return nil
}

// Read opens the current snapshot for outbound streaming to a peer.
func (m *Manager) Read(chunkSize int) (uint32, Meta, ChunkStream, error) {
	if m.current == nil {
		panic(fmt.Sprintf("snapshot manager %q: read with no current snapshot", m.uid))
	}
	return m.backend.Read(chunkSize, m.snapDir(*m.current))
}

// Recover reconstructs the machine state from the current snapshot.
func (m *Manager) Recover() (Meta, []byte, error) {
	if m.current == nil {
		panic(fmt.Sprintf("snapshot manager %q: recover with no current snapshot", m.uid))
	}
	return m.backend.Recover(m.snapDir(*m.current))
}

func (m *Manager) mustBeIdle(op string) {
	if m.pending != nil {
		panic(fmt.Sprintf("snapshot manager %q: %s while write of %s pending", m.uid, op, m.pending.idxTerm))
	}
	if m.accepting != nil {
		panic(fmt.Sprintf("snapshot manager %q: %s while accepting %s", m.uid, op, m.accepting.idxTerm))
	}
}

func (m *Manager) removePrevious(prev *IdxTerm, next IdxTerm) error {
	if prev == nil || *prev == next {
		return nil
	}
	if err := os.RemoveAll(m.snapDir(*prev)); err != nil {
		return fmt.Errorf("failed to remove superseded snapshot %s: %w", *prev, err)
	}
	return nil
}

func (m *Manager) snapDir(it IdxTerm) string {
	return filepath.Join(m.dir, DirName(it))
}

package snapshot

import (
	"fmt"
	"sync/atomic"

	logs "github.com/danmuck/smplog"
)

// WorkerID names one background write worker, unique within the process.
type WorkerID uint64

var workerSeq atomic.Uint64

// Worker is a detached write task parented to one participant. It owns no
// external resource beyond files inside its target directory, so deleting
// that directory after the worker dies is always safe.
type Worker struct {
	id   WorkerID
	done chan error
}

// ID returns the worker's process-unique identifier.
func (w *Worker) ID() WorkerID {
	return w.id
}

// Done yields exactly one value when the worker terminates: nil after a
// successful write, the failure otherwise.
func (w *Worker) Done() <-chan error {
	return w.done
}

// spawnWriter starts the background write. On success the worker posts
// SnapshotWritten to inbox before signalling done; on failure or panic it
// only signals done and the monitoring path drives cleanup. No retry here:
// failure surfaces as death and the participant requests another snapshot
// later.
func spawnWriter(b Backend, dir string, meta Meta, ref Ref, inbox chan<- Event) *Worker {
	w := &Worker{
		id:   WorkerID(workerSeq.Add(1)),
		done: make(chan error, 1),
	}

	go func() {
		var err error
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("snapshot writer panic: %v", r)
			}
			if err != nil {
				workerFailuresVar.Add(1)
				logs.Warnf("snapshot writer %d failed: %v", w.id, err)
			}
			w.done <- err
			close(w.done)
		}()

		if err = b.Write(dir, meta, ref); err != nil {
			return
		}
		logs.Debugf("snapshot writer %d: wrote %s", w.id, dir)
		inbox <- SnapshotWritten{IdxTerm: meta.IdxTerm()}
	}()

	return w
}

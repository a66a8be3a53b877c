package snapshot

// Event is a message delivered to the owning participant's inbox. The
// participant dequeues events on its own task and drives the matching
// manager operation, giving a single linearization point for state
// transitions.
type Event interface {
	event()
}

// SnapshotWritten is posted by a background write worker once the backend
// has fully materialized the snapshot directory. Triggers CompleteSnapshot.
type SnapshotWritten struct {
	IdxTerm IdxTerm
}

// ChunkReceived carries one inbound transfer chunk from the transport.
// Triggers AcceptChunk.
type ChunkReceived struct {
	Data []byte
	Num  int
}

// WorkerDown reports termination of a monitored worker. Reason is nil for a
// clean exit. Triggers HandleDown.
type WorkerDown struct {
	ID     WorkerID
	Reason error
}

func (SnapshotWritten) event() {}
func (ChunkReceived) event()   {}
func (WorkerDown) event()      {}

// Effect describes a side effect the manager wants performed. The manager
// only emits descriptions; an external dispatcher realizes them.
type Effect interface {
	effect()
}

// MonitorWorker asks the dispatcher to watch the given worker and post a
// WorkerDown event to the participant's inbox when it terminates.
type MonitorWorker struct {
	Worker *Worker
}

func (MonitorWorker) effect() {}

// Monitor is the default dispatcher realization of a MonitorWorker effect.
// It posts WorkerDown to inbox once the worker terminates. Because the
// worker posts SnapshotWritten to the same inbox before signalling done,
// channel ordering guarantees the completion event is dequeued first on the
// success path.
func Monitor(w *Worker, inbox chan<- Event) {
	go func() {
		err := <-w.Done()
		inbox <- WorkerDown{ID: w.ID(), Reason: err}
	}()
}

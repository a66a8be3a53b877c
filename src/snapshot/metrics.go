package snapshot

import "expvar"

var (
	snapshotsWrittenVar   = expvar.NewInt("snapshotsWritten")
	snapshotsInstalledVar = expvar.NewInt("snapshotsInstalled")
	workerFailuresVar     = expvar.NewInt("snapshotWorkerFailures")
	chunksAcceptedVar     = expvar.NewInt("snapshotChunksAccepted")
)

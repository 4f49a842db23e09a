package indexer

// State is the phase of an ingestion run.
type State int32

// Run states. A run moves Scanning -> Chunking -> Done, stepping into
// Submitting whenever a batch is flushed; any unrecovered failure ends in Failed.
const (
	StateIdle State = iota
	StateScanning
	StateChunking
	StateSubmitting
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateChunking:
		return "chunking"
	case StateSubmitting:
		return "submitting"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

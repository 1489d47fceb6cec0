package domain

// ProgressEventKind is one of the two signals the engine sends to the host.
type ProgressEventKind string

const (
	ProgressOpenDialog  ProgressEventKind = "open_progress_dialog"
	ProgressCloseDialog ProgressEventKind = "close_progress_dialog"
)

// ProgressEvent is emitted around every blocking on-chain submission.
type ProgressEvent struct {
	Kind   ProgressEventKind `json:"kind"`
	TaskID string            `json:"task_id"`
}

// ProgressNotifier receives the open/close blocking-dialog signals. Calls are
// fire-and-forget; implementations must not block the engine.
type ProgressNotifier interface {
	Notify(event ProgressEvent)
}

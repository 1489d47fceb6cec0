package domain

import "time"

// TaskStatus is the coarse lifecycle state of a task.
type TaskStatus string

const (
	TaskCreated   TaskStatus = "created"
	TaskRunning   TaskStatus = "running"
	TaskSucceeded TaskStatus = "succeeded"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are possible.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskSucceeded || s == TaskFailed || s == TaskCancelled
}

// TaskSnapshot is an immutable copy of a task's state at one instant.
type TaskSnapshot struct {
	ID         string       `json:"id"`
	Request    TradeRequest `json:"request"`
	Status     TaskStatus   `json:"status"`
	Stages     []string     `json:"stages"`
	StageIndex int          `json:"stage_index"`
	TxHash     string       `json:"tx_hash,omitempty"`
	Reason     string       `json:"reason,omitempty"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// CurrentStage returns the name of the active stage, or "" before start.
func (s TaskSnapshot) CurrentStage() string {
	if s.StageIndex < 0 || s.StageIndex >= len(s.Stages) {
		return ""
	}
	return s.Stages[s.StageIndex]
}

// TradeSubmission is the envelope appended to StreamTrades for workers.
type TradeSubmission struct {
	TaskID      string       `json:"task_id"`
	Request     TradeRequest `json:"request"`
	SkipGas     bool         `json:"skip_gas"`
	SubmittedAt time.Time    `json:"submitted_at"`
}

package model

// WorkerStatus is the worker's coarse-grained activity flag.
type WorkerStatus string

const (
	WorkerIdle      WorkerStatus = "idle"
	WorkerExecuting WorkerStatus = "executing"
)

// MutexStatus is the mutex's coarse-grained hold flag.
type MutexStatus string

const (
	MutexFree   MutexStatus = "free"
	MutexLocked MutexStatus = "locked"
)

// LastResult is the sanitized, JSON-friendly view of the most recently
// completed CommandResult.
type LastResult struct {
	Status      ResultStatus `json:"status"`
	Error       string       `json:"error,omitempty"`
	CompletedAt int64        `json:"completedAt,omitempty"`
}

// ExecutionStateView is a deep-copied, point-in-time read of the process-wide
// ExecutionState registry. It never carries secrets: CurrentCommand is
// sanitized at the source.
type ExecutionStateView struct {
	WorkerStatus   WorkerStatus       `json:"workerStatus"`
	QueueLength    int                `json:"queueLength"`
	MutexStatus    MutexStatus        `json:"mutexStatus"`
	CurrentCommand *SanitizedCommand  `json:"currentCommand"`
	LastResult     *LastResult        `json:"lastResult"`
	LastError      string             `json:"lastError,omitempty"`
	UptimeMs       int64              `json:"uptimeMs"`
}

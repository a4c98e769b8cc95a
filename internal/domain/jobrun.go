package domain

import "time"

const (
	RunCompleted = "completed"
	RunRetry     = "retry"
	RunDead      = "dead"
	RunLost      = "lost"
)

// JobRun 单次执行记录，每次领取对应一行
type JobRun struct {
	ID         int64     `json:"id"`
	JobID      string    `json:"job_id"`
	Queue      string    `json:"queue"`
	DedupKey   string    `json:"dedup_key"`
	WorkerID   string    `json:"worker_id"`
	Attempt    int       `json:"attempt"`
	Outcome    string    `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

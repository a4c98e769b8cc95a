package domain

import (
	"encoding/json"
	"time"
)

type JobState string

const (
	JobQueued    JobState = "queued"
	JobDelayed   JobState = "delayed"
	JobActive    JobState = "active"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

const (
	ActionCreated = "created"
	ActionUpdated = "updated"
)

// EntityTask 目前唯一接入流水线的实体
const EntityTask = "task"

// JobPayload 入队消息体，租户上下文随消息显式传递
type JobPayload struct {
	Entity     string          `json:"entity" validate:"required,oneof=task"`
	EntityID   int64           `json:"entity_id" validate:"required,gt=0"`
	Action     string          `json:"action" validate:"required,oneof=created updated"`
	CompanyID  int64           `json:"company_id"`
	Snapshot   json.RawMessage `json:"snapshot,omitempty"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// RetryPolicy 重试策略：指数退避
type RetryPolicy struct {
	Attempts    int
	BackoffBase time.Duration
}

type Job struct {
	ID          string        `json:"id"`
	DedupKey    string        `json:"dedup_key"`
	Payload     JobPayload    `json:"payload"`
	State       JobState      `json:"state"`
	Attempts    int           `json:"attempts"`
	MaxAttempts int           `json:"max_attempts"`
	BackoffBase time.Duration `json:"backoff_base"`
	Worker      string        `json:"worker,omitempty"`
	Stalled     bool          `json:"stalled"`
	LastError   string        `json:"last_error,omitempty"`
	EnqueuedAt  time.Time     `json:"enqueued_at"`
	FinishedAt  *time.Time    `json:"finished_at,omitempty"`
}

// ProcessResult 单个任务流水线的执行结果
type ProcessResult struct {
	Success          bool  `json:"success"`
	EntityID         int64 `json:"entity_id"`
	ProcessingTimeMs int64 `json:"processing_time_ms"`
}

package domain

import "time"

type WatcherType string

const (
	WatcherCreator  WatcherType = "CREATOR"
	WatcherAssignee WatcherType = "ASSIGNEE"
	WatcherWatcher  WatcherType = "WATCHER"
)

// Watcher (task_id, account_id) 唯一
type Watcher struct {
	TaskID    int64       `json:"task_id"`
	AccountID string      `json:"account_id"`
	Type      WatcherType `json:"type"`
	CreatedAt time.Time   `json:"created_at"`
}

// DiscussionMessage 只追加，不修改
type DiscussionMessage struct {
	ID           int64     `json:"id"`
	DiscussionID string    `json:"discussion_id"`
	Module       string    `json:"module"`
	TargetID     string    `json:"target_id"`
	Title        string    `json:"title"`
	Content      string    `json:"content"`
	Activity     string    `json:"activity"`
	ActorID      string    `json:"actor_id"`
	CreatedAt    time.Time `json:"created_at"`
}

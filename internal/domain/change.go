package domain

import (
	"encoding/json"
	"time"
)

const (
	OpInsert = "insert"
	OpUpdate = "update"
)

// ChangeNotification 变更流推送的原始信号，不落库
type ChangeNotification struct {
	Schema    string          `json:"schema"`
	Table     string          `json:"table"`
	Operation string          `json:"operation"`
	Before    json.RawMessage `json:"old,omitempty"`
	After     json.RawMessage `json:"new"`
}

const (
	ChangeCreate = "create"
	ChangeUpdate = "update"
	ChangeDelete = "delete"
)

// ChangeEvent 处理完成后的规范化事件，供实时推送使用
type ChangeEvent struct {
	Entity          string    `json:"entity"`
	Action          string    `json:"action"`
	EntityID        int64     `json:"entity_id"`
	Snapshot        *Task     `json:"snapshot"`
	PreviousLane    string    `json:"previous_lane,omitempty"`
	AffectedUserIDs []string  `json:"affected_user_ids"`
	Timestamp       time.Time `json:"timestamp"`
}

// FieldChange 单个字段的前后值，nil 表示空
type FieldChange struct {
	Field       string  `json:"field" binding:"required"`
	DisplayName *string `json:"display_name,omitempty"`
	OldValue    any     `json:"old_value"`
	NewValue    any     `json:"new_value"`
}

package domain

import (
	"time"
)

const (
	TaskTypeTask     = "task"
	TaskTypeApproval = "approval"

	// LaneDone 工作流终态
	LaneDone = "DONE"
)

type Task struct {
	ID            int64      `json:"id"`             // 任务ID
	CompanyID     int64      `json:"company_id"`     // 租户（公司）ID
	Title         string     `json:"title"`          // 标题
	Description   string     `json:"description"`    // 描述
	CreatedBy     string     `json:"created_by"`     // 创建人账号ID
	AssignedTo    *string    `json:"assigned_to"`    // 负责人账号ID，可为空
	ProjectID     *int64     `json:"project_id"`     // 所属项目
	PriorityLevel int        `json:"priority_level"` // 优先级，0 表示未设置
	Difficulty    int        `json:"difficulty"`     // 难度，0 表示未设置
	DueDate       *time.Time `json:"due_date"`       // 截止日期
	BoardLane     string     `json:"board_lane"`     // 工作流状态
	Type          string     `json:"type"`           // task/approval
	Tags          []string   `json:"tags"`           // 标签
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Assignee 返回负责人，未分配时为空串
func (t *Task) Assignee() string {
	if t.AssignedTo == nil {
		return ""
	}
	return *t.AssignedTo
}

package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/gtplusnet/ante-official-sub001/internal/db"
	"github.com/gtplusnet/ante-official-sub001/internal/domain"
	"github.com/gtplusnet/ante-official-sub001/internal/errs"
)

const tasksTable = "tasks"

var taskColumns = []string{
	"id", "company_id", "title", "description", "created_by", "assigned_to", "project_id",
	"priority_level", "difficulty", "due_date", "board_lane", "type", "tags", "created_at", "updated_at",
}

type TaskRepo struct {
	*db.Postgres
}

func NewTaskRepo(pg *db.Postgres) *TaskRepo {
	return &TaskRepo{pg}
}

// GetByID 根据任务 ID 查询完整的任务信息；不存在时返回 errs.ErrEntityNotFound
func (r *TaskRepo) GetByID(ctx context.Context, id int64) (*domain.Task, error) {
	sql, args, err := r.Builder.
		Select(taskColumns...).
		From(tasksTable).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("TaskRepo - GetByID - r.Builder.ToSql: %w", err)
	}

	var t domain.Task
	err = r.GetExecutor(ctx).QueryRow(ctx, sql, args...).Scan(
		&t.ID, &t.CompanyID, &t.Title, &t.Description, &t.CreatedBy, &t.AssignedTo, &t.ProjectID,
		&t.PriorityLevel, &t.Difficulty, &t.DueDate, &t.BoardLane, &t.Type, &t.Tags, &t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrEntityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("TaskRepo - GetByID - Scan: %w", err)
	}
	return &t, nil
}

// Insert 新建任务，回填 id 与时间戳
func (r *TaskRepo) Insert(ctx context.Context, t *domain.Task) error {
	if t.Tags == nil {
		t.Tags = []string{}
	}
	if t.BoardLane == "" {
		t.BoardLane = "BACKLOG"
	}
	if t.Type == "" {
		t.Type = domain.TaskTypeTask
	}
	sql, args, err := r.Builder.
		Insert(tasksTable).
		Columns(
			"company_id", "title", "description", "created_by", "assigned_to", "project_id",
			"priority_level", "difficulty", "due_date", "board_lane", "type", "tags",
		).
		Values(
			t.CompanyID, t.Title, t.Description, t.CreatedBy, t.AssignedTo, t.ProjectID,
			t.PriorityLevel, t.Difficulty, t.DueDate, t.BoardLane, t.Type, t.Tags,
		).
		Suffix("RETURNING id, created_at, updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("TaskRepo - Insert - r.Builder.ToSql: %w", err)
	}

	if err := r.GetExecutor(ctx).QueryRow(ctx, sql, args...).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return fmt.Errorf("TaskRepo - Insert - Scan: %w", err)
	}
	return nil
}

// UpdateLane 更新工作流状态
func (r *TaskRepo) UpdateLane(ctx context.Context, id int64, lane string) error {
	sql, args, err := r.Builder.
		Update(tasksTable).
		Set("board_lane", lane).
		Set("updated_at", squirrel.Expr("NOW()")).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("TaskRepo - UpdateLane - r.Builder.ToSql: %w", err)
	}
	tag, err := r.GetExecutor(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("TaskRepo - UpdateLane - Exec: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrEntityNotFound
	}
	return nil
}

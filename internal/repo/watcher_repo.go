package repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"

	"github.com/gtplusnet/ante-official-sub001/internal/db"
	"github.com/gtplusnet/ante-official-sub001/internal/domain"
)

const watchersTable = "task_watchers"

type WatcherRepo struct {
	*db.Postgres
}

func NewWatcherRepo(pg *db.Postgres) *WatcherRepo {
	return &WatcherRepo{pg}
}

// Replace 删除 (task, account) 已有记录后写入新记录
// 写入使用 ON CONFLICT 兜底，并发同步同一对时不会产生重复行
func (r *WatcherRepo) Replace(ctx context.Context, w domain.Watcher) error {
	return r.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := r.Delete(ctx, w.TaskID, w.AccountID); err != nil {
			return err
		}
		return r.upsert(ctx, w)
	})
}

func (r *WatcherRepo) upsert(ctx context.Context, w domain.Watcher) error {
	sql, args, err := r.Builder.
		Insert(watchersTable).
		Columns("task_id", "account_id", "watcher_type").
		Values(w.TaskID, w.AccountID, string(w.Type)).
		Suffix("ON CONFLICT (task_id, account_id) DO UPDATE SET watcher_type = EXCLUDED.watcher_type").
		ToSql()
	if err != nil {
		return fmt.Errorf("WatcherRepo - upsert - r.Builder.ToSql: %w", err)
	}
	if _, err := r.GetExecutor(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("WatcherRepo - upsert - Exec: %w", err)
	}
	return nil
}

func (r *WatcherRepo) Delete(ctx context.Context, taskID int64, accountID string) error {
	sql, args, err := r.Builder.
		Delete(watchersTable).
		Where(squirrel.Eq{"task_id": taskID, "account_id": accountID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("WatcherRepo - Delete - r.Builder.ToSql: %w", err)
	}
	if _, err := r.GetExecutor(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("WatcherRepo - Delete - Exec: %w", err)
	}
	return nil
}

// DeleteRoleExcept 删除某角色下除 keep 之外的所有记录，用于改派后移除旧负责人
func (r *WatcherRepo) DeleteRoleExcept(ctx context.Context, taskID int64, role domain.WatcherType, keep string) (int64, error) {
	q := r.Builder.
		Delete(watchersTable).
		Where(squirrel.Eq{"task_id": taskID, "watcher_type": string(role)})
	if keep != "" {
		q = q.Where(squirrel.NotEq{"account_id": keep})
	}
	sql, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("WatcherRepo - DeleteRoleExcept - r.Builder.ToSql: %w", err)
	}
	tag, err := r.GetExecutor(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("WatcherRepo - DeleteRoleExcept - Exec: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *WatcherRepo) ListByTask(ctx context.Context, taskID int64) ([]domain.Watcher, error) {
	sql, args, err := r.Builder.
		Select("task_id", "account_id", "watcher_type", "created_at").
		From(watchersTable).
		Where(squirrel.Eq{"task_id": taskID}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("WatcherRepo - ListByTask - r.Builder.ToSql: %w", err)
	}
	rows, err := r.GetExecutor(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("WatcherRepo - ListByTask - Query: %w", err)
	}
	defer rows.Close()

	var out []domain.Watcher
	for rows.Next() {
		var w domain.Watcher
		var typ string
		if err := rows.Scan(&w.TaskID, &w.AccountID, &typ, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("WatcherRepo - ListByTask - Scan: %w", err)
		}
		w.Type = domain.WatcherType(typ)
		out = append(out, w)
	}
	return out, rows.Err()
}

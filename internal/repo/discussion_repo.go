package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/gtplusnet/ante-official-sub001/internal/db"
	"github.com/gtplusnet/ante-official-sub001/internal/domain"
)

const (
	discussionsTable        = "discussions"
	discussionMessagesTable = "discussion_messages"
	discussionWatchersTable = "discussion_watchers"
)

// DiscussionRepo 讨论串：消息只追加
type DiscussionRepo struct {
	*db.Postgres
}

func NewDiscussionRepo(pg *db.Postgres) *DiscussionRepo {
	return &DiscussionRepo{pg}
}

// CreateMessage 不存在讨论串时先创建，再追加一条消息，返回消息 id
func (r *DiscussionRepo) CreateMessage(ctx context.Context, companyID int64, m domain.DiscussionMessage) (int64, error) {
	var id int64
	err := r.WithinTransaction(ctx, func(ctx context.Context) error {
		sql, args, err := r.Builder.
			Insert(discussionsTable).
			Columns("id", "module", "target_id", "title", "company_id").
			Values(m.DiscussionID, m.Module, m.TargetID, m.Title, companyID).
			Suffix("ON CONFLICT (id) DO NOTHING").
			ToSql()
		if err != nil {
			return fmt.Errorf("DiscussionRepo - CreateMessage - thread ToSql: %w", err)
		}
		if _, err := r.GetExecutor(ctx).Exec(ctx, sql, args...); err != nil {
			return fmt.Errorf("DiscussionRepo - CreateMessage - thread Exec: %w", err)
		}

		sql, args, err = r.Builder.
			Insert(discussionMessagesTable).
			Columns("discussion_id", "content", "activity", "actor_id").
			Values(m.DiscussionID, m.Content, m.Activity, m.ActorID).
			Suffix("RETURNING id").
			ToSql()
		if err != nil {
			return fmt.Errorf("DiscussionRepo - CreateMessage - message ToSql: %w", err)
		}
		if err := r.GetExecutor(ctx).QueryRow(ctx, sql, args...).Scan(&id); err != nil {
			return fmt.Errorf("DiscussionRepo - CreateMessage - message Scan: %w", err)
		}
		return nil
	})
	return id, err
}

// Title 讨论串标题；不存在时返回空串
func (r *DiscussionRepo) Title(ctx context.Context, discussionID string) (string, error) {
	sql, args, err := r.Builder.
		Select("title").
		From(discussionsTable).
		Where(squirrel.Eq{"id": discussionID}).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("DiscussionRepo - Title - r.Builder.ToSql: %w", err)
	}
	var title string
	err = r.GetExecutor(ctx).QueryRow(ctx, sql, args...).Scan(&title)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("DiscussionRepo - Title - Scan: %w", err)
	}
	return title, nil
}

// SyncWatchers 添加关注人，已存在的忽略
func (r *DiscussionRepo) SyncWatchers(ctx context.Context, discussionID string, accountIDs []string) error {
	if len(accountIDs) == 0 {
		return nil
	}
	q := r.Builder.
		Insert(discussionWatchersTable).
		Columns("discussion_id", "account_id")
	for _, a := range accountIDs {
		q = q.Values(discussionID, a)
	}
	sql, args, err := q.Suffix("ON CONFLICT (discussion_id, account_id) DO NOTHING").ToSql()
	if err != nil {
		return fmt.Errorf("DiscussionRepo - SyncWatchers - r.Builder.ToSql: %w", err)
	}
	if _, err := r.GetExecutor(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("DiscussionRepo - SyncWatchers - Exec: %w", err)
	}
	return nil
}

func (r *DiscussionRepo) ListMessages(ctx context.Context, discussionID string) ([]domain.DiscussionMessage, error) {
	sql, args, err := r.Builder.
		Select("m.id", "m.discussion_id", "d.module", "d.target_id", "d.title", "m.content", "m.activity", "m.actor_id", "m.created_at").
		From(discussionMessagesTable + " m").
		Join(discussionsTable + " d ON d.id = m.discussion_id").
		Where(squirrel.Eq{"m.discussion_id": discussionID}).
		OrderBy("m.id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("DiscussionRepo - ListMessages - r.Builder.ToSql: %w", err)
	}
	rows, err := r.GetExecutor(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("DiscussionRepo - ListMessages - Query: %w", err)
	}
	defer rows.Close()

	var out []domain.DiscussionMessage
	for rows.Next() {
		var m domain.DiscussionMessage
		if err := rows.Scan(&m.ID, &m.DiscussionID, &m.Module, &m.TargetID, &m.Title, &m.Content, &m.Activity, &m.ActorID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("DiscussionRepo - ListMessages - Scan: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *DiscussionRepo) ListWatchers(ctx context.Context, discussionID string) ([]string, error) {
	sql, args, err := r.Builder.
		Select("account_id").
		From(discussionWatchersTable).
		Where(squirrel.Eq{"discussion_id": discussionID}).
		OrderBy("account_id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("DiscussionRepo - ListWatchers - r.Builder.ToSql: %w", err)
	}
	rows, err := r.GetExecutor(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("DiscussionRepo - ListWatchers - Query: %w", err)
	}
	defer rows.Close()
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

package repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"

	"github.com/gtplusnet/ante-official-sub001/internal/db"
	"github.com/gtplusnet/ante-official-sub001/internal/domain"
)

const jobRunsTable = "job_runs"

type JobRunRepo struct {
	*db.Postgres
}

func NewJobRunRepo(pg *db.Postgres) *JobRunRepo {
	return &JobRunRepo{pg}
}

// Record 写入一条执行记录
func (r *JobRunRepo) Record(ctx context.Context, run domain.JobRun) error {
	sql, args, err := r.Builder.
		Insert(jobRunsTable).
		Columns("job_id", "queue", "dedup_key", "worker_id", "attempt", "outcome", "error", "started_at", "finished_at").
		Values(run.JobID, run.Queue, run.DedupKey, run.WorkerID, run.Attempt, run.Outcome, run.Error, run.StartedAt, run.FinishedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("JobRunRepo - Record - r.Builder.ToSql: %w", err)
	}
	if _, err := r.GetExecutor(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("JobRunRepo - Record - Exec: %w", err)
	}
	return nil
}

// ListByJob 按尝试次数升序返回某个任务的全部执行记录
func (r *JobRunRepo) ListByJob(ctx context.Context, jobID string) ([]domain.JobRun, error) {
	sql, args, err := r.Builder.
		Select("id", "job_id", "queue", "dedup_key", "worker_id", "attempt", "outcome", "error", "started_at", "finished_at").
		From(jobRunsTable).
		Where(squirrel.Eq{"job_id": jobID}).
		OrderBy("attempt", "id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("JobRunRepo - ListByJob - r.Builder.ToSql: %w", err)
	}
	rows, err := r.GetExecutor(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("JobRunRepo - ListByJob - Query: %w", err)
	}
	defer rows.Close()

	runs := []domain.JobRun{}
	for rows.Next() {
		var run domain.JobRun
		if err := rows.Scan(&run.ID, &run.JobID, &run.Queue, &run.DedupKey, &run.WorkerID,
			&run.Attempt, &run.Outcome, &run.Error, &run.StartedAt, &run.FinishedAt); err != nil {
			return nil, fmt.Errorf("JobRunRepo - ListByJob - Scan: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("JobRunRepo - ListByJob - rows.Err: %w", err)
	}
	return runs, nil
}

// Package queue 提供基于 Redis 的持久化任务队列
// 任务状态: queued(ready List) -> active(ZSET, 截止时间) -> completed / delayed / failed(dlq)
// 去重键 dedup:{key} 在任务处于非终态期间存在，终态时释放
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/redis/go-redis/v9"

	"github.com/gtplusnet/ante-official-sub001/internal/domain"
	"github.com/gtplusnet/ante-official-sub001/internal/errs"
)

// ReadyKey 生成 Redis 中队列就绪状态的 key
// 返回:
//
//	"queue:{queueName}:ready"，Redis List，存储待处理任务 id
func ReadyKey(queueName string) string {
	return "queue:" + queueName + ":ready"
}

// DelayedKey 生成延时队列的 Redis key
// 说明:
//
//	延时队列使用 ZSET，Score 为到期时间的 Unix 毫秒
//	DelayedMover 会将到期任务移动到就绪队列
func DelayedKey(queueName string) string {
	return "queue:" + queueName + ":delayed"
}

// ActiveKey 处理中任务，Score 为卡死判定截止时间(Unix 毫秒)
func ActiveKey(queueName string) string {
	return "queue:" + queueName + ":active"
}

func CompletedKey(queueName string) string {
	return "queue:" + queueName + ":completed"
}

// DLQKey 生成死信队列的 Redis key
// 说明:
//
//	死信队列使用 ZSET，Score 为失败时间，便于按保留窗口清理
//	可用于任务审计、人工介入处理或重放到就绪队列
func DLQKey(queueName string) string {
	return "queue:" + queueName + ":dlq"
}

func jobPrefix(queueName string) string {
	return "queue:" + queueName + ":job:"
}

func dedupPrefix(queueName string) string {
	return "queue:" + queueName + ":dedup:"
}

// JobKey 任务详情 Hash
func JobKey(queueName, id string) string {
	return jobPrefix(queueName) + id
}

func DedupKey(queueName, key string) string {
	return dedupPrefix(queueName) + key
}

// Options 队列保留策略
type Options struct {
	StallTimeout       time.Duration
	CompletedKeep      int
	CompletedRetention time.Duration
	FailedRetention    time.Duration
}

// Queue 单个命名队列的操作入口
type Queue struct {
	rdb   *redis.Client
	name  string
	opts  Options
	clock clock.Clock
}

func New(rdb *redis.Client, name string, opts Options, clk clock.Clock) *Queue {
	if clk == nil {
		clk = clock.WallClock
	}
	if opts.StallTimeout <= 0 {
		opts.StallTimeout = 30 * time.Second
	}
	if opts.CompletedKeep <= 0 {
		opts.CompletedKeep = 100
	}
	return &Queue{rdb: rdb, name: name, opts: opts, clock: clk}
}

// Named 返回同一连接与策略下的另一个队列
func (q *Queue) Named(name string) *Queue {
	return &Queue{rdb: q.rdb, name: name, opts: q.opts, clock: q.clock}
}

func (q *Queue) Name() string { return q.name }

func (q *Queue) nowMs() int64 { return q.clock.Now().UnixMilli() }

// Enqueue 按去重键入队
// 参数:
//
//	dedupKey: 去重键，同一键在任务未终结前只会存在一个任务
//	payload: 任务负载
//	policy: 最大尝试次数与退避基数
//
// 返回:
//
//	string: 新任务 id；重复时返回已存在任务的 id
//	error: 重复时返回 errs.ErrDuplicateJob
func (q *Queue) Enqueue(ctx context.Context, dedupKey string, payload domain.JobPayload, policy domain.RetryPolicy) (string, error) {
	if policy.Attempts <= 0 {
		policy.Attempts = 1
	}
	if payload.EnqueuedAt.IsZero() {
		payload.EnqueuedAt = q.clock.Now().UTC()
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	id := uuid.NewString()
	res, err := enqueueScript.Run(ctx, q.rdb,
		[]string{DedupKey(q.name, dedupKey), JobKey(q.name, id), ReadyKey(q.name)},
		id, dedupKey, string(raw), policy.Attempts, policy.BackoffBase.Milliseconds(), q.nowMs(),
	).Slice()
	if err != nil {
		return "", fmt.Errorf("enqueue: %w", err)
	}
	if len(res) != 2 {
		return "", fmt.Errorf("enqueue: unexpected reply %v", res)
	}
	existing, _ := res[1].(string)
	if n, _ := res[0].(int64); n == 0 {
		return existing, errs.ErrDuplicateJob
	}
	return existing, nil
}

// Claim 取出一个就绪任务并标记为 active，owner 为本次认领的唯一标识
// 队列为空时返回 (nil, nil)
func (q *Queue) Claim(ctx context.Context, owner string) (*domain.Job, error) {
	deadline := q.clock.Now().Add(q.opts.StallTimeout).UnixMilli()
	id, err := claimScript.Run(ctx, q.rdb,
		[]string{ReadyKey(q.name), ActiveKey(q.name)},
		jobPrefix(q.name), owner, deadline,
	).Text()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim: %w", err)
	}
	return q.Get(ctx, id)
}

// Extend 续期卡死截止时间；任务已不属于 owner 时返回 errs.ErrJobNotActive
func (q *Queue) Extend(ctx context.Context, id, owner string) error {
	deadline := q.clock.Now().Add(q.opts.StallTimeout).UnixMilli()
	n, err := extendScript.Run(ctx, q.rdb,
		[]string{ActiveKey(q.name), JobKey(q.name, id)},
		id, owner, deadline,
	).Int()
	if err != nil {
		return fmt.Errorf("extend: %w", err)
	}
	if n == 0 {
		return errs.ErrJobNotActive
	}
	return nil
}

// Ack 标记完成，释放去重键，并裁剪 completed 集合
func (q *Queue) Ack(ctx context.Context, id, owner string) error {
	n, err := ackScript.Run(ctx, q.rdb,
		[]string{ActiveKey(q.name), JobKey(q.name, id), CompletedKey(q.name)},
		id, owner, q.nowMs(), q.opts.CompletedKeep, jobPrefix(q.name), dedupPrefix(q.name),
	).Int()
	if err != nil {
		return fmt.Errorf("ack: %w", err)
	}
	if n == 0 {
		return errs.ErrJobNotActive
	}
	return nil
}

// NackResult 失败处理结果
type NackResult struct {
	Dead     bool
	Attempts int
	Delay    time.Duration
}

// Nack 记录失败；未达到最大次数时按指数退避进入 delayed，否则进入死信队列
// permanent 为 true 时直接进入死信队列
func (q *Queue) Nack(ctx context.Context, id, owner string, cause error, permanent bool) (NackResult, error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	perm := "0"
	if permanent {
		perm = "1"
	}
	res, err := nackScript.Run(ctx, q.rdb,
		[]string{ActiveKey(q.name), JobKey(q.name, id), DelayedKey(q.name), DLQKey(q.name)},
		id, owner, q.nowMs(), msg, perm, dedupPrefix(q.name),
	).Int64Slice()
	if err != nil {
		return NackResult{}, fmt.Errorf("nack: %w", err)
	}
	if len(res) != 3 {
		return NackResult{}, fmt.Errorf("nack: unexpected reply %v", res)
	}
	if res[0] < 0 {
		return NackResult{}, errs.ErrJobNotActive
	}
	return NackResult{
		Dead:     res[0] == 0,
		Attempts: int(res[1]),
		Delay:    time.Duration(res[2]) * time.Millisecond,
	}, nil
}

// MoveDueDelayedToReadyAtomic 将到期的延时任务原子地移动到就绪队列
// 参数:
//
//	limit: 单次最多移动的任务数量，用于控制批处理大小
//
// 返回:
//
//	int: 实际移动的任务数量
func (q *Queue) MoveDueDelayedToReadyAtomic(ctx context.Context, limit int) (int, error) {
	n, err := moveDueScript.Run(ctx, q.rdb,
		[]string{DelayedKey(q.name), ReadyKey(q.name)},
		q.nowMs(), limit, jobPrefix(q.name),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("move due delayed: %w", err)
	}
	return n, nil
}

// RequeueStalled 将超过截止时间的 active 任务放回就绪队列，不计入尝试次数
func (q *Queue) RequeueStalled(ctx context.Context, limit int) (int, error) {
	n, err := requeueStalledScript.Run(ctx, q.rdb,
		[]string{ActiveKey(q.name), ReadyKey(q.name)},
		q.nowMs(), limit, jobPrefix(q.name),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("requeue stalled: %w", err)
	}
	return n, nil
}

// ListDLQ 查看死信队列中的任务，按失败时间升序，不会移除任务
// 索引语义与 ZRANGE 相同，支持负数索引
func (q *Queue) ListDLQ(ctx context.Context, start, stop int64) ([]domain.Job, error) {
	ids, err := q.rdb.ZRange(ctx, DLQKey(q.name), start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("list dlq: %w", err)
	}
	return q.getMany(ctx, ids)
}

// ReplayDLQ 将最早的 count 个死信任务重新入队，尝试次数清零
// 去重键已被新任务占用时丢弃该死信任务
func (q *Queue) ReplayDLQ(ctx context.Context, count int) (int, error) {
	if count <= 0 {
		return 0, nil
	}
	n, err := replayDLQScript.Run(ctx, q.rdb,
		[]string{DLQKey(q.name), ReadyKey(q.name)},
		count, jobPrefix(q.name), dedupPrefix(q.name),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("replay dlq: %w", err)
	}
	return n, nil
}

// Purge 按保留窗口清理 completed 与 dlq，返回删除的任务数
func (q *Queue) Purge(ctx context.Context) (int, error) {
	now := q.clock.Now()
	total := 0
	windows := []struct {
		key       string
		retention time.Duration
	}{
		{CompletedKey(q.name), q.opts.CompletedRetention},
		{DLQKey(q.name), q.opts.FailedRetention},
	}
	for _, w := range windows {
		if w.retention <= 0 {
			continue
		}
		n, err := purgeScript.Run(ctx, q.rdb,
			[]string{w.key},
			now.Add(-w.retention).UnixMilli(), jobPrefix(q.name),
		).Int()
		if err != nil {
			return total, fmt.Errorf("purge %s: %w", w.key, err)
		}
		total += n
	}
	return total, nil
}

// Stats 各状态的任务数量
func (q *Queue) Stats(ctx context.Context) (map[domain.JobState]int64, error) {
	pipe := q.rdb.Pipeline()
	ready := pipe.LLen(ctx, ReadyKey(q.name))
	delayed := pipe.ZCard(ctx, DelayedKey(q.name))
	active := pipe.ZCard(ctx, ActiveKey(q.name))
	completed := pipe.ZCard(ctx, CompletedKey(q.name))
	failed := pipe.ZCard(ctx, DLQKey(q.name))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	return map[domain.JobState]int64{
		domain.JobQueued:    ready.Val(),
		domain.JobDelayed:   delayed.Val(),
		domain.JobActive:    active.Val(),
		domain.JobCompleted: completed.Val(),
		domain.JobFailed:    failed.Val(),
	}, nil
}

// Get 按 id 读取任务；不存在时返回 errs.ErrJobNotFound
func (q *Queue) Get(ctx context.Context, id string) (*domain.Job, error) {
	fields, err := q.rdb.HGetAll(ctx, JobKey(q.name, id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if len(fields) == 0 {
		return nil, errs.ErrJobNotFound
	}
	return decodeJob(fields)
}

func (q *Queue) getMany(ctx context.Context, ids []string) ([]domain.Job, error) {
	if len(ids) == 0 {
		return []domain.Job{}, nil
	}
	pipe := q.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, JobKey(q.name, id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("get jobs: %w", err)
	}
	jobs := make([]domain.Job, 0, len(ids))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		j, err := decodeJob(fields)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, nil
}

func decodeJob(f map[string]string) (*domain.Job, error) {
	j := &domain.Job{
		ID:        f["id"],
		DedupKey:  f["dedup_key"],
		State:     domain.JobState(f["state"]),
		Worker:    f["worker"],
		Stalled:   f["stalled"] == "1",
		LastError: f["last_error"],
	}
	if err := json.Unmarshal([]byte(f["payload"]), &j.Payload); err != nil {
		return nil, fmt.Errorf("decode job %s payload: %w", j.ID, err)
	}
	j.Attempts, _ = strconv.Atoi(f["attempts"])
	j.MaxAttempts, _ = strconv.Atoi(f["max_attempts"])
	if ms, err := strconv.ParseInt(f["backoff_base_ms"], 10, 64); err == nil {
		j.BackoffBase = time.Duration(ms) * time.Millisecond
	}
	if ms, err := strconv.ParseInt(f["enqueued_at"], 10, 64); err == nil {
		j.EnqueuedAt = time.UnixMilli(ms).UTC()
	}
	if ms, err := strconv.ParseInt(f["finished_at"], 10, 64); err == nil {
		t := time.UnixMilli(ms).UTC()
		j.FinishedAt = &t
	}
	return j, nil
}

// Connect 建立 Redis 连接
// 参数:
//
//	url: Redis 连接 URL，格式为 "redis://[:password@]host:port[/database]"
//
// 流程:
//  1. 解析 Redis URL 获取连接配置
//  2. 通过 PING 命令验证连接是否正常
//  3. 连接失败时自动关闭客户端并返回错误
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}
	return rdb, nil
}

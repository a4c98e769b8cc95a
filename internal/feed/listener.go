// Package feed 订阅主实体表的变更流，并把每条插入通知转换为一次去重入队
package feed

import (
	"bytes"
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/gtplusnet/ante-official-sub001/internal/domain"
	"github.com/gtplusnet/ante-official-sub001/internal/logger"
	"github.com/gtplusnet/ante-official-sub001/internal/metrics"
	"github.com/gtplusnet/ante-official-sub001/internal/service"
)

// WatchedFields 更新时只比较这些列：工作流状态与负责人
var WatchedFields = []string{"board_lane", "assigned_to"}

// DefaultEntities 表名 -> 实体名
var DefaultEntities = map[string]string{"tasks": domain.EntityTask}

// HandlerFunc 处理单条变更通知，不返回错误
type HandlerFunc func(ctx context.Context, n domain.ChangeNotification)

// Source 变更流来源：postgres LISTEN/NOTIFY 或 kafka(Debezium)
// Run 阻塞直到 ctx 取消
type Source interface {
	Run(ctx context.Context, handle HandlerFunc) error
}

type ChangeEnqueuer interface {
	EnqueueChange(ctx context.Context, p domain.JobPayload) (service.EnqueueResult, error)
}

type Listener struct {
	jobs     ChangeEnqueuer
	schema   string
	entities map[string]string
	log      *zap.Logger
	metrics  *metrics.Metrics
}

func NewListener(jobs ChangeEnqueuer, schema string, log *zap.Logger, m *metrics.Metrics) *Listener {
	if schema == "" {
		schema = "public"
	}
	return &Listener{
		jobs:     jobs,
		schema:   schema,
		entities: DefaultEntities,
		log:      log,
		metrics:  m,
	}
}

// Run 从 src 消费直到 ctx 取消
func (l *Listener) Run(ctx context.Context, src Source) error {
	logger.Info(ctx, l.log, "change feed listener started", zap.String("schema", l.schema))
	return src.Run(ctx, l.Handle)
}

// Handle 单条通知的处理；任何错误都只记录，不会中断订阅
func (l *Listener) Handle(ctx context.Context, n domain.ChangeNotification) {
	if n.Schema != "" && n.Schema != l.schema {
		return
	}
	entity, ok := l.entities[n.Table]
	if !ok {
		logger.Debug(ctx, l.log, "ignoring change on unwatched table", zap.String("table", n.Table))
		return
	}

	switch n.Operation {
	case domain.OpInsert:
		l.handleInsert(ctx, entity, n)
	case domain.OpUpdate:
		l.handleUpdate(ctx, entity, n)
	default:
		logger.Debug(ctx, l.log, "ignoring operation", zap.String("operation", n.Operation))
	}
}

type rowKeys struct {
	ID        int64 `json:"id"`
	CompanyID int64 `json:"company_id"`
}

func (l *Listener) handleInsert(ctx context.Context, entity string, n domain.ChangeNotification) {
	var row rowKeys
	if err := json.Unmarshal(n.After, &row); err != nil || row.ID == 0 {
		l.metrics.Notification(n.Operation, metrics.ResultError)
		logger.Warn(ctx, l.log, "insert notification without usable id",
			zap.String("table", n.Table),
			zap.Error(err),
		)
		return
	}

	res, err := l.jobs.EnqueueChange(ctx, domain.JobPayload{
		Entity:    entity,
		EntityID:  row.ID,
		Action:    domain.ActionCreated,
		CompanyID: row.CompanyID,
		Snapshot:  n.After,
	})
	if err != nil {
		l.metrics.Notification(n.Operation, metrics.ResultError)
		logger.Error(ctx, l.log, "failed to enqueue change",
			zap.String("entity", entity),
			zap.Int64("entity_id", row.ID),
			zap.Error(err),
		)
		return
	}
	if res.Duplicate {
		l.metrics.Notification(n.Operation, metrics.ResultDuplicate)
		return
	}
	l.metrics.Notification(n.Operation, metrics.ResultEnqueued)
	logger.Info(ctx, l.log, "change enqueued",
		zap.String("dedup_key", res.DedupKey),
		zap.String("job_id", res.JobID),
	)
}

// handleUpdate 关注字段变化时只记录日志，不入队
func (l *Listener) handleUpdate(ctx context.Context, entity string, n domain.ChangeNotification) {
	changed := ChangedFields(n.Before, n.After, WatchedFields)
	if len(changed) == 0 {
		l.metrics.Notification(n.Operation, "unchanged")
		return
	}
	var row rowKeys
	_ = json.Unmarshal(n.After, &row)
	l.metrics.Notification(n.Operation, "logged")
	logger.Info(ctx, l.log, "watched fields changed",
		zap.String("entity", entity),
		zap.Int64("entity_id", row.ID),
		zap.Strings("fields", changed),
	)
}

// ChangedFields 返回 before/after 中取值不同的字段；缺失按 null 处理
func ChangedFields(before, after json.RawMessage, fields []string) []string {
	var b, a map[string]json.RawMessage
	_ = json.Unmarshal(before, &b)
	_ = json.Unmarshal(after, &a)

	var changed []string
	for _, f := range fields {
		if !bytes.Equal(normalize(b[f]), normalize(a[f])) {
			changed = append(changed, f)
		}
	}
	return changed
}

func normalize(v json.RawMessage) []byte {
	if len(v) == 0 {
		return []byte("null")
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, v); err != nil {
		return v
	}
	return buf.Bytes()
}

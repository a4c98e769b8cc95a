package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	heartbeatPrefix = "worker:"
	heartbeatSuffix = ":heartbeat"
)

func heartbeatKey(workerID string) string {
	return heartbeatPrefix + workerID + heartbeatSuffix
}

// WorkerInfo 心跳键中保存的 worker 信息
type WorkerInfo struct {
	ID          string        `json:"id"`
	Queue       string        `json:"queue"`
	Concurrency int           `json:"concurrency"`
	StartedAt   time.Time     `json:"started_at"`
	TTL         time.Duration `json:"ttl_remaining,omitempty"`
}

// StartHeartbeat 周期刷新 Worker 心跳键（TTL=ttl，刷新间隔=interval）
func StartHeartbeat(ctx context.Context, rdb *redis.Client, info WorkerInfo, ttl, interval time.Duration) {
	raw, _ := json.Marshal(info)
	key := heartbeatKey(info.ID)

	tkr := time.NewTicker(interval)
	defer tkr.Stop()
	_ = rdb.Set(ctx, key, raw, ttl).Err()
	for {
		select {
		case <-ctx.Done():
			// 正常退出时立即下线
			_ = rdb.Del(context.WithoutCancel(ctx), key).Err()
			return
		case <-tkr.C:
			_ = rdb.Set(ctx, key, raw, ttl).Err()
		}
	}
}

// ListWorkers 列出心跳未过期的 worker，按 id 排序
func ListWorkers(ctx context.Context, rdb *redis.Client) ([]WorkerInfo, error) {
	var out []WorkerInfo
	iter := rdb.Scan(ctx, 0, heartbeatPrefix+"*"+heartbeatSuffix, 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		raw, err := rdb.Get(ctx, key).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get %s: %w", key, err)
		}
		var info WorkerInfo
		if err := json.Unmarshal(raw, &info); err != nil {
			info = WorkerInfo{ID: strings.TrimSuffix(strings.TrimPrefix(key, heartbeatPrefix), heartbeatSuffix)}
		}
		if ttl, err := rdb.TTL(ctx, key).Result(); err == nil && ttl > 0 {
			info.TTL = ttl
		}
		out = append(out, info)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan heartbeats: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

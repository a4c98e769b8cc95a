// Package lease 基于 Redis 的带持有者校验的租约，用于多实例下的周期任务互斥
package lease

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

func LeaseKey(name string) string {
	return "lease:" + name
}

var renewScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('PEXPIRE', KEYS[1], ARGV[2])
else
	return 0
end`)

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
else
	return 0
end`)

type Manager struct {
	rdb *redis.Client
}

func NewManager(rdb *redis.Client) *Manager {
	return &Manager{
		rdb: rdb,
	}
}

// Acquire 尝试获取租约（仅当不存在时成功），返回是否成功
func (m *Manager) Acquire(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	return m.rdb.SetNX(ctx, LeaseKey(name), owner, ttl).Result()
}

// Renew 仅当持有者匹配时续租，返回是否成功
func (m *Manager) Renew(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	n, err := renewScript.Run(ctx, m.rdb, []string{LeaseKey(name)}, owner, ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Release 仅当持有者匹配释放租约
func (m *Manager) Release(ctx context.Context, name, owner string) (bool, error) {
	n, err := releaseScript.Run(ctx, m.rdb, []string{LeaseKey(name)}, owner).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Hold 获取或续期租约：已持有则续期，否则尝试获取
// 周期任务每个 tick 调用一次，返回 true 表示本实例负责本轮
func (m *Manager) Hold(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	ok, err := m.Renew(ctx, name, owner, ttl)
	if err != nil || ok {
		return ok, err
	}
	return m.Acquire(ctx, name, owner, ttl)
}

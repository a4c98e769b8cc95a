package queue

import "github.com/redis/go-redis/v9"

// 所有状态迁移都在 Lua 中完成，保证多实例并发下的原子性
// 注意：job hash 的 key 由前缀 + id 在脚本内拼接，仅适用于单节点 Redis

// KEYS: dedup, job, ready
// ARGV: id, dedup_key, payload, max_attempts, backoff_base_ms, now_ms
var enqueueScript = redis.NewScript(`
local existing = redis.call('GET', KEYS[1])
if existing then
	return {0, existing}
end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('HSET', KEYS[2],
	'id', ARGV[1],
	'dedup_key', ARGV[2],
	'payload', ARGV[3],
	'state', 'queued',
	'attempts', '0',
	'max_attempts', ARGV[4],
	'backoff_base_ms', ARGV[5],
	'stalled', '0',
	'worker', '',
	'enqueued_at', ARGV[6])
redis.call('RPUSH', KEYS[3], ARGV[1])
return {1, ARGV[1]}
`)

// KEYS: ready, active
// ARGV: job_prefix, owner, deadline_ms
var claimScript = redis.NewScript(`
while true do
	local id = redis.call('LPOP', KEYS[1])
	if not id then
		return false
	end
	local jk = ARGV[1] .. id
	if redis.call('EXISTS', jk) == 1 then
		redis.call('ZADD', KEYS[2], ARGV[3], id)
		redis.call('HSET', jk, 'state', 'active', 'worker', ARGV[2])
		return id
	end
end
`)

// KEYS: active, job
// ARGV: id, owner, deadline_ms
var extendScript = redis.NewScript(`
if not redis.call('ZSCORE', KEYS[1], ARGV[1]) or redis.call('HGET', KEYS[2], 'worker') ~= ARGV[2] then
	return 0
end
redis.call('ZADD', KEYS[1], 'XX', ARGV[3], ARGV[1])
return 1
`)

// KEYS: active, job, completed
// ARGV: id, owner, now_ms, keep, job_prefix, dedup_prefix
var ackScript = redis.NewScript(`
if not redis.call('ZSCORE', KEYS[1], ARGV[1]) or redis.call('HGET', KEYS[2], 'worker') ~= ARGV[2] then
	return 0
end
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('HSET', KEYS[2], 'state', 'completed', 'finished_at', ARGV[3])
local dk = ARGV[6] .. redis.call('HGET', KEYS[2], 'dedup_key')
if redis.call('GET', dk) == ARGV[1] then
	redis.call('DEL', dk)
end
redis.call('ZADD', KEYS[3], ARGV[3], ARGV[1])
local keep = tonumber(ARGV[4])
local n = redis.call('ZCARD', KEYS[3])
if n > keep then
	local old = redis.call('ZRANGE', KEYS[3], 0, n - keep - 1)
	for _, oid in ipairs(old) do
		redis.call('DEL', ARGV[5] .. oid)
	end
	redis.call('ZREMRANGEBYRANK', KEYS[3], 0, n - keep - 1)
end
return 1
`)

// KEYS: active, job, delayed, dlq
// ARGV: id, owner, now_ms, error, permanent, dedup_prefix
// 返回 {result, attempts, delay_ms}；result: -1 非活跃, 0 死信, 1 延迟重试
var nackScript = redis.NewScript(`
if not redis.call('ZSCORE', KEYS[1], ARGV[1]) or redis.call('HGET', KEYS[2], 'worker') ~= ARGV[2] then
	return {-1, 0, 0}
end
redis.call('ZREM', KEYS[1], ARGV[1])
local attempts = redis.call('HINCRBY', KEYS[2], 'attempts', 1)
local maxAttempts = tonumber(redis.call('HGET', KEYS[2], 'max_attempts'))
local now = tonumber(ARGV[3])
redis.call('HSET', KEYS[2], 'last_error', ARGV[4], 'worker', '')
if ARGV[5] == '1' or attempts >= maxAttempts then
	redis.call('HSET', KEYS[2], 'state', 'failed', 'finished_at', ARGV[3])
	redis.call('ZADD', KEYS[4], ARGV[3], ARGV[1])
	local dk = ARGV[6] .. redis.call('HGET', KEYS[2], 'dedup_key')
	if redis.call('GET', dk) == ARGV[1] then
		redis.call('DEL', dk)
	end
	return {0, attempts, 0}
end
local delay = tonumber(redis.call('HGET', KEYS[2], 'backoff_base_ms'))
for i = 2, attempts do
	delay = delay * 2
end
redis.call('HSET', KEYS[2], 'state', 'delayed')
redis.call('ZADD', KEYS[3], now + delay, ARGV[1])
return {1, attempts, delay}
`)

// KEYS: delayed, ready
// ARGV: now_ms, limit, job_prefix
var moveDueScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, id in ipairs(ids) do
	redis.call('ZREM', KEYS[1], id)
	redis.call('HSET', ARGV[3] .. id, 'state', 'queued')
	redis.call('RPUSH', KEYS[2], id)
end
return #ids
`)

// KEYS: active, ready
// ARGV: now_ms, limit, job_prefix
var requeueStalledScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, id in ipairs(ids) do
	redis.call('ZREM', KEYS[1], id)
	redis.call('HSET', ARGV[3] .. id, 'state', 'queued', 'stalled', '1', 'worker', '')
	redis.call('RPUSH', KEYS[2], id)
end
return #ids
`)

// KEYS: dlq, ready
// ARGV: count, job_prefix, dedup_prefix
var replayDLQScript = redis.NewScript(`
local ids = redis.call('ZRANGE', KEYS[1], 0, tonumber(ARGV[1]) - 1)
local moved = 0
for _, id in ipairs(ids) do
	redis.call('ZREM', KEYS[1], id)
	local jk = ARGV[2] .. id
	local dkey = redis.call('HGET', jk, 'dedup_key')
	if dkey and redis.call('SET', ARGV[3] .. dkey, id, 'NX') then
		redis.call('HSET', jk, 'state', 'queued', 'attempts', '0', 'last_error', '', 'stalled', '0', 'worker', '')
		redis.call('HDEL', jk, 'finished_at')
		redis.call('RPUSH', KEYS[2], id)
		moved = moved + 1
	else
		redis.call('DEL', jk)
	end
end
return moved
`)

// KEYS: zset
// ARGV: cutoff_ms, job_prefix
var purgeScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for _, id in ipairs(ids) do
	redis.call('DEL', ARGV[2] .. id)
end
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
return #ids
`)

package queue

import "github.com/redis/go-redis/v9"

// KEYS: ready, job
// ARGV: id, name, payload, max_attempts, now, max_ready
var enqueueScript = redis.NewScript(`
local limit = tonumber(ARGV[6])
if limit > 0 and redis.call('LLEN', KEYS[1]) >= limit then
  return 0
end
redis.call('HSET', KEYS[2],
  'id', ARGV[1], 'name', ARGV[2], 'payload', ARGV[3],
  'attempts', 0, 'max_attempts', ARGV[4], 'state', 'enqueued',
  'last_error', '', 'created_at', ARGV[5], 'updated_at', ARGV[5])
redis.call('LPUSH', KEYS[1], ARGV[1])
return 1
`)

// KEYS: delayed, ready, processing, leases, dead
// ARGV: now, grace_deadline, job_prefix, batch
//
// Un id en processing sin lease es un job movido por BRPOPLPUSH que todavia
// no fue reclamado; recibe un lease de gracia en lugar de volver a ready.
// Un lease vencido cuenta como intento fallido: si ya no quedan intentos el
// job pasa a dead.
var maintainScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[4]))
for _, id in ipairs(due) do
  redis.call('ZREM', KEYS[1], id)
  redis.call('LPUSH', KEYS[2], id)
  redis.call('HSET', ARGV[3] .. id, 'state', 'enqueued', 'updated_at', ARGV[1])
end
local reclaimed = 0
local dead = 0
local inflight = redis.call('LRANGE', KEYS[3], 0, -1)
for _, id in ipairs(inflight) do
  local deadline = redis.call('ZSCORE', KEYS[4], id)
  if not deadline then
    redis.call('ZADD', KEYS[4], ARGV[2], id)
  elseif tonumber(deadline) <= now then
    local job = ARGV[3] .. id
    redis.call('LREM', KEYS[3], 0, id)
    redis.call('ZREM', KEYS[4], id)
    if redis.call('EXISTS', job) == 1 then
      local attempts = tonumber(redis.call('HGET', job, 'attempts')) or 0
      local limit = tonumber(redis.call('HGET', job, 'max_attempts')) or 0
      if limit > 0 and attempts >= limit then
        redis.call('HSET', job, 'state', 'failed-terminal', 'last_error', 'lease expired', 'updated_at', ARGV[1])
        redis.call('LREM', KEYS[5], 0, id)
        redis.call('RPUSH', KEYS[5], id)
        dead = dead + 1
      else
        redis.call('RPUSH', KEYS[2], id)
        redis.call('HSET', job, 'state', 'enqueued', 'updated_at', ARGV[1])
        reclaimed = reclaimed + 1
      end
    end
  end
end
return {#due, reclaimed, dead}
`)

// KEYS: job, leases, processing
// ARGV: id, now, lease_deadline
var claimScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  redis.call('LREM', KEYS[3], 0, ARGV[1])
  redis.call('ZREM', KEYS[2], ARGV[1])
  return false
end
redis.call('HINCRBY', KEYS[1], 'attempts', 1)
redis.call('HSET', KEYS[1], 'state', 'in-flight', 'updated_at', ARGV[2])
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[1])
return redis.call('HGETALL', KEYS[1])
`)

// KEYS: job, processing, leases, ready, delayed
// ARGV: id, now, ttl_seconds
var ackScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
redis.call('LREM', KEYS[2], 0, ARGV[1])
redis.call('ZREM', KEYS[3], ARGV[1])
redis.call('LREM', KEYS[4], 0, ARGV[1])
redis.call('ZREM', KEYS[5], ARGV[1])
redis.call('HSET', KEYS[1], 'state', 'completed', 'last_error', '', 'updated_at', ARGV[2])
local ttl = tonumber(ARGV[3])
if ttl > 0 then
  redis.call('EXPIRE', KEYS[1], ttl)
end
return 1
`)

// KEYS: job, processing, leases, ready, delayed, dead
// ARGV: id, now, error, terminal ('1' = sin reintentos), delay_1 .. delay_n (ms)
//
// delay_i es la espera tras el intento i; los intentos posteriores a n usan
// delay_n. Devuelve 0 si el job no existe, 1 si queda reprogramado y 2 si
// pasa a dead.
var nackScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
redis.call('LREM', KEYS[2], 0, ARGV[1])
redis.call('ZREM', KEYS[3], ARGV[1])
redis.call('LREM', KEYS[4], 0, ARGV[1])
local attempts = tonumber(redis.call('HGET', KEYS[1], 'attempts')) or 0
local limit = tonumber(redis.call('HGET', KEYS[1], 'max_attempts')) or 0
if ARGV[4] == '1' or attempts >= limit or #ARGV < 5 then
  redis.call('ZREM', KEYS[5], ARGV[1])
  redis.call('HSET', KEYS[1], 'state', 'failed-terminal', 'last_error', ARGV[3], 'updated_at', ARGV[2])
  redis.call('LREM', KEYS[6], 0, ARGV[1])
  redis.call('RPUSH', KEYS[6], ARGV[1])
  return 2
end
local step = attempts
if step < 1 then
  step = 1
end
if step > #ARGV - 4 then
  step = #ARGV - 4
end
local due = tonumber(ARGV[2]) + tonumber(ARGV[4 + step])
redis.call('HSET', KEYS[1], 'state', 'failed-retryable', 'last_error', ARGV[3], 'updated_at', ARGV[2])
redis.call('ZADD', KEYS[5], string.format('%.0f', due), ARGV[1])
return 1
`)

// KEYS: dead, ready, job
// ARGV: id, now
var retryDeadScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[3]) == 0 then
  return 0
end
if redis.call('LREM', KEYS[1], 0, ARGV[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[3], 'attempts', 0, 'state', 'enqueued', 'updated_at', ARGV[2])
redis.call('LPUSH', KEYS[2], ARGV[1])
return 1
`)

package cache

import (
	"github.com/redis/go-redis/v9"
)

// admissionScript is the atomic bid admission gate. It runs against three
// keys: the auction snapshot hash, the auction's main bid queue, and the
// event's idempotency marker. All checks, the price write, the queue push
// (accept or reject), and the idempotency set happen in one script
// execution, so two rival bids can never both pass the same price check and
// no rejection can be decided without its audit event landing on the queue.
//
// Prices travel as decimal strings and are compared as integers after
// scaling by 1e8 (eight fractional digits, matching the DB column scale).
// Lua floats hold these magnitudes exactly.
//
// ARGV: member_id, amount, now, idem_ttl, accept payload, buy-now payload,
// then the reject payloads for MISSING, NOT_RUNNING, SELF_BID, LOW_PRICE.
//
// Returns {code, price_after}. price_after is the hash's current price after
// the call, "" when the snapshot is absent.
var admissionScript = redis.NewScript(`
local function scaled(s)
  if not s or s == '' or s == false then return nil end
  local int, frac = string.match(s, '^(%-?%d+)%.?(%d*)$')
  if not int then return nil end
  frac = string.sub(frac .. '00000000', 1, 8)
  local sign = 1
  if string.sub(int, 1, 1) == '-' then
    sign = -1
    int = string.sub(int, 2)
  end
  return sign * (tonumber(int) * 100000000 + tonumber(frac))
end

local f = redis.call('HMGET', KEYS[1],
  'is_end', 'start_ts', 'end_ts', 'current_price',
  'bid_unit', 'owner_id', 'buy_now_flag', 'buy_now_price')

if redis.call('EXISTS', KEYS[3]) == 1 then
  return {'DUPLICATE', f[4] or ''}
end

if not f[1] or not f[2] or not f[3] or not f[4] or not f[5] or not f[6] then
  redis.call('RPUSH', KEYS[2], ARGV[7])
  return {'MISSING', ''}
end

local now = tonumber(ARGV[3])
if f[1] == '1' or now < tonumber(f[2] or '0') or now >= tonumber(f[3] or '0') then
  redis.call('RPUSH', KEYS[2], ARGV[8])
  return {'NOT_RUNNING', f[4]}
end

if ARGV[1] == f[6] then
  redis.call('RPUSH', KEYS[2], ARGV[9])
  return {'SELF_BID', f[4]}
end

local bid  = scaled(ARGV[2])
local cur  = scaled(f[4])
local unit = scaled(f[5])
if bid == nil or cur == nil or unit == nil then
  redis.call('RPUSH', KEYS[2], ARGV[10])
  return {'LOW_PRICE', f[4]}
end

if f[7] == '1' and f[8] and f[8] ~= '' then
  local bn = scaled(f[8])
  if bn ~= nil and bid >= bn then
    redis.call('HSET', KEYS[1], 'current_price', f[8], 'is_end', '1')
    redis.call('RPUSH', KEYS[2], ARGV[6])
    redis.call('SET', KEYS[3], '1', 'EX', ARGV[4])
    return {'OK', f[8]}
  end
end

if bid < cur + unit then
  redis.call('RPUSH', KEYS[2], ARGV[10])
  return {'LOW_PRICE', f[4]}
end

redis.call('HSET', KEYS[1], 'current_price', ARGV[2])
redis.call('RPUSH', KEYS[2], ARGV[5])
redis.call('SET', KEYS[3], '1', 'EX', ARGV[4])
return {'OK', ARGV[2]}
`)

// applyPriceScript raises the cached current price, never lowering it. The
// guard keeps a slow apply-step confirmation from undoing a newer admission
// write. Missing snapshots are left absent; creating one here would race the
// warmer.
//
// Returns 1 when the price was written, 0 otherwise.
var applyPriceScript = redis.NewScript(`
local function scaled(s)
  if not s or s == '' or s == false then return nil end
  local int, frac = string.match(s, '^(%-?%d+)%.?(%d*)$')
  if not int then return nil end
  frac = string.sub(frac .. '00000000', 1, 8)
  local sign = 1
  if string.sub(int, 1, 1) == '-' then
    sign = -1
    int = string.sub(int, 2)
  end
  return sign * (tonumber(int) * 100000000 + tonumber(frac))
end

if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end

local cur = scaled(redis.call('HGET', KEYS[1], 'current_price'))
local new = scaled(ARGV[1])
if new == nil then
  return 0
end
if cur ~= nil and new <= cur then
  return 0
end

redis.call('HSET', KEYS[1], 'current_price', ARGV[1])
return 1
`)

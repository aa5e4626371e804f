package redis

const (
	// incrementLedgerScript atomically adds seconds to one date of a hostname
	incrementLedgerScript = `
local ledger_key = KEYS[1]    -- {prefix}:ledger:{hostname}
local hosts_key = KEYS[2]     -- {prefix}:ledger:hosts

local hostname = ARGV[1]
local date = ARGV[2]
local seconds = ARGV[3]

local total = redis.call('HINCRBYFLOAT', ledger_key, date, seconds)
redis.call('SADD', hosts_key, hostname)

return total
`

	// pruneLedgerScript removes dates older than the cutoff from one hostname
	pruneLedgerScript = `
local ledger_key = KEYS[1]    -- {prefix}:ledger:{hostname}
local hosts_key = KEYS[2]     -- {prefix}:ledger:hosts

local hostname = ARGV[1]
local cutoff = ARGV[2]

local deleted = 0
local dates = redis.call('HKEYS', ledger_key)
for _, date in ipairs(dates) do
  -- YYYY-MM-DD compares lexically
  if date < cutoff then
    redis.call('HDEL', ledger_key, date)
    deleted = deleted + 1
  end
end

if redis.call('HLEN', ledger_key) == 0 then
  redis.call('SREM', hosts_key, hostname)
end

return deleted
`
)

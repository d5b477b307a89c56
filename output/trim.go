package output

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// trimScript bounds a sorted set or list to ARGV[1] entries. All of the
// branching happens inside Redis, so concurrent writers appending to the
// same key can't interleave between the length check and the removal.
//
// KEYS[1] key
// ARGV[1] maximum number of entries, > 0
// ARGV[2] "zset" or "list"
// ARGV[3] "asc" keeps the tail of a list / the highest scores of a sorted
// set, "desc" keeps the head / the lowest scores
//
// Returns the number of removed entries.
const trimSource = `
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local kind = ARGV[2]
local order = ARGV[3]

if limit == nil or limit <= 0 then
  return 0
end

if kind == "list" then
  local len = redis.call("LLEN", key)
  if len <= limit then
    return 0
  end
  if order == "asc" then
    redis.call("LTRIM", key, -limit, -1)
  else
    redis.call("LTRIM", key, 0, limit - 1)
  end
  return len - limit
end

local len = redis.call("ZCARD", key)
if len <= limit then
  return 0
end
if order == "asc" then
  redis.call("ZREMRANGEBYRANK", key, 0, len - limit - 1)
else
  redis.call("ZREMRANGEBYRANK", key, limit, -1)
end
return len - limit
`

var trimScript = redis.NewScript(trimSource)

// trimArgs returns the script arguments for c. Sorted sets written with
// ZINCRBY are trimmed the same way as ones written with ZADD.
func trimArgs(c Config) []interface{} {
	kind := "zset"
	if c.Kind == List {
		kind = "list"
	}
	return []interface{}{strconv.FormatInt(c.MaxLength, 10), kind, c.Order.String()}
}

// loadTrim caches trimScript on the server as part of p. Queued ahead of
// the trims in the same MULTI/EXEC, it guarantees none of them hits
// NOSCRIPT, even right after a restart or SCRIPT FLUSH.
func loadTrim(ctx context.Context, p redis.Pipeliner) *redis.StringCmd {
	return p.ScriptLoad(ctx, trimSource)
}

// queueTrim adds an EVALSHA of trimScript for key to p
func queueTrim(ctx context.Context, p redis.Pipeliner, c Config, key string) *redis.Cmd {
	return trimScript.EvalSha(ctx, p, []string{key}, trimArgs(c)...)
}

// Trim bounds key right away, outside of a batch. It returns the number of
// removed entries. Kinds that can't be bounded, or a disabled bound, are a
// no-op.
func Trim(ctx context.Context, client redis.Scripter, c Config, key string) (int64, error) {
	if !c.trimmed() {
		return 0, nil
	}
	n, err := trimScript.Run(ctx, client, []string{key}, trimArgs(c)...).Int64()
	if err != nil {
		return 0, &TrimError{Key: key, Err: err}
	}
	return n, nil
}

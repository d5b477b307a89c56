package output

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/ptgott/redisstore/fieldpath"
	"github.com/redis/go-redis/v9"
)

// Entry is one record handed over by the pipeline
type Entry struct {
	Tag    string
	Time   int64 // Unix seconds
	Record map[string]interface{}
}

// resolvedWrite is what a record turns into before anything is sent to
// Redis. It lives for the duration of one flush.
type resolvedWrite struct {
	key   string
	value string
	score float64 // SortedSet only
}

// resolve pulls the key, value and (for sorted sets) the score out of e.
// Absent fields produce a FieldResolutionError and the record is skipped;
// we never store an empty key or member in place of a missing one.
func (c Config) resolve(e Entry, now time.Time) (resolvedWrite, error) {
	var w resolvedWrite

	switch {
	case c.FixedKey != "":
		w.key = c.FixedKey
	case c.KeyPath != "":
		k, ok := fieldpath.Resolve(e.Record, c.KeyPath)
		if !ok {
			return w, &FieldResolutionError{Option: "key_name", Path: c.KeyPath}
		}
		w.key = fieldpath.String(k)
	default:
		return w, &FieldResolutionError{
			Option: "key_name",
			Reason: "neither key_name nor fixed_key_value is configured",
		}
	}
	w.key = c.KeyPrefix + w.key + c.KeySuffix

	v, ok := fieldpath.Resolve(e.Record, c.ValuePath)
	if !ok {
		return w, &FieldResolutionError{Option: "value_name", Path: c.ValuePath}
	}
	w.value = fieldpath.String(v)

	if c.Kind == SortedSet {
		if c.ScorePath == "" {
			w.score = float64(now.Unix())
		} else {
			s, ok := fieldpath.Resolve(e.Record, c.ScorePath)
			if !ok {
				return w, &FieldResolutionError{Option: "score_name", Path: c.ScorePath}
			}
			f, err := fieldpath.Float(s)
			if err != nil {
				return w, &FieldResolutionError{
					Option: "score_name",
					Path:   c.ScorePath,
					Reason: err.Error(),
				}
			}
			w.score = f
		}
	}

	return w, nil
}

// queueWrite adds the commands for one record to p: the write itself, the
// key expiry and, for sorted sets with value_expire, pruning of old
// members. p is a MULTI/EXEC pipeline, so no other client's commands run
// between them. Redis doesn't roll back: if the write is rejected (e.g.
// WRONGTYPE) the expiry and pruning still run against the key.
func (c Config) queueWrite(ctx context.Context, p redis.Pipeliner, w resolvedWrite, now time.Time) []redis.Cmder {
	cmds := make([]redis.Cmder, 0, 3)

	switch c.Kind {
	case SortedSet:
		cmds = append(cmds, p.ZAdd(ctx, w.key, redis.Z{Score: w.score, Member: w.value}))
	case SortedSetIncrement:
		cmds = append(cmds, p.ZIncrBy(ctx, w.key, c.ScoreIncrement, w.value))
	case Set:
		cmds = append(cmds, p.SAdd(ctx, w.key, w.value))
	case List:
		if c.Order == Ascending {
			cmds = append(cmds, p.RPush(ctx, w.key, w.value))
		} else {
			cmds = append(cmds, p.LPush(ctx, w.key, w.value))
		}
	case String:
		cmds = append(cmds, p.Set(ctx, w.key, w.value, 0))
	}

	if c.KeyExpire > 0 {
		cmds = append(cmds, p.Expire(ctx, w.key, time.Duration(c.KeyExpire)*time.Second))
	}

	if c.Kind == SortedSet && c.ValueExpire > 0 {
		oldest := strconv.FormatInt(now.Unix()-c.ValueExpire, 10)
		cmds = append(cmds, p.ZRemRangeByScore(ctx, w.key, "-inf", oldest))
	}

	return cmds
}

// firstErr returns the first failed command in cmds
func firstErr(cmds []redis.Cmder) error {
	for _, c := range cmds {
		if err := c.Err(); err != nil {
			return err
		}
	}
	return nil
}

// replyError reports whether err is an error reply from Redis, as opposed
// to a failure to talk to Redis at all.
func replyError(err error) bool {
	var rerr redis.Error
	return errors.As(err, &rerr)
}

// Server replies that mean the batch as a whole didn't go through, even
// though Redis answered. These are retried like transport failures.
var batchFailurePrefixes = []string{
	"EXECABORT",
	"OOM",
	"READONLY",
	"LOADING",
	"MASTERDOWN",
	"NOAUTH",
	"NOPERM",
	"CLUSTERDOWN",
}

func batchFailure(err error) bool {
	if err == nil {
		return false
	}
	if !replyError(err) {
		return true
	}
	for _, p := range batchFailurePrefixes {
		if redis.HasErrorPrefix(err, p) {
			return true
		}
	}
	return false
}

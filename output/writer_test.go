package output

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ptgott/redisstore/redistest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// fixedNow is far enough from the epoch that value_expire cutoffs are
// positive.
var fixedNow = time.Unix(1700000000, 0)

func newTestWriter(t *testing.T, opts map[string]string, wopts ...WriterOption) (*Writer, *redistest.InProcessServer) {
	t.Helper()
	c, err := ParseOptions(opts)
	require.NoError(t, err)
	srv := redistest.NewInProcessServer(t)
	wopts = append([]WriterOption{WithClock(func() time.Time { return fixedNow })}, wopts...)
	return NewWriter(srv.NewClient(), c, wopts...), srv
}

func record(kv ...interface{}) Entry {
	r := make(map[string]interface{})
	for i := 0; i+1 < len(kv); i += 2 {
		r[kv[i].(string)] = kv[i+1]
	}
	return Entry{Tag: "test.tag", Time: fixedNow.Unix(), Record: r}
}

func TestFlushNoRecords(t *testing.T) {
	w, srv := newTestWriter(t, map[string]string{
		"value_name": "v",
		"key_name":   "k",
	})

	res, err := w.Flush(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, FlushResult{}, res)

	res, err = w.Flush(context.Background(), []Entry{})
	require.NoError(t, err)
	assert.Equal(t, FlushResult{}, res)

	assert.Equal(t, 0, srv.CommandCount(), "no commands should reach redis")
}

func TestFlushEachStoreKind(t *testing.T) {
	testCases := []struct {
		description string
		storeType   string
		check       func(t *testing.T, srv *redistest.InProcessServer)
	}{
		{
			description: "zset",
			storeType:   "zset",
			check: func(t *testing.T, srv *redistest.InProcessServer) {
				s, err := srv.ZScore("pre:alice:suf", "GET /")
				require.NoError(t, err)
				assert.Equal(t, float64(fixedNow.Unix()), s)
			},
		},
		{
			description: "zincrby",
			storeType:   "zincrby",
			check: func(t *testing.T, srv *redistest.InProcessServer) {
				s, err := srv.ZScore("pre:alice:suf", "GET /")
				require.NoError(t, err)
				assert.Equal(t, 1.0, s)
			},
		},
		{
			description: "set",
			storeType:   "set",
			check: func(t *testing.T, srv *redistest.InProcessServer) {
				assert.Equal(t, []string{"GET /"}, srv.SetMembers("pre:alice:suf"))
			},
		},
		{
			description: "list",
			storeType:   "list",
			check: func(t *testing.T, srv *redistest.InProcessServer) {
				assert.Equal(t, []string{"GET /"}, srv.ListValues("pre:alice:suf"))
			},
		},
		{
			description: "string",
			storeType:   "string",
			check: func(t *testing.T, srv *redistest.InProcessServer) {
				v, err := srv.Get("pre:alice:suf")
				require.NoError(t, err)
				assert.Equal(t, "GET /", v)
			},
		},
	}

	for _, tc := range testCases {
		for _, expire := range []string{"-1", "0", "120"} {
			t.Run(fmt.Sprintf("%v with key_expire %v", tc.description, expire), func(t *testing.T) {
				w, srv := newTestWriter(t, map[string]string{
					"store_type": tc.storeType,
					"key_prefix": "pre:",
					"key_suffix": ":suf",
					"key_name":   "user.name",
					"value_name": "request",
					"key_expire": expire,
				})

				res, err := w.Flush(context.Background(), []Entry{
					record("user", map[string]interface{}{"name": "alice"}, "request", "GET /"),
				})
				require.NoError(t, err)
				assert.Equal(t, FlushResult{Written: 1}, res)

				// Exactly one key is touched
				assert.Equal(t, []string{"pre:alice:suf"}, srv.Keys())
				tc.check(t, srv)

				if expire == "120" {
					assert.Equal(t, 120*time.Second, srv.TTL("pre:alice:suf"))
				} else {
					assert.Equal(t, time.Duration(0), srv.TTL("pre:alice:suf"))
				}
			})
		}
	}
}

func TestFlushFixedKeyWins(t *testing.T) {
	w, srv := newTestWriter(t, map[string]string{
		"store_type":      "set",
		"key_name":        "user",
		"fixed_key_value": "everyone",
		"value_name":      "v",
	})

	_, err := w.Flush(context.Background(), []Entry{
		record("user", "alice", "v", "a"),
		record("user", "bob", "v", "b"),
		// The key path doesn't even have to resolve
		record("v", "c"),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"everyone"}, srv.Keys())
	assert.Equal(t, []string{"a", "b", "c"}, srv.SetMembers("everyone"))
}

func TestFlushSetIsIdempotent(t *testing.T) {
	w, srv := newTestWriter(t, map[string]string{
		"store_type": "set",
		"key_name":   "k",
		"value_name": "v",
	})

	_, err := w.Flush(context.Background(), []Entry{record("k", "visitors", "v", "alice")})
	require.NoError(t, err)
	once := srv.SetMembers("visitors")

	_, err = w.Flush(context.Background(), []Entry{
		record("k", "visitors", "v", "alice"),
		record("k", "visitors", "v", "alice"),
	})
	require.NoError(t, err)

	assert.Equal(t, once, srv.SetMembers("visitors"))
}

func TestFlushSortedSetScores(t *testing.T) {
	w, srv := newTestWriter(t, map[string]string{
		"store_type": "zset",
		"key_name":   "k",
		"score_name": "meta.ts",
		"value_name": "v",
	})

	res, err := w.Flush(context.Background(), []Entry{
		record("k", "z", "v", "a", "meta", map[string]interface{}{"ts": int64(10)}),
		record("k", "z", "v", "b", "meta", map[string]interface{}{"ts": "20.5"}),
		record("k", "z", "v", "c", "meta", map[string]interface{}{"ts": "later"}),
		record("k", "z", "v", "d"),
	})
	require.NoError(t, err)
	assert.Equal(t, FlushResult{Written: 2, Skipped: 2}, res)

	s, err := srv.ZScore("z", "b")
	require.NoError(t, err)
	assert.Equal(t, 20.5, s)
	assert.Equal(t, []string{"a", "b"}, srv.ZMembers("z"))
}

func TestFlushSortedSetIncrement(t *testing.T) {
	w, srv := newTestWriter(t, map[string]string{
		"store_type":      "zincrby",
		"key_name":        "page",
		"value_name":      "ip",
		"increment_score": "0.5",
		// Ignored for zincrby
		"score_name": "ts",
	})

	_, err := w.Flush(context.Background(), []Entry{
		record("page", "/home", "ip", "10.0.0.1"),
		record("page", "/home", "ip", "10.0.0.1"),
		record("page", "/home", "ip", "10.0.0.2"),
	})
	require.NoError(t, err)

	s, err := srv.ZScore("/home", "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, 1.0, s)
	s, err = srv.ZScore("/home", "10.0.0.2")
	require.NoError(t, err)
	assert.Equal(t, 0.5, s)
}

func TestFlushValueExpirePrunesOldMembers(t *testing.T) {
	w, srv := newTestWriter(t, map[string]string{
		"store_type":   "zset",
		"key_name":     "k",
		"score_name":   "ts",
		"value_name":   "v",
		"value_expire": "60",
	})

	now := fixedNow.Unix()
	_, err := w.Flush(context.Background(), []Entry{
		record("k", "z", "v", "ancient", "ts", now-3600),
		record("k", "z", "v", "edge", "ts", now-60),
		record("k", "z", "v", "recent", "ts", now-59),
		record("k", "z", "v", "fresh", "ts", now),
	})
	require.NoError(t, err)

	// The cutoff is inclusive
	assert.Equal(t, []string{"recent", "fresh"}, srv.ZMembers("z"))
}

func TestFlushSkipsUnresolvableRecords(t *testing.T) {
	var mu sync.Mutex
	var skipped []error
	w, srv := newTestWriter(t,
		map[string]string{
			"store_type": "list",
			"key_name":   "k",
			"value_name": "v",
		},
		WithSkipHandler(func(e Entry, reason error) {
			mu.Lock()
			defer mu.Unlock()
			skipped = append(skipped, reason)
		}),
	)

	res, err := w.Flush(context.Background(), []Entry{
		record("k", "l", "v", "first"),
		record("k", "l"),           // no value
		record("v", "orphan"),      // no key
		record("k", "l", "v", nil), // explicit nil value
		record("k", "l", "v", "second"),
	})
	require.NoError(t, err)
	assert.Equal(t, FlushResult{Written: 2, Skipped: 3}, res)
	assert.Equal(t, []string{"first", "second"}, srv.ListValues("l"))

	require.Len(t, skipped, 3)
	for _, s := range skipped {
		assert.True(t, errors.Is(s, ErrFieldResolution), "unexpected skip reason %v", s)
	}
}

func TestFlushWithoutKeyOptionSkipsEverything(t *testing.T) {
	w, srv := newTestWriter(t, map[string]string{"value_name": "v"})

	res, err := w.Flush(context.Background(), []Entry{record("v", "a"), record("v", "b")})
	require.NoError(t, err)
	assert.Equal(t, FlushResult{Skipped: 2}, res)
	assert.Equal(t, 0, srv.CommandCount())
}

func TestFlushSkipsRecordsRedisRejects(t *testing.T) {
	var reasons []error
	w, srv := newTestWriter(t,
		map[string]string{
			"store_type": "list",
			"key_name":   "k",
			"value_name": "v",
		},
		WithSkipHandler(func(e Entry, reason error) { reasons = append(reasons, reason) }),
	)
	require.NoError(t, srv.Set("taken", "a string"))

	res, err := w.Flush(context.Background(), []Entry{
		record("k", "taken", "v", "x"),
		record("k", "free", "v", "y"),
	})
	require.NoError(t, err)
	assert.Equal(t, FlushResult{Written: 1, Skipped: 1}, res)
	assert.Equal(t, []string{"y"}, srv.ListValues("free"))

	require.Len(t, reasons, 1)
	assert.Contains(t, reasons[0].Error(), "WRONGTYPE")
}

// MULTI/EXEC doesn't roll back, so the expiry queued behind a rejected write
// still runs. The trim queued for the same key fails too, but that belongs
// to a skipped record and isn't counted.
func TestFlushRejectedWriteKeepsItsExpiry(t *testing.T) {
	w, srv := newTestWriter(t, map[string]string{
		"store_type":   "list",
		"key_name":     "k",
		"value_name":   "v",
		"key_expire":   "60",
		"value_length": "5",
	})
	require.NoError(t, srv.Set("taken", "a string"))

	res, err := w.Flush(context.Background(), []Entry{record("k", "taken", "v", "x")})
	require.NoError(t, err)
	assert.Equal(t, FlushResult{Skipped: 1}, res)

	v, err := srv.Get("taken")
	require.NoError(t, err)
	assert.Equal(t, "a string", v)
	assert.Equal(t, 60*time.Second, srv.TTL("taken"))
}

func TestFlushStoreFailure(t *testing.T) {
	w, srv := newTestWriter(t, map[string]string{
		"store_type": "set",
		"key_name":   "k",
		"value_name": "v",
	})
	srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := w.Flush(ctx, []Entry{record("k", "s", "v", "a")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStoreWrite))

	var serr *StoreWriteError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, 1, serr.Records)
	assert.Equal(t, FlushResult{}, res)
}

func TestFlushNestedValuesAreJSON(t *testing.T) {
	w, srv := newTestWriter(t, map[string]string{
		"store_type": "string",
		"key_name":   "id",
		"value_name": "payload",
	})

	_, err := w.Flush(context.Background(), []Entry{
		record("id", int64(7), "payload", map[string]interface{}{"ok": true, "n": 2}),
	})
	require.NoError(t, err)

	v, err := srv.Get("7")
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true,"n":2}`, v)
}

func TestFlushRecordsSpan(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	w, _ := newTestWriter(t, map[string]string{
		"store_type": "set",
		"key_name":   "k",
		"value_name": "v",
	})
	_, err := w.Flush(context.Background(), []Entry{record("k", "s", "v", "a"), record("k", "s")})
	require.NoError(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "output.Flush", spans[0].Name())

	attrs := map[string]int64{}
	for _, a := range spans[0].Attributes() {
		attrs[string(a.Key)] = a.Value.AsInt64()
	}
	assert.Equal(t, int64(2), attrs["records"])
	assert.Equal(t, int64(1), attrs["written"])
	assert.Equal(t, int64(1), attrs["skipped"])
}

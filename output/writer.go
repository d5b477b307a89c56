package output

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/ptgott/redisstore/output"

// SkipHandler receives each record that Flush drops along with the reason.
// It's called synchronously from Flush, possibly from several goroutines
// if Flush is.
type SkipHandler func(e Entry, reason error)

// FlushResult counts what happened to a batch
type FlushResult struct {
	Written      int
	Skipped      int
	TrimFailures int
}

// Writer flushes batches to Redis according to a Config. A Writer holds no
// per-batch state and the go-redis client is a goroutine-safe pool, so one
// Writer can serve concurrent Flush calls.
type Writer struct {
	client redis.UniversalClient
	conf   Config
	now    func() time.Time
	onSkip SkipHandler
	tracer trace.Tracer
}

// WriterOption customizes a Writer
type WriterOption func(*Writer)

// WithSkipHandler registers fn to be called for every skipped record
func WithSkipHandler(fn SkipHandler) WriterOption {
	return func(w *Writer) { w.onSkip = fn }
}

// WithClock replaces time.Now, which supplies default scores and the cutoff
// for value_expire.
func WithClock(now func() time.Time) WriterOption {
	return func(w *Writer) { w.now = now }
}

// NewWriter returns a Writer that sends c's writes through client. The
// caller owns client and must close it.
func NewWriter(client redis.UniversalClient, c Config, opts ...WriterOption) *Writer {
	w := &Writer{
		client: client,
		conf:   c,
		now:    time.Now,
		tracer: otel.Tracer(tracerName),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Config returns the configuration the Writer was built with
func (w *Writer) Config() Config {
	return w.conf
}

// pendingWrite ties a record to the commands queued for it
type pendingWrite struct {
	entry Entry
	key   string
	cmds  []redis.Cmder
	trim  *redis.Cmd // nil unless the collection is bounded
}

// Flush writes entries in order. Records whose fields don't resolve, or that
// Redis rejects, are logged, passed to the SkipHandler and counted as
// skipped; they don't affect the rest of the batch.
//
// Everything goes out in a single MULTI/EXEC round trip. Each record's
// write and expiry are followed by a call to the trim script for its key,
// so bounded collections are trimmed after every write, exactly as if each
// record had been flushed on its own. A trim that fails is logged and
// counted but doesn't undo the write.
//
// A non-nil error is always a *StoreWriteError: the batch couldn't be
// delivered and should be retried as a whole.
func (w *Writer) Flush(ctx context.Context, entries []Entry) (FlushResult, error) {
	var res FlushResult
	if len(entries) == 0 {
		return res, nil
	}

	ctx, span := w.tracer.Start(ctx, "output.Flush", trace.WithAttributes(
		attribute.Int("records", len(entries)),
		attribute.String("store_type", w.conf.Kind.String()),
	))
	defer span.End()

	now := w.now()
	pending := make([]pendingWrite, 0, len(entries))

	// Resolve everything first so we know whether there is anything to
	// send at all.
	writes := make([]resolvedWrite, 0, len(entries))
	for _, e := range entries {
		rw, err := w.conf.resolve(e, now)
		if err != nil {
			w.skip(e, err)
			res.Skipped++
			continue
		}
		pending = append(pending, pendingWrite{entry: e, key: rw.key})
		writes = append(writes, rw)
	}

	if len(pending) == 0 {
		span.SetAttributes(attribute.Int("skipped", res.Skipped))
		return res, nil
	}

	trimmed := w.conf.trimmed()
	_, err := w.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		if trimmed {
			loadTrim(ctx, p)
		}
		for i := range pending {
			pending[i].cmds = w.conf.queueWrite(ctx, p, writes[i], now)
			if trimmed {
				pending[i].trim = queueTrim(ctx, p, w.conf, writes[i].key)
			}
		}
		return nil
	})
	// TxPipelined returns the first failed command's error. A reply error
	// for one record only concerns that record; anything else means the
	// batch didn't make it.
	if batchFailure(err) {
		serr := &StoreWriteError{Records: len(entries), Err: err}
		span.RecordError(serr)
		span.SetStatus(codes.Error, "batch not delivered")
		return FlushResult{}, serr
	}

	for _, pw := range pending {
		if err := firstErr(pw.cmds); err != nil {
			w.skip(pw.entry, err)
			res.Skipped++
			continue
		}
		res.Written++
		if pw.trim != nil && pw.trim.Err() != nil {
			w.trimFailed(pw.key, pw.trim.Err())
			res.TrimFailures++
		}
	}

	span.SetAttributes(
		attribute.Int("written", res.Written),
		attribute.Int("skipped", res.Skipped),
		attribute.Int("trim_failures", res.TrimFailures),
	)
	log.Debug().
		Int("written", res.Written).
		Int("skipped", res.Skipped).
		Int("trimFailures", res.TrimFailures).
		Msg("flushed a batch")

	return res, nil
}

func (w *Writer) trimFailed(key string, err error) {
	log.Warn().
		Str("key", key).
		Err(&TrimError{Key: key, Err: err}).
		Msg("can't bound the collection; the write was kept")
}

func (w *Writer) skip(e Entry, reason error) {
	log.Warn().
		Str("tag", e.Tag).
		Int64("time", e.Time).
		Err(reason).
		Msg("skipping a record")
	if w.onSkip != nil {
		w.onSkip(e, reason)
	}
}

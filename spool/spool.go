package spool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/docker/go-units"
	"github.com/ptgott/redisstore/chunk"
	"github.com/ptgott/redisstore/output"
	"github.com/ptgott/redisstore/storage"
	"github.com/ptgott/redisstore/userconfig"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

const (
	// Upstream writes chunks under another name and renames them to
	// *.chunk once they're complete, so we never read a partial chunk.
	chunkExt = ".chunk"
	// Chunks we can't ever deliver are renamed so they aren't picked up
	// again, but stay around for a human to look at.
	badExt = ".bad"
)

var tracer = otel.Tracer("github.com/ptgott/redisstore/spool")

type Config struct {
	// For time.Ticker ticks
	TickCh <-chan time.Time
	// Number of rounds of flushing to perform before stopping, on top of
	// the first one. Used for testing; ticks are ignored if it's set.
	IterationLimit uint
	// Journal for skipped records, cleaned up every CleanupInterval. May
	// be nil.
	Journal         storage.KeyValue
	CleanupInterval time.Duration
}

// Stats counts what one Run did
type Stats struct {
	Chunks  int // delivered and removed
	Bad     int // renamed to *.bad
	Written int
	Skipped int
	// Keys whose collection couldn't be bounded
	TrimFailures int
}

func (s *Stats) add(r output.FlushResult) {
	s.Chunks++
	s.Written += r.Written
	s.Skipped += r.Skipped
	s.TrimFailures += r.TrimFailures
}

// Run flushes every chunk in the spool directory once, with at most
// sc.Workers chunks in flight. It returns the first store error; chunks
// that hit it, or that were still waiting, are left for the next Run.
func Run(ctx context.Context, w *output.Writer, sc userconfig.Spool) (Stats, error) {
	var stats Stats

	paths, err := listChunks(sc.Directory)
	if err != nil {
		return stats, err
	}
	if len(paths) == 0 {
		log.Debug().Str("directory", sc.Directory).Msg("no chunks to flush")
		return stats, nil
	}

	log.Info().
		Int("count", len(paths)).
		Msg("flushing chunks")

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	if sc.Workers > 0 {
		g.SetLimit(sc.Workers)
	}
	for _, p := range paths {
		p := p
		g.Go(func() error {
			r, bad, err := flushChunk(ctx, w, p, sc.MaxChunkSize)
			mu.Lock()
			defer mu.Unlock()
			if bad {
				stats.Bad++
				return nil
			}
			if err != nil {
				return err
			}
			stats.add(r)
			return nil
		})
	}
	err = g.Wait()

	log.Info().
		Int("chunks", stats.Chunks).
		Int("bad", stats.Bad).
		Int("written", stats.Written).
		Int("skipped", stats.Skipped).
		Msg("done with one round of flushing")

	return stats, err
}

// flushChunk delivers one chunk file. bad is true if the chunk can never be
// delivered and was set aside.
func flushChunk(ctx context.Context, w *output.Writer, path string, maxSize int64) (output.FlushResult, bool, error) {
	ctx, span := tracer.Start(ctx, "spool.flushChunk")
	defer span.End()
	span.SetAttributes(attribute.String("chunk", filepath.Base(path)))

	// Another worker's failure cancels the rest. Leave the chunk alone.
	if err := ctx.Err(); err != nil {
		return output.FlushResult{}, false, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return output.FlushResult{}, false, fmt.Errorf("can't stat chunk %v: %v", path, err)
	}
	if maxSize > 0 && info.Size() > maxSize {
		setAside(path, fmt.Errorf(
			"chunk is %v, larger than the %v limit",
			units.BytesSize(float64(info.Size())),
			units.BytesSize(float64(maxSize)),
		))
		return output.FlushResult{}, true, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return output.FlushResult{}, false, fmt.Errorf("can't open chunk %v: %v", path, err)
	}
	entries, err := chunk.Decode(f)
	f.Close()
	if err != nil {
		setAside(path, err)
		return output.FlushResult{}, true, nil
	}

	r, err := w.Flush(ctx, entries)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "chunk not delivered")
		log.Error().
			Str("chunk", path).
			Err(err).
			Msg("can't flush the chunk; keeping it for the next round")
		return r, false, fmt.Errorf("chunk %v: %w", filepath.Base(path), err)
	}

	if err := os.Remove(path); err != nil {
		// The chunk will be written again next round. That's harmless for
		// sets, strings and bounded collections, but duplicates list and
		// zincrby writes, so make noise.
		log.Error().
			Str("chunk", path).
			Err(err).
			Msg("delivered a chunk but can't remove it")
	}

	log.Debug().
		Str("chunk", path).
		Int("records", len(entries)).
		Int("written", r.Written).
		Int("skipped", r.Skipped).
		Msg("delivered a chunk")
	return r, false, nil
}

// setAside renames a chunk that can't be delivered
func setAside(path string, reason error) {
	log.Error().
		Str("chunk", path).
		Err(reason).
		Msg("setting aside an undeliverable chunk")
	if err := os.Rename(path, path+badExt); err != nil {
		log.Error().Str("chunk", path).Err(err).Msg("can't rename the chunk")
	}
}

// listChunks returns the chunk files in dir in name order, which upstream
// keeps chronological.
func listChunks(dir string) ([]string, error) {
	des, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("can't read the spool directory: %v", err)
	}
	var paths []string
	for _, de := range des {
		if de.IsDir() || !strings.HasSuffix(de.Name(), chunkExt) {
			continue
		}
		paths = append(paths, filepath.Join(dir, de.Name()))
	}
	return paths, nil
}

// StartLoop flushes the spool right away and then on every tick of s.TickCh
// until ctx is done. Errors from a round are logged and the round's
// undelivered chunks are retried on the next tick. With sc.OneOff, StartLoop
// returns after the first round along with its error.
func StartLoop(ctx context.Context, s *Config, w *output.Writer, sc userconfig.Spool) error {
	lastCleanup := time.Now()
	round := func() error {
		_, err := Run(ctx, w, sc)
		if err != nil {
			log.Error().Err(err).Msg("error flushing the spool")
		}
		if s.Journal != nil && time.Since(lastCleanup) >= s.CleanupInterval {
			if cerr := s.Journal.Cleanup(); cerr != nil {
				log.Error().Err(cerr).Msg("error cleaning up the rejects journal")
			}
			lastCleanup = time.Now()
		}
		return err
	}

	// Run the first round immediately
	err := round()

	if sc.OneOff {
		return err
	}

	if s.IterationLimit > 0 {
		for i := uint(0); i < s.IterationLimit; i++ {
			round()
		}
		return nil
	}

	log.Info().
		Str("interval", units.HumanDuration(sc.Interval)).
		Msg("waiting for chunks")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.TickCh:
			round()
		}
	}
}

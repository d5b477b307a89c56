package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/docker/go-units"
	"github.com/ptgott/redisstore/output"
	"github.com/ptgott/redisstore/spool"
	"github.com/ptgott/redisstore/storage"
	"github.com/ptgott/redisstore/tracing"
	"github.com/ptgott/redisstore/userconfig"
	"github.com/redis/go-redis/v9"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Log with filename and line number. This writes to stderr, so it should
	// be thread safe.
	// https://github.com/rs/zerolog/blob/7ccd4c940bf8a02fcc5f10e5475f9d3daff04d57/log/log.go#L13
	log.Logger = log.With().Caller().Logger()

	configPath := flag.String(
		"config",
		"./config.yaml",
		"path to a JSON or YAML file containing your configuration",
	)
	oneOff := flag.Bool(
		"oneoff",
		false,
		"flush the spool directory once and exit",
	)
	level := flag.String(
		"level",
		"info",
		`log level: "info", "debug", or "warn"`,
	)
	flag.Parse()

	switch *level {
	case "debug":
		log.Logger = log.Logger.Level(zerolog.DebugLevel)
	case "warn":
		log.Logger = log.Logger.Level(zerolog.WarnLevel)
	default:
		log.Logger = log.Logger.Level(zerolog.InfoLevel)
	}

	os.Exit(run(*configPath, *oneOff))
}

// run does the work of main and returns the exit code, so deferred cleanup
// happens before the process exits.
func run(configPath string, oneOff bool) int {
	// Stop between rounds on an interrupt so the journal is closed cleanly
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	log.Info().
		Str("configPath", configPath).
		Msg("starting the application")

	f, err := os.Open(configPath)

	if err != nil {
		log.Error().
			Str("config-path", configPath).
			Err(err).
			Msg("We can't open the application config file")
		return 1
	}

	config, err := userconfig.Parse(f)
	f.Close()

	if err != nil {
		log.Error().
			Err(err).
			Msg("Problem parsing your config")
		return 1
	}
	config.Spool.OneOff = oneOff

	checkedConfig, err := config.CheckAndSetDefaults()
	if err != nil {
		log.Error().
			Err(err).
			Msg("Problem validating your config")
		return 1
	}

	oc := checkedConfig.Output.Config
	l := log.Info().
		Str("configPath", configPath).
		Str("redis", oc.Addr()).
		Str("storeType", oc.Kind.String())
	if oc.KeyExpire > 0 {
		l = l.Str("keyExpire", units.HumanDuration(time.Duration(oc.KeyExpire)*time.Second))
	}
	l.Msg("successfully validated the config")
	if oc.Driver != "" {
		log.Debug().Str("driver", oc.Driver).Msg("ignoring the driver option; go-redis is always used")
	}

	shutdownTracing, err := tracing.Init(ctx, checkedConfig.Tracing)
	if err != nil {
		log.Error().Err(err).Msg("can't set up tracing")
		return 1
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Error().Err(err).Msg("can't flush traces")
		}
	}()

	client := redis.NewClient(oc.RedisOptions())
	defer client.Close()

	pctx, cancel := context.WithTimeout(ctx, oc.Timeout)
	err = client.Ping(pctx).Err()
	cancel()
	if err != nil {
		// Not fatal: chunks stay in the spool until Redis is back
		log.Warn().Err(err).Str("redis", oc.Addr()).Msg("can't reach redis yet")
	}

	var journal storage.KeyValue = &storage.NoOpDB{}
	var opts []output.WriterOption
	var cleanup time.Duration
	if checkedConfig.Rejects != nil {
		db, err := storage.NewBadgerDB(checkedConfig.Rejects)
		if err != nil {
			log.Error().Err(err).Msg("can't open the rejects journal")
			return 1
		}
		journal = db
		cleanup = checkedConfig.Rejects.CleanupInterval
		opts = append(opts, output.WithSkipHandler(spool.NewRejects(db).Record))
		log.Info().
			Str("storageDir", checkedConfig.Rejects.StorageDirPath).
			Msg("journaling skipped records")
	}
	defer func() {
		// Close so BadgerDB flushes to disk
		if err := journal.Close(); err != nil {
			log.Error().Err(err).Msg("can't close the rejects journal")
		}
	}()

	w := output.NewWriter(client, oc, opts...)

	cadence := time.NewTicker(checkedConfig.Spool.Interval)
	defer cadence.Stop()

	err = spool.StartLoop(ctx, &spool.Config{
		TickCh:          cadence.C,
		Journal:         journal,
		CleanupInterval: cleanup,
	}, w, checkedConfig.Spool)
	if err != nil {
		log.Error().Err(err).Msg("error flushing the spool")
		return 1
	}

	log.Info().Msg("exiting")
	return 0
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/Widen/tap-gainsightpx/internal/catalog"
	"github.com/Widen/tap-gainsightpx/internal/config"
	"github.com/Widen/tap-gainsightpx/internal/connector/http"
	"github.com/Widen/tap-gainsightpx/internal/extract"
	"github.com/Widen/tap-gainsightpx/internal/logging"
	"github.com/Widen/tap-gainsightpx/internal/metrics"
	"github.com/Widen/tap-gainsightpx/internal/orchestration"
	"github.com/Widen/tap-gainsightpx/internal/sink"
	"github.com/Widen/tap-gainsightpx/internal/state"
)

const tracerName = "github.com/Widen/tap-gainsightpx"

func runSync(cmd *cobra.Command, opts *rootOptions) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load(ctx, opts.configPath)
	if err != nil {
		return err
	}
	if len(opts.streams) > 0 {
		cfg.Streams = opts.streams
	}

	logger, err := logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}

	streams, err := catalog.Select(cfg.Streams)
	if err != nil {
		return err
	}
	streamCfg, err := cfg.StreamConfig()
	if err != nil {
		return err
	}

	seed, err := readStateDocument(opts.statePath)
	if err != nil {
		return err
	}
	store, closeStore, err := openStateStore(ctx, cfg.State, seed)
	if err != nil {
		return err
	}
	defer closeStore()

	singer := sink.NewSingerWriter(cmd.OutOrStdout())
	out, objects, err := buildSink(ctx, cfg.Sink, singer, logger)
	if err != nil {
		return err
	}

	m := metrics.New("tap_gainsightpx")
	if cfg.MetricsAddr != "" {
		serveCtx, stop := context.WithCancel(ctx)
		defer stop()
		go func() {
			if err := m.Serve(serveCtx, cfg.MetricsAddr); err != nil {
				logger.Error("Metrics server failed", "addr", cfg.MetricsAddr, "error", err)
			}
		}()
	}

	client := http.NewClient(&http.ClientConfig{
		BaseURL:    cfg.APIURL,
		Auth:       http.APIKey{Key: cfg.APIKey},
		Timeout:    cfg.Timeout,
		MaxRetries: cfg.MaxRetries,
		RateLimit:  cfg.RateLimit,
		Logger:     logger,
	})

	engine := extract.NewEngine(client, store, out,
		extract.WithLogger(logger),
		extract.WithTracer(otel.Tracer(tracerName)),
		extract.WithMetrics(m),
	)
	manager := orchestration.NewManager(engine, store,
		orchestration.WithConcurrency(cfg.Concurrency),
		orchestration.WithTracker(m),
		orchestration.WithStateWriter(singer),
		orchestration.WithLogger(logger),
	)

	run, err := manager.Run(ctx, streams, streamCfg)
	if objects != nil {
		logger.InfoContext(ctx, "Objects written", "count", len(objects.Objects()))
	}
	for _, s := range run.Streams {
		logger.InfoContext(ctx, "Stream summary",
			"stream", s.Stream,
			"status", s.Status,
			"records", s.Records,
			"requests", s.Requests,
			"stop", s.Stop,
		)
	}
	return err
}

// =============================================================================
// STATE
// =============================================================================

func readStateDocument(path string) (*state.Document, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}
	doc, err := state.ParseDocument(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

type importer interface {
	Import(ctx context.Context, doc *state.Document) error
}

// openStateStore opens the configured backend and layers the --state
// document over it.
func openStateStore(ctx context.Context, cfg config.StateConfig, seed *state.Document) (state.Store, func(), error) {
	noop := func() {}

	var (
		store   state.Store
		closeFn = noop
	)
	switch cfg.Backend {
	case "", "memory":
		return state.NewMemoryStore(seed), noop, nil
	case "file":
		fs, err := state.OpenFileStore(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		store = fs
	case "postgres":
		pg, err := state.OpenPostgresStore(ctx, cfg.Driver, cfg.DSN, state.DefaultNamespace)
		if err != nil {
			return nil, nil, err
		}
		store = pg
		closeFn = func() { _ = pg.Close() }
	default:
		return nil, nil, fmt.Errorf("unknown state backend %q", cfg.Backend)
	}

	if seed == nil {
		return store, closeFn, nil
	}
	if imp, ok := store.(importer); ok {
		if err := imp.Import(ctx, seed); err != nil {
			closeFn()
			return nil, nil, err
		}
		return store, closeFn, nil
	}
	for _, name := range seed.Streams() {
		b := seed.Bookmarks[name]
		var err error
		if ks, ok := store.(extract.KeyedStateStore); ok {
			err = ks.SetKeyedBookmark(ctx, name, b.ReplicationKey, b.ReplicationKeyValue)
		} else {
			err = store.SetBookmark(ctx, name, b.ReplicationKeyValue)
		}
		if err != nil {
			closeFn()
			return nil, nil, err
		}
	}
	return store, closeFn, nil
}

// =============================================================================
// SINKS
// =============================================================================

func buildSink(ctx context.Context, cfg config.SinkConfig, singer *sink.SingerWriter, logger *slog.Logger) (extract.Sink, *sink.ObjectSink, error) {
	if cfg.Kind != "object" {
		return singer, nil, nil
	}

	var store sink.ObjectStore
	switch {
	case cfg.LocalDir != "":
		store = sink.NewLocalStore(cfg.LocalDir)
	case cfg.Endpoint != "":
		s3, err := sink.NewS3Client(sink.S3Config{
			EndpointURL:     cfg.Endpoint,
			Region:          cfg.Region,
			UseSSL:          cfg.UseSSL,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
		})
		if err != nil {
			return nil, nil, err
		}
		store = s3
	default:
		return nil, nil, errors.New("object sink needs sink.endpoint or sink.local_dir")
	}

	objects, err := sink.NewObjectSink(ctx, store, sink.ObjectConfig{
		Bucket:     cfg.Bucket,
		BasePrefix: cfg.Prefix,
		RunID:      uuid.NewString(),
		Format:     sink.Format(cfg.Format),
		BatchSize:  cfg.BatchSize,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	return sink.Tee{singer, objects}, objects, nil
}

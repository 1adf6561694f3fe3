package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/haivivi/streamx/pkg/cli"
	"github.com/haivivi/streamx/pkg/connpool"
	"github.com/haivivi/streamx/pkg/health"
	"github.com/haivivi/streamx/pkg/kv"
	"github.com/haivivi/streamx/pkg/replay"
	"github.com/haivivi/streamx/pkg/storage"
	"github.com/haivivi/streamx/pkg/streamx"
	"github.com/haivivi/streamx/pkg/streamx/mux"
	"github.com/haivivi/streamx/pkg/streamx/sources"
)

// app is the wired set of components one command works with.
type app struct {
	cfg       *cli.Config
	logger    *slog.Logger
	collector *health.Collector
	mgr       *streamx.Manager
	mux       *mux.Mux

	closers []func() error
}

func newApp(cfg *cli.Config, logger *slog.Logger) (*app, error) {
	collector := health.NewCollector(cfg.Stream.MetricsRetention)
	mgr, err := streamx.NewManager(cfg.Stream,
		streamx.WithLogger(logger),
		streamx.WithCollector(collector),
	)
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:       cfg,
		logger:    logger,
		collector: collector,
		mgr:       mgr,
		mux:       mux.New(mgr, mux.WithLogger(logger)),
	}
	a.closers = append(a.closers, mgr.Close, a.mux.Close)
	return a, nil
}

// Close shuts components down in reverse order of creation.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// reporter pushes snapshots to the configured URL, or logs them.
func (a *app) reporter() *health.Reporter {
	var dst health.Telemetry = health.LogTelemetry(a.logger)
	if a.cfg.Telemetry.URL != "" {
		dst = &health.HTTPTelemetry{URL: a.cfg.Telemetry.URL}
	}
	return health.NewReporter(a.mgr, dst, a.cfg.Telemetry.Interval.Std(),
		health.WithHistory(a.cfg.Telemetry.History),
		health.WithReporterLogger(a.logger),
	)
}

// pool creates a connection pool from the reconnect section.
func (a *app) pool() (*connpool.Pool, error) {
	rc, err := connpool.NewReconnector(a.cfg.Reconnect, nil,
		connpool.WithReconnectorLogger(a.logger),
		connpool.WithOnRetry(func(endpoint string, attempt int, delay time.Duration, err error) {
			a.logger.Info("connpool: retrying", "endpoint", endpoint, "attempt", attempt, "delay", delay, "error", err)
		}),
	)
	if err != nil {
		return nil, err
	}
	p := connpool.NewPool(rc, connpool.WithPoolLogger(a.logger))
	a.closers = append(a.closers, p.Close)
	return p, nil
}

// generator returns the named chunk source.
func (a *app) generator(ctx context.Context, name string) (sources.Generator, error) {
	src := a.cfg.Sources
	switch name {
	case "", "synthetic":
		g := src.Synthetic
		return &g, nil
	case "openai":
		if src.OpenAI.APIKey == "" {
			return nil, errors.New("sources.openai.api_key is not set")
		}
		g := sources.NewOpenAI(src.OpenAI.APIKey, src.OpenAI.BaseURL, src.OpenAI.Model)
		g.System, g.MaxTokens = src.OpenAI.System, src.OpenAI.MaxTokens
		return g, nil
	case "gemini":
		if src.Gemini.APIKey == "" {
			return nil, errors.New("sources.gemini.api_key is not set")
		}
		g, err := sources.NewGemini(ctx, src.Gemini.APIKey, src.Gemini.Model)
		if err != nil {
			return nil, err
		}
		g.System, g.MaxTokens = src.Gemini.System, src.Gemini.MaxTokens
		return g, nil
	}
	return nil, fmt.Errorf("unknown source %q", name)
}

// replayCache opens the replay cache on the configured backend.
func (a *app) replayCache() (*replay.Cache, error) {
	rc := a.cfg.Replay
	opts := []replay.Option{replay.WithLogger(a.logger)}
	switch rc.Backend {
	case cli.BackendMemory:
	case cli.BackendBadger:
		dir, err := a.cfg.ReplayDir()
		if err != nil {
			return nil, err
		}
		store, err := kv.NewBadger(kv.BadgerOptions{Dir: filepath.Join(dir, "badger"), Logger: a.logger})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
		opts = append(opts, replay.WithPersister(replay.NewKVPersister(store)))
	case cli.BackendFile:
		dir, err := a.cfg.ReplayDir()
		if err != nil {
			return nil, err
		}
		fs, err := storage.NewLocal(dir)
		if err != nil {
			return nil, err
		}
		opts = append(opts, replay.WithPersister(replay.NewFilePersister(fs, rc.Prefix)))
	case cli.BackendS3:
		fs := storage.NewS3(newS3Client(rc), rc.Bucket, "")
		opts = append(opts, replay.WithPersister(replay.NewFilePersister(fs, rc.Prefix)))
	default:
		return nil, fmt.Errorf("unknown replay backend %q", rc.Backend)
	}
	cache, err := replay.New(rc.Options(), opts...)
	if err != nil {
		return nil, err
	}
	return cache, nil
}

// newS3Client builds a client from the replay section and the standard
// AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY and AWS_SESSION_TOKEN variables.
func newS3Client(rc cli.ReplayConfig) *s3.Client {
	region := rc.Region
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	creds := aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
		id, secret := os.Getenv("AWS_ACCESS_KEY_ID"), os.Getenv("AWS_SECRET_ACCESS_KEY")
		if id == "" || secret == "" {
			return aws.Credentials{}, errors.New("AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY must be set")
		}
		return aws.Credentials{
			AccessKeyID:     id,
			SecretAccessKey: secret,
			SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
			Source:          "environment",
		}, nil
	})
	return s3.New(s3.Options{
		Region:       region,
		Credentials:  aws.NewCredentialsCache(creds),
		BaseEndpoint: optionalString(rc.Endpoint),
		UsePathStyle: rc.Endpoint != "",
	})
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return aws.String(s)
}

// submit queues one generated stream on the mux. Producer faults reopen
// the generator up to the configured retry budget.
func (a *app) submit(id string, g sources.Generator, prompt string, sink streamx.Sink, prio streamx.Priority) (*mux.Ticket, error) {
	size := a.cfg.Stream.BuilderSize()
	return a.mux.Submit(id, mux.Push(size, sources.Pusher(g, prompt)), sink, prio,
		streamx.WithReopen(sources.Reopener(g, prompt, size)))
}

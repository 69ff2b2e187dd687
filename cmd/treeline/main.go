// Command treeline runs the document ingestion and query workers.
//
// Usage:
//
//	treeline ingest-worker --config config.yaml
//	treeline query-worker --config config.yaml
//	treeline version
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/treeline-ai/treeline/pkg/blob"
	"github.com/treeline-ai/treeline/pkg/config"
	"github.com/treeline-ai/treeline/pkg/embedders"
	"github.com/treeline-ai/treeline/pkg/ingest"
	"github.com/treeline-ai/treeline/pkg/jobs"
	"github.com/treeline-ai/treeline/pkg/lang"
	"github.com/treeline-ai/treeline/pkg/llms"
	"github.com/treeline-ai/treeline/pkg/logger"
	"github.com/treeline-ai/treeline/pkg/metastore"
	"github.com/treeline-ai/treeline/pkg/metrics"
	"github.com/treeline-ai/treeline/pkg/query"
	"github.com/treeline-ai/treeline/pkg/vector"
)

// CLI defines the command-line interface.
type CLI struct {
	Version      VersionCmd      `cmd:"" help:"Show version information."`
	IngestWorker IngestWorkerCmd `cmd:"" name:"ingest-worker" help:"Run the document ingestion worker."`
	QueryWorker  QueryWorkerCmd  `cmd:"" name:"query-worker" help:"Run the query worker."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple, verbose)." default:"simple"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("treeline version %s\n", version)
	return nil
}

// IngestWorkerCmd runs the ingestion pipeline consumer.
type IngestWorkerCmd struct{}

func (c *IngestWorkerCmd) Run(cli *CLI) error {
	return runWorker(cli, func(ctx context.Context, cfg *config.Config, deps *workerDeps) error {
		orchestrator := ingest.NewOrchestrator(ingest.OrchestratorOptions{
			Blobs:            deps.blobs,
			Extractors:       []ingest.DocumentExtractor{ingest.NewTextProcessor(), ingest.NewNativeExtractor()},
			Vision:           deps.llm,
			Chat:             deps.llm,
			Embedder:         deps.embedder,
			Index:            deps.index,
			Meta:             deps.meta,
			Tagger:           lang.NewScriptTagger(),
			VisionEnabled:    cfg.Vision.Enabled != nil && *cfg.Vision.Enabled,
			ExtractorTimeout: time.Duration(cfg.Ingest.ExtractorTimeout) * time.Second,
		})
		return deps.bus.ConsumeIngest(ctx, orchestrator.Handle)
	})
}

// QueryWorkerCmd runs the query loop consumer.
type QueryWorkerCmd struct{}

func (c *QueryWorkerCmd) Run(cli *CLI) error {
	return runWorker(cli, func(ctx context.Context, cfg *config.Config, deps *workerDeps) error {
		orchestrator := query.NewOrchestrator(query.OrchestratorOptions{
			Embedder:            deps.embedder,
			Index:               deps.index,
			Chat:                deps.llm,
			Meta:                deps.meta,
			IterationSoftBudget: time.Duration(cfg.Query.IterationSoftBudget) * time.Second,
		})
		return deps.bus.ConsumeQuery(ctx, orchestrator.Handle)
	})
}

// workerDeps holds the shared external connections.
type workerDeps struct {
	blobs    blob.Store
	llm      *llms.OpenAI
	embedder embedders.Embedder
	index    vector.Index
	meta     metastore.Store
	bus      jobs.Bus
}

func runWorker(cli *CLI, run func(context.Context, *config.Config, *workerDeps) error) error {
	if err := config.LoadDotEnv(); err != nil {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	if cli.LogLevel != "" {
		cfg.Logger.Level = cli.LogLevel
	}
	if cli.LogFile != "" {
		cfg.Logger.File = cli.LogFile
	}

	logFile, closeLog, err := logger.OpenLogFile(cfg.Logger.File)
	if err != nil {
		return err
	}
	defer closeLog()
	logger.Init(logger.ParseLevel(cfg.Logger.Level), logFile, cfg.Logger.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, cleanup, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.Serve(cfg.Metrics.Addr); err != nil {
				slog.Error("Metrics endpoint stopped", "error", err)
			}
		}()
	}

	err = run(ctx, cfg, deps)
	if err == context.Canceled {
		slog.Info("Worker stopped")
		return nil
	}
	return err
}

func connect(ctx context.Context, cfg *config.Config) (*workerDeps, func(), error) {
	deps := &workerDeps{
		llm:      llms.NewOpenAI(cfg.LLM),
		embedder: embedders.NewOpenAI(cfg.Embedder),
	}
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	blobs, err := blob.NewMinio(cfg.Blob)
	if err != nil {
		return nil, nil, err
	}
	deps.blobs = blobs
	if err := blobs.EnsureBucket(ctx); err != nil {
		return nil, nil, err
	}

	meta, err := metastore.NewPostgres(ctx, cfg.Postgres)
	if err != nil {
		return nil, nil, err
	}
	deps.meta = meta
	closers = append(closers, func() { meta.Close() })

	index, err := vector.NewQdrant(cfg.Qdrant)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.index = index
	closers = append(closers, func() { index.Close() })
	if err := index.EnsureCollections(ctx, cfg.Embedder.Dimension); err != nil {
		cleanup()
		return nil, nil, err
	}

	bus, err := jobs.NewAMQP(cfg.Broker)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.bus = bus
	closers = append(closers, func() { bus.Close() })

	return deps, cleanup, nil
}

func main() {
	cli := &CLI{}
	ctx := kong.Parse(cli,
		kong.Name("treeline"),
		kong.Description("Document-grounded question answering workers."),
		kong.UsageOnError(),
	)
	if err := ctx.Run(cli); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

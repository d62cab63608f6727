package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"

	"github.com/retirement-advisor-poc/server/internal/agent/graph"
	"github.com/retirement-advisor-poc/server/internal/agent/model"
	"github.com/retirement-advisor-poc/server/internal/agent/repo"
	"github.com/retirement-advisor-poc/server/internal/config"
	"github.com/retirement-advisor-poc/server/internal/server"
	logx "github.com/retirement-advisor-poc/server/pkg/logger"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logx.Init(logx.LoggerOpts{Environment: cfg.Env()})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := cfg.Postgres.New()
	if err != nil {
		logx.Fatal().Err(err).Msg("Failed to connect to Postgres")
	}
	defer db.Close()
	logx.Info().Msg("Connected to Postgres successfully")

	if err := repo.Migrate(db); err != nil {
		logx.Fatal().Err(err).Msg("Failed to run migrations")
	}

	var (
		rdb         *goredis.Client
		sharedCache model.ClassificationCacheStore
	)
	if cfg.Redis.Enabled() {
		rdb, err = cfg.Redis.New()
		if err != nil {
			logx.Fatal().Err(err).Msg("Failed to initialise Redis client")
		}
		defer rdb.Close()
		sharedCache = repo.NewRedisClassificationCache(rdb, cfg.Redis.KeyPrefix, cfg.Classifier.CacheTTL)
		logx.Info().Msg("Connected to Redis successfully")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	runner, err := graph.BuildResponseGraph(ctx, graph.Config{
		APIKey:             cfg.APIKey,
		BaseURL:            cfg.BaseURL,
		Classifier:         cfg.Classifier,
		SynthesisModel:     cfg.Synthesis,
		JudgeModel:         cfg.Judge,
		Retry:              cfg.Retry,
		Prompt:             cfg.Prompt,
		ToolTimeout:        cfg.ToolTimeout,
		Calculator:         repo.NewSQLCalculator(db),
		Members:            repo.NewPostgresMemberRepository(db),
		Audit:              repo.NewPostgresAuditSink(db),
		ClassificationSink: sharedCache,
		Registerer:         reg,
	})
	if err != nil {
		logx.Fatal().Err(err).Msg("Failed to build graph")
	}

	switch cfg.Mode {
	case config.ModeDemo:
		runDemo(ctx, runner)
	default:
		srv := server.New(cfg.Server, runner, reg, healthChecks(db, rdb))
		if err := srv.Run(ctx); err != nil {
			logx.Fatal().Err(err).Msg("HTTP server failed")
		}
	}
}

func healthChecks(db *sql.DB, rdb *goredis.Client) map[string]server.Pinger {
	checks := map[string]server.Pinger{"postgres": db.PingContext}
	if rdb != nil {
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	return checks
}

// runDemo answers a fixed set of queries covering each country and the
// off-topic path.
func runDemo(ctx context.Context, runner *graph.Runner) {
	amount := 50000.0
	testQueries := []struct {
		description string
		in          model.QueryInput
	}{
		{
			description: "AU lump-sum withdrawal tax",
			in:          model.QueryInput{MemberID: "AU-1001", Country: "AU", Query: "How much tax will I pay if I withdraw $50,000 from my super?", Amount: &amount},
		},
		{
			description: "US early withdrawal penalty",
			in:          model.QueryInput{MemberID: "US-2001", Country: "US", Query: "What penalty applies if I cash out my 401(k) at 52?"},
		},
		{
			description: "UK state pension",
			in:          model.QueryInput{MemberID: "UK-3001", Country: "UK", Query: "When can I get my state pension and how much will it be?"},
		},
		{
			description: "IN corpus projection",
			in:          model.QueryInput{MemberID: "IN-4001", Country: "IN", Query: "Will my EPF corpus be enough to retire at 58?"},
		},
		{
			description: "Off-topic",
			in:          model.QueryInput{MemberID: "AU-1001", Country: "AU", Query: "What's the weather like today?"},
		},
	}

	for i, test := range testQueries {
		if ctx.Err() != nil {
			return
		}
		logx.Info().Int("test", i+1).Str("description", test.description).Str("query", test.in.Query).Msg("Processing demo query")

		res, err := runner.Invoke(ctx, test.in)
		if err != nil {
			logx.Error().Err(err).Int("test", i+1).Msg("Failed to invoke graph")
			continue
		}

		fmt.Printf("\n=== Test %d: %s ===\n%s\n", i+1, test.description, res.ResponseText)
		fmt.Printf("state=%s attempts=%d validated=%v cost=$%.6f duration=%.2fs\n",
			res.FinalState, res.Attempts, res.Validated, res.TotalCostUSD, res.DurationS)

		// add slight delay between tests for readability
		time.Sleep(500 * time.Millisecond)
	}

	if snap, ok := runner.ClassifierStats(); ok {
		logx.Info().
			Int64("total", snap.Total).
			Int64("cache_hits", snap.CacheHits).
			Float64("avg_latency_ms", snap.AvgLatencyMs).
			Msg("Classifier statistics")
	}
}

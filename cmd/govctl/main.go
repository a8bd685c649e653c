// Command govctl runs the autonomous governance core, or queries a
// running instance's gov-* status surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/timbrinded/degen-ai-sub000/internal/cache"
	"github.com/timbrinded/degen-ai-sub000/internal/config"
	"github.com/timbrinded/degen-ai-sub000/internal/scheduler"
	"github.com/timbrinded/degen-ai-sub000/internal/workers"
	"github.com/timbrinded/degen-ai-sub000/pkg/types"
)

const (
	exitOK      = 0
	exitError   = 1
	exitSigint  = 130
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: govctl <start|status|gov-plan|gov-regime|gov-tripwire|gov-metrics> [flags]")
		return exitError
	}

	cmd := args[0]
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	configPath := fs.String("config", "config.yaml", "path to the governance config file")
	logLevel := fs.String("log-level", "", "override agent.log_level")
	async := fs.Bool("async", true, "run the scheduler asynchronously (false blocks start in the foreground either way)")
	if err := fs.Parse(args[1:]); err != nil {
		return exitError
	}
	_ = async

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return exitError
	}
	if *logLevel != "" {
		cfg.Agent.LogLevel = *logLevel
	}

	logger := setupLogger(cfg.Agent.LogLevel)
	defer logger.Sync()

	switch cmd {
	case "start":
		return cmdStart(cfg, logger)
	case "status":
		return cmdQuery(cfg, "/api/v1/status")
	case "gov-plan":
		return cmdQuery(cfg, "/api/v1/gov/plan")
	case "gov-regime":
		return cmdQuery(cfg, "/api/v1/gov/regime")
	case "gov-tripwire":
		return cmdQuery(cfg, "/api/v1/gov/tripwire")
	case "gov-metrics":
		return cmdQuery(cfg, "/api/v1/gov/metrics")
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", cmd)
		return exitError
	}
}

// cmdQuery is a thin HTTP client against the status server a `start`
// instance already has running, used by every gov-* read subcommand.
func cmdQuery(cfg *config.Config, path string) int {
	addr := cfg.Observability.Addr
	resp, err := http.Get("http://" + hostForAddr(addr) + path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "query failed: %v\n", err)
		return exitError
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reading response: %v\n", err)
		return exitError
	}
	fmt.Println(string(body))
	if resp.StatusCode >= 400 {
		return exitError
	}
	return exitOK
}

func hostForAddr(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		return "localhost" + addr
	}
	return addr
}

// cmdStart wires every component together and runs the scheduler until
// SIGINT/SIGTERM.
func cmdStart(cfg *config.Config, logger *zap.Logger) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := wire(cfg, logger)
	if err != nil {
		logger.Error("wiring failed", zap.Error(err))
		return exitError
	}

	sweep, err := cache.NewSweepJob(app.cache, "*/5 * * * *", logger)
	if err != nil {
		logger.Error("cache sweep setup failed", zap.Error(err))
		return exitError
	}
	sweep.Start()
	defer sweep.Stop()

	sched := scheduler.New(scheduler.Config{
		FastInterval:   cfg.Governance.FastLoopInterval,
		MediumInterval: cfg.Governance.MediumLoopInterval,
		SlowInterval:   cfg.Governance.SlowLoopInterval,
	}, app.fastLoop, app.mediumLoop, app.slowLoop, logger)

	httpErrCh := make(chan error, 1)
	go func() { httpErrCh <- app.http.Start(ctx) }()

	sched.Start(ctx)

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		sched.Stop()
		<-httpErrCh
		return exitSigint
	case err := <-httpErrCh:
		if err != nil {
			logger.Error("status server exited", zap.Error(err))
			sched.Stop()
			return exitError
		}
		sched.Stop()
		return exitOK
	}
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	zcfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zcfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}

func assetIdentities(cfg *config.Config) []types.AssetIdentity {
	out := make([]types.AssetIdentity, 0, len(cfg.Assets))
	for _, a := range cfg.Assets {
		out = append(out, types.AssetIdentity{
			CanonicalSymbol: a.CanonicalSymbol,
			WalletAlias:     a.WalletAlias,
			PerpAlias:       a.PerpAlias,
			SpotAliases:     a.SpotAliases,
			DefaultQuote:    a.DefaultQuote,
		})
	}
	return out
}

func poolConfigFromCfg() *workers.PoolConfig {
	return workers.DefaultPoolConfig("govctl")
}

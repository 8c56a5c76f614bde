package serverrun

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	cfgpkg "github.com/rzbill/evlog/internal/config"
	"github.com/rzbill/evlog/internal/runtime"
	grpcserver "github.com/rzbill/evlog/internal/server/grpc"
	httpserver "github.com/rzbill/evlog/internal/server/http"
	logpkg "github.com/rzbill/evlog/pkg/log"
)

type Options struct {
	GRPCAddr string
	HTTPAddr string
	Config   cfgpkg.Config
	// Ready, when set, is closed once the runtime is open and the servers
	// are starting.
	Ready chan<- struct{}
}

// NewLogger builds the process logger from cfg. An invalid config falls
// back to a text logger at the configured level, or info.
func NewLogger(cfg logpkg.Config) logpkg.Logger {
	l, err := logpkg.ApplyConfig(&cfg)
	if err == nil {
		return l
	}
	lvl := logpkg.InfoLevel
	if parsed, e := logpkg.ParseLevel(cfg.Level); e == nil {
		lvl = parsed
	}
	l = logpkg.NewLogger(logpkg.WithLevel(lvl), logpkg.WithFormatter(&logpkg.TextFormatter{}))
	l.Warn("invalid log config, using defaults", logpkg.Err(err))
	return l
}

// Run opens the runtime, starts the alarm coordinator and the gRPC and HTTP
// servers, and blocks until ctx is cancelled, a signal arrives or one of
// them fails.
func Run(ctx context.Context, opts Options) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := opts.Config
	if cfg.DataDir == "" {
		cfg.DataDir = cfgpkg.DefaultDataDir()
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := NewLogger(cfg.Log)
	logpkg.RedirectStdLog(logger)

	rt, err := runtime.Open(runtime.Options{Config: cfg, Logger: logger})
	if err != nil {
		return err
	}
	defer rt.Close()

	logger.Info("starting evlog server",
		logpkg.Str("grpc", opts.GRPCAddr),
		logpkg.Str("http", opts.HTTPAddr),
		logpkg.Str("data_dir", cfg.DataDir),
		logpkg.Str("uplink", cfg.Uplink.Kind),
	)

	gsrv := grpcserver.New(rt, logger)
	hsrv := httpserver.New(rt, logger)

	g, gctx := errgroup.WithContext(sctx)
	g.Go(func() error { return rt.Run(gctx) })
	if opts.GRPCAddr != "" {
		g.Go(func() error { return gsrv.ListenAndServe(gctx, opts.GRPCAddr) })
	}
	if opts.HTTPAddr != "" {
		g.Go(func() error { return hsrv.ListenAndServe(gctx, opts.HTTPAddr) })
	}
	if opts.Ready != nil {
		close(opts.Ready)
	}

	err = g.Wait()
	// servers go down before the runtime closes the database
	gsrv.Close()
	hsrv.Close()
	if err != nil {
		logger.Error("server stopped", logpkg.Err(err))
		return err
	}
	logger.Info("server stopped")
	return nil
}

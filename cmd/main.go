package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/angeloszaimis/tcp-router/config"
	"github.com/angeloszaimis/tcp-router/pkg/logger"
)

func main() {
	os.Exit(run())
}

func run() int {
	fs := pflag.NewFlagSet(os.Args[0], pflag.ExitOnError)
	config.RegisterFlags(fs)
	_ = fs.Parse(os.Args[1:])

	configPath, _ := fs.GetString("config")

	cfg, err := config.Load(configPath, fs)
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		return 1
	}

	log, closeLog, err := newLogger(cfg)
	if err != nil {
		slog.Error("failed to open log file", slog.Any("err", err))
		return 1
	}
	defer closeLog()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(cfg, log)
	if err != nil {
		log.Error("Failed to build router", slog.Any("err", err))
		return 1
	}

	if err := a.listen(ctx); err != nil {
		log.Error("Failed to bind", slog.Any("err", err))
		return 1
	}

	if err := a.run(ctx); err != nil {
		log.Error("Router stopped with error", slog.Any("err", err))
		return 1
	}

	log.Info("Shut down gracefully")
	return 0
}

// newLogger builds the process logger. When logging.file is set, records are
// also appended to that file.
func newLogger(cfg *config.Config) (*slog.Logger, func(), error) {
	if cfg.Logging.File == "" {
		return logger.New(cfg.Logging.Level, true, cfg.Server.Environment), func() {}, nil
	}

	f, err := logger.OpenFile(cfg.Logging.File)
	if err != nil {
		return nil, nil, fmt.Errorf("opening %s: %w", cfg.Logging.File, err)
	}

	closeFn := func() { _ = f.Close() }

	return logger.NewWithWriter(logger.Tee(f), cfg.Logging.Level, true, cfg.Server.Environment), closeFn, nil
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/noah-isme/journal-insights-api/internal/bootstrap"
	"github.com/noah-isme/journal-insights-api/internal/models"
	"github.com/noah-isme/journal-insights-api/pkg/config"
	appErrors "github.com/noah-isme/journal-insights-api/pkg/errors"
	"github.com/noah-isme/journal-insights-api/pkg/logger"
)

// Exit codes: 0 success, 1 run failed, 2 skipped students, 3 another run holds the lock.
func main() {
	mode := flag.String("mode", string(models.RunModeFull), "Run mode: full or incremental")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	container, err := bootstrap.New(ctx, cfg, logr)
	if err != nil {
		logr.Fatal("bootstrap failed", zap.Error(err))
	}

	code := run(ctx, container, models.RunMode(*mode), logr)
	container.Close()
	os.Exit(code)
}

func run(ctx context.Context, container *bootstrap.Container, mode models.RunMode, logr *zap.Logger) int {
	result, err := container.Analysis.Run(ctx, mode)
	if result != nil {
		if out, marshalErr := json.MarshalIndent(result.Summary, "", "  "); marshalErr == nil {
			fmt.Println(string(out))
		}
	}
	switch {
	case errors.Is(err, appErrors.ErrAnalysisInProgress):
		logr.Warn("analysis already running", zap.Error(err))
		return 3
	case err != nil:
		logr.Error("analysis failed", zap.Error(err))
		return 1
	case result.Summary.StudentsFailed > 0:
		return 2
	}
	return 0
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/arturoeanton/go-helpdesk-rag/internal/bootstrap"
	"github.com/arturoeanton/go-helpdesk-rag/internal/cli"
	"github.com/arturoeanton/go-helpdesk-rag/pkg/config"
)

func main() {
	_ = godotenv.Load()

	cli.SetLoader(func(ctx context.Context) (*cli.Services, func(), error) {
		cfg := config.Load()
		if err := cfg.Validate(); err != nil {
			return nil, nil, fmt.Errorf("invalid configuration: %w", err)
		}
		app, err := bootstrap.New(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return &cli.Services{
			Indexer:  app.Indexer,
			Pipeline: app.Pipeline,
			Clusters: app.Clusters,
			Users:    app.Auth,
		}, app.Close, nil
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.Execute(ctx); err != nil {
		os.Exit(1)
	}
}

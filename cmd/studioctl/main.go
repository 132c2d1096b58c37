package main

import (
	"context"
	"fmt"
	"os"

	"github.com/atelier-ops/atelier/cmd/studioctl/cli"
	"github.com/atelier-ops/atelier/internal/app"
	"github.com/atelier-ops/atelier/internal/auth"
	"github.com/atelier-ops/atelier/internal/platform/cache"
	"github.com/atelier-ops/atelier/internal/platform/db"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := app.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ctx := context.Background()

	jobsCLI := cli.NewJobsCLI(cfg.AsynqRedisOpt())
	defer jobsCLI.Close()

	cliApp := &cli.App{
		Jobs:   jobsCLI,
		Schema: db.Schema,
		Migrate: func(ctx context.Context) error {
			pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: 2})
			if err != nil {
				return err
			}
			defer pool.Close()
			return db.EnsureSchema(ctx, pool)
		},
	}

	redisClient, err := cache.New(ctx, cfg.RedisOptions())
	if err == nil {
		defer redisClient.Close()
		cliApp.Sessions = auth.NewSessionStore(redisClient, cfg.SessionPrefix)
	}

	return cli.NewRootCmd(cliApp).ExecuteContext(ctx)
}

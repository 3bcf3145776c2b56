package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shaiso/Relay/internal/config"
	"github.com/shaiso/Relay/internal/repo"
	"github.com/shaiso/Relay/internal/repo/memory"
)

// stores — набор репозиториев выбранного хранилища.
type stores struct {
	executions repo.Executions
	runs       repo.Runs
	workers    repo.Workers
	tasks      repo.Tasks
	workflows  repo.Workflows
	settings   repo.Settings
	variables  repo.Variables
	tags       repo.TagIndex

	health func(ctx context.Context) error
	close  func()
}

func openStores(ctx context.Context, cfg *config.Config, seedPath string, logger *slog.Logger) (*stores, error) {
	if cfg.Store == config.StoreMemory {
		return openMemory(seedPath, logger)
	}
	return openPostgres(ctx, cfg.Database.URL, logger)
}

func openPostgres(ctx context.Context, dsn string, logger *slog.Logger) (*stores, error) {
	pool, err := repo.NewPool(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	logger.Info("connected to database")

	return &stores{
		executions: repo.NewExecutionRepo(pool),
		runs:       repo.NewRunRepo(pool),
		workers:    repo.NewWorkerRepo(pool),
		tasks:      repo.NewTaskRepo(pool),
		workflows:  repo.NewWorkflowRepo(pool),
		settings:   repo.NewSettingsRepo(pool),
		variables:  repo.NewVariableRepo(pool),
		tags:       repo.NewTagRepo(pool),
		health:     pool.Ping,
		close:      pool.Close,
	}, nil
}

func openMemory(seedPath string, logger *slog.Logger) (*stores, error) {
	store := memory.New()

	if seedPath != "" {
		seed, err := memory.LoadSeed(seedPath)
		if err != nil {
			return nil, err
		}
		store.Apply(seed)
		logger.Info("catalog loaded",
			"path", seedPath,
			"tasks", len(seed.Tasks),
			"workflows", len(seed.Workflows),
		)
	} else {
		logger.Warn("memory store without seed, catalog is empty")
	}

	return &stores{
		executions: store.Executions(),
		runs:       store.Runs(),
		workers:    store.Workers(),
		tasks:      store.Tasks(),
		workflows:  store.Workflows(),
		settings:   store.Settings(),
		variables:  store.Variables(),
		tags:       store.Tags(),
		close:      func() {},
	}, nil
}

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/scrypster/capsule/internal/config"
	"github.com/scrypster/capsule/internal/engine"
	"github.com/scrypster/capsule/internal/llm"
	"github.com/scrypster/capsule/internal/metrics"
	"github.com/scrypster/capsule/internal/onboarding"
	"github.com/scrypster/capsule/internal/storage"
	"github.com/scrypster/capsule/internal/storage/postgres"
	"github.com/scrypster/capsule/internal/storage/sqlite"
)

// openStore opens the configured storage engine.
func openStore(cfg *config.Config, logger *zap.Logger) (storage.Store, error) {
	switch cfg.Storage.Engine {
	case "postgres":
		return postgres.NewStore(cfg.Storage.PostgresDSN, postgres.WithLogger(logger))
	default:
		if err := os.MkdirAll(cfg.Storage.DataPath, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
		return sqlite.NewStore(cfg.Storage.SQLitePath(), sqlite.WithLogger(logger))
	}
}

// app holds the wired journaling components.
type app struct {
	store     storage.Store
	questions onboarding.QuestionSet
	machine   *engine.Machine
	journal   *engine.JournalService
	composer  *engine.ContextComposer
}

// appOptions are the optional collaborators of buildApp.
type appOptions struct {
	events   engine.EventSink
	registry prometheus.Registerer
	// generator replaces the configured provider; used by tests.
	generator llm.ChatGenerator
}

// buildApp opens storage, loads the question set and connects the model.
func buildApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts appOptions) (*app, error) {
	questions, err := onboarding.Load(cfg.Onboarding.QuestionsPath)
	if err != nil {
		return nil, err
	}

	gen := opts.generator
	if gen == nil {
		if err := cfg.LLM.Validate(); err != nil {
			return nil, err
		}
		gen, err = llm.NewChatGenerator(ctx, cfg.LLM, logger)
		if err != nil {
			return nil, fmt.Errorf("connect to %s: %w", cfg.LLM.Provider, err)
		}
	}

	store, err := openStore(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", cfg.Storage.Engine, err)
	}

	composer := engine.NewContextComposer(questions,
		engine.NewKnowledgeAggregator(cfg.Knowledge.MaxValuesPerType, cfg.Knowledge.MaxPreviewChars))

	jopts := []engine.JournalOption{engine.WithLogger(logger)}
	if opts.events != nil {
		jopts = append(jopts, engine.WithEventSink(opts.events))
	}
	if opts.registry != nil {
		jopts = append(jopts, engine.WithMetrics(metrics.New(opts.registry)))
	}

	return &app{
		store:     store,
		questions: questions,
		machine:   engine.NewMachine(store, questions, logger),
		journal:   engine.NewJournalService(store, gen, composer, jopts...),
		composer:  composer,
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

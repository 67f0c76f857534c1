package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/ArionMiles/upiledger/pkg/categorizer"
	"github.com/ArionMiles/upiledger/pkg/classifier/bedrock"
	"github.com/ArionMiles/upiledger/pkg/classifier/gemini"
	"github.com/ArionMiles/upiledger/pkg/classifier/openai"
	"github.com/ArionMiles/upiledger/pkg/config"
	"github.com/ArionMiles/upiledger/pkg/orchestrator"
	"github.com/ArionMiles/upiledger/pkg/parser"
	"github.com/ArionMiles/upiledger/pkg/store"
	"github.com/ArionMiles/upiledger/pkg/store/memory"
	"github.com/ArionMiles/upiledger/pkg/store/postgres"
)

// app holds the collaborators a command needs. Fields are filled lazily by
// the open* helpers; close releases whatever was opened.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	store  store.Store
	closer func()
}

func newApp(flags *globalFlags) (*app, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &app{cfg: cfg, logger: slog.Default()}, nil
}

func (a *app) close() {
	if a.closer != nil {
		a.closer()
	}
}

// openStore connects to PostgreSQL when DATABASE_URL is set and otherwise
// keeps transactions in memory for the life of the process.
func (a *app) openStore(ctx context.Context) (store.Store, error) {
	if a.store != nil {
		return a.store, nil
	}

	if a.cfg.DatabaseURL == "" {
		a.logger.Warn("DATABASE_URL not set, transactions are kept in memory only")
		a.store = memory.New()
		return a.store, nil
	}

	pg, err := postgres.New(ctx, postgres.Config{
		URL:         a.cfg.DatabaseURL,
		MaxPoolSize: int(a.cfg.DatabaseMaxConns),
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	a.store = pg
	a.closer = pg.Close
	return a.store, nil
}

// newParser returns the built-in templates followed by any from TemplatesFile.
func (a *app) newParser() (*parser.Parser, error) {
	templates := parser.DefaultTemplates()

	if a.cfg.TemplatesFile != "" {
		f, err := os.Open(a.cfg.TemplatesFile)
		if err != nil {
			return nil, fmt.Errorf("opening templates file: %w", err)
		}
		defer f.Close()

		extra, err := parser.LoadTemplates(f)
		if err != nil {
			return nil, fmt.Errorf("loading templates from %s: %w", a.cfg.TemplatesFile, err)
		}
		templates = append(templates, extra...)
	}

	return parser.New(templates...), nil
}

// newClassifier builds the configured provider. The "none" provider yields a
// nil classifier.
func (a *app) newClassifier(ctx context.Context) (categorizer.Classifier, error) {
	if err := a.cfg.ValidateClassifier(); err != nil {
		return nil, err
	}

	logger := a.logger.With("classifier", a.cfg.Classifier)

	switch a.cfg.Classifier {
	case config.ClassifierGemini:
		return gemini.New(ctx, a.cfg.GeminiAPIKey, a.cfg.GeminiModel, logger)
	case config.ClassifierOpenAI:
		return openai.New(openai.Config{
			APIKey:  a.cfg.OpenAIAPIKey,
			Model:   a.cfg.OpenAIModel,
			BaseURL: a.cfg.OpenAIBaseURL,
		}, logger)
	case config.ClassifierBedrock:
		return bedrock.New(ctx, a.cfg.BedrockRegion, a.cfg.BedrockModelID, logger)
	default:
		return nil, nil
	}
}

func (a *app) newCategorizer(ctx context.Context) (*categorizer.Categorizer, error) {
	cl, err := a.newClassifier(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating %s classifier: %w", a.cfg.Classifier, err)
	}
	return categorizer.New(cl,
		categorizer.WithPolicy(a.cfg.Policy()),
		categorizer.WithLogger(a.logger),
	), nil
}

// newCoordinator wires parser, categorizer and store into an ingestion coordinator.
func (a *app) newCoordinator(ctx context.Context) (*orchestrator.Coordinator, *categorizer.Categorizer, error) {
	p, err := a.newParser()
	if err != nil {
		return nil, nil, err
	}
	cat, err := a.newCategorizer(ctx)
	if err != nil {
		return nil, nil, err
	}
	st, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	return orchestrator.New(p, cat, st, a.logger), cat, nil
}

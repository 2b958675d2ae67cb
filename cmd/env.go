package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ricardoalt1515/DSR-AI-sub000/internal/agent"
	"github.com/ricardoalt1515/DSR-AI-sub000/internal/extract"
	"github.com/ricardoalt1515/DSR-AI-sub000/internal/importer"
	"github.com/ricardoalt1515/DSR-AI-sub000/internal/metrics"
	"github.com/ricardoalt1515/DSR-AI-sub000/internal/parser"
	"github.com/ricardoalt1515/DSR-AI-sub000/internal/questionnaire"
	"github.com/ricardoalt1515/DSR-AI-sub000/internal/resilience"
	"github.com/ricardoalt1515/DSR-AI-sub000/internal/storage"
	"github.com/ricardoalt1515/DSR-AI-sub000/internal/store"
	"github.com/ricardoalt1515/DSR-AI-sub000/pkg/anthropic"
)

// appEnv holds the wired dependencies shared by commands.
type appEnv struct {
	Store   store.Store
	Service *importer.Service
	Metrics *metrics.Metrics
}

// Close releases the store.
func (e *appEnv) Close() {
	if e.Store != nil {
		if err := e.Store.Close(); err != nil {
			zap.L().Warn("close store", zap.Error(err))
		}
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "bulk-import.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, cfg.Store.Pool())
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initStorage(ctx context.Context) (storage.Storage, error) {
	switch cfg.Storage.Driver {
	case "local":
		return storage.NewLocal(cfg.Storage.LocalRoot)
	case "s3":
		return storage.NewS3FromEnv(ctx, storage.S3Options{
			Bucket:   cfg.Storage.S3Bucket,
			Prefix:   cfg.Storage.S3Prefix,
			Region:   cfg.Storage.S3Region,
			Endpoint: cfg.Storage.S3Endpoint,
		})
	default:
		return nil, eris.Errorf("unsupported storage driver: %s", cfg.Storage.Driver)
	}
}

// initAgent builds the extraction agent: Anthropic for documents, the
// configured provider for text, both behind the rate limiter and breaker.
func initAgent() (agent.Agent, error) {
	ai := cfg.AI
	if ai.AnthropicKey == "" {
		return nil, eris.New("anthropic key is required (BULKIMPORT_AI_ANTHROPIC_KEY)")
	}
	claude := agent.NewClaudeAgent(anthropic.NewClient(ai.AnthropicKey, ai.AnthropicBaseURL), ai.AnthropicModel, ai.MaxTokens)

	var text agent.TextAgent = claude
	switch ai.Provider {
	case "anthropic":
	case "openai":
		if ai.OpenAIKey == "" {
			return nil, eris.New("openai key is required (BULKIMPORT_AI_OPENAI_KEY)")
		}
		text = agent.NewOpenAIAgent(ai.OpenAIKey, ai.OpenAIBaseURL, ai.OpenAIModel)
	default:
		return nil, eris.Errorf("unsupported ai provider: %s", ai.Provider)
	}

	breaker := resilience.NewCircuitConfig(ai.BreakerThreshold, ai.BreakerResetSecs)
	return agent.NewGuarded(agent.Composite{DocumentAgent: claude, TextAgent: text}, ai.RequestsPerMinute, breaker), nil
}

func initParser() parser.Extractor {
	limits := cfg.ParserLimits()
	if !cfg.Parser.Isolate {
		return parser.InProcess{Limits: limits}
	}
	return &parser.Isolated{
		Timeout: time.Duration(cfg.Parser.TimeoutSecs) * time.Second,
		Limits:  limits,
	}
}

func initQuestionnaire() (questionnaire.Provider, error) {
	if p := cfg.Importer.QuestionnairePath; p != "" {
		return questionnaire.Load(p)
	}
	return questionnaire.Default()
}

// initEnv opens the store, migrates it and builds the importer service.
// Commands that never process runs pass withAgent=false and skip the AI
// credentials.
func initEnv(ctx context.Context, withAgent bool) (*appEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &appEnv{Store: st, Metrics: metrics.New()}
	if err := st.Migrate(ctx); err != nil {
		env.Close()
		return nil, err
	}

	objects, err := initStorage(ctx)
	if err != nil {
		env.Close()
		return nil, err
	}
	templates, err := initQuestionnaire()
	if err != nil {
		env.Close()
		return nil, err
	}

	var ex importer.Extractor
	if withAgent {
		a, err := initAgent()
		if err != nil {
			env.Close()
			return nil, err
		}
		ex = extract.NewAdapter(a, initParser(), time.Duration(cfg.AI.TimeoutSecs)*time.Second)
	}

	env.Service = importer.New(st, objects, ex, templates, cfg.ImporterSettings(), importer.WithMetrics(env.Metrics))
	return env, nil
}

package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nugget/taskpilot/internal/activetask"
	"github.com/nugget/taskpilot/internal/agent"
	"github.com/nugget/taskpilot/internal/config"
	"github.com/nugget/taskpilot/internal/contacts"
	"github.com/nugget/taskpilot/internal/docs"
	"github.com/nugget/taskpilot/internal/email"
	"github.com/nugget/taskpilot/internal/embeddings"
	"github.com/nugget/taskpilot/internal/facts"
	"github.com/nugget/taskpilot/internal/focus"
	"github.com/nugget/taskpilot/internal/guidelines"
	"github.com/nugget/taskpilot/internal/interactions"
	"github.com/nugget/taskpilot/internal/learning"
	"github.com/nugget/taskpilot/internal/llm"
	"github.com/nugget/taskpilot/internal/llmlog"
	"github.com/nugget/taskpilot/internal/memory"
	"github.com/nugget/taskpilot/internal/observability"
	"github.com/nugget/taskpilot/internal/recall"
	"github.com/nugget/taskpilot/internal/tools"
	"github.com/nugget/taskpilot/internal/usage"
)

// mainDB holds the transcript, model log, usage, guidelines, focus and
// active task tables. Facts and long-term memory have their own files.
const mainDB = "taskpilot.db"

// app is the wired agent: stores, tools, loop and conversation manager.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	db         *sql.DB
	facts      *facts.Store
	memory     memory.Store
	turns      *interactions.Store
	guidelines *guidelines.Store
	usage      *usage.Store
	ledger     *usage.Ledger
	metrics    *observability.Metrics
	tools      *tools.Registry
	loop       *agent.Loop
	manager    *agent.Manager

	closers []io.Closer
}

// openStores opens the databases without building the model side. The
// admin subcommands need nothing more.
func openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	a := &app{cfg: cfg, logger: logger}

	db, err := sql.Open("sqlite3", cfg.DBPath(mainDB)+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.db = db
	a.closers = append(a.closers, db)

	if a.turns, err = interactions.NewStoreWithDB(db); err != nil {
		return nil, a.fail(fmt.Errorf("interactions store: %w", err))
	}
	if a.guidelines, err = guidelines.NewStoreWithDB(db); err != nil {
		return nil, a.fail(fmt.Errorf("guidelines store: %w", err))
	}
	a.guidelines.Seed = guidelines.Defaults(cfg.Agent.UserName)
	if a.usage, err = usage.NewStoreWithDB(db); err != nil {
		return nil, a.fail(fmt.Errorf("usage store: %w", err))
	}

	if a.facts, err = facts.NewStore(cfg.DBPath("facts.db")); err != nil {
		return nil, a.fail(fmt.Errorf("fact store: %w", err))
	}
	a.closers = append(a.closers, a.facts)

	if a.memory, err = memory.NewStore(ctx, cfg.Memory, cfg.DataDir); err != nil {
		return nil, a.fail(fmt.Errorf("memory store: %w", err))
	}
	a.closers = append(a.closers, a.memory)

	logger.Debug("stores opened", "data_dir", cfg.DataDir, "memory_backend", cfg.Memory.Backend)
	return a, nil
}

// newApp wires everything a turn needs.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a, err := openStores(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	focusStore, err := focus.NewStoreWithDB(a.db)
	if err != nil {
		return nil, a.fail(fmt.Errorf("focus store: %w", err))
	}
	taskStore, err := activetask.NewStoreWithDB(a.db)
	if err != nil {
		return nil, a.fail(fmt.Errorf("active task store: %w", err))
	}
	logStore, err := llmlog.NewStoreWithDB(a.db)
	if err != nil {
		return nil, a.fail(fmt.Errorf("llm log store: %w", err))
	}

	provider, err := llm.New(cfg.LLM, logger)
	if err != nil {
		return nil, a.fail(fmt.Errorf("llm provider: %w", err))
	}
	embedder, err := embeddings.New(cfg.Embeddings, logger)
	if err != nil {
		return nil, a.fail(fmt.Errorf("embeddings: %w", err))
	}

	a.metrics = observability.NewMetrics(cfg.Metrics.Namespace, nil)
	a.ledger = usage.NewLedger(a.usage, cfg.Pricing, logger)

	a.tools = tools.NewRegistry()
	facts.RegisterTools(a.tools, a.facts)
	activetask.RegisterTools(a.tools, taskStore)
	usage.RegisterTools(a.tools, a.usage)
	if err := a.registerIntegrations(); err != nil {
		return nil, a.fail(err)
	}

	assembler := recall.NewAssembler(recall.Deps{
		Facts:      a.facts,
		Focus:      focusStore,
		ActiveTask: taskStore,
		Memory:     a.memory,
		Embedder:   embedder,
		Metrics:    a.metrics,
		Logger:     logger,
	}, recall.Config{
		RecentLimit:  cfg.Agent.RecentMemories,
		SimilarLimit: cfg.Agent.SimilarMemories,
		UserLabel:    cfg.Agent.UserName,
	})

	a.loop, err = agent.NewLoop(agent.Deps{
		Provider:   provider,
		Tools:      a.tools,
		Recall:     assembler,
		Guidelines: a.guidelines,
		Turns:      a.turns,
		Memory:     a.memory,
		Embedder:   embedder,
		Focus:      focusStore,
		Recorder:   llmlog.NewRecorder(logStore, logger, a.metrics.LLMLogFailures),
		Ledger:     a.ledger,
		Metrics:    a.metrics,
		Logger:     logger,
		Config: agent.Config{
			MaxIterations: cfg.Agent.MaxIterations,
			UserName:      cfg.Agent.UserName,
			Temperature:   cfg.LLM.Temperature,
			MaxTokens:     cfg.LLM.MaxTokens,
		},
	})
	if err != nil {
		return nil, a.fail(err)
	}

	learner := learning.NewObserver(a.guidelines, a.turns, logger)
	a.manager = agent.NewManager(a.loop, a.turns, learner, logger)

	logger.Info("agent ready",
		"provider", provider.Name(),
		"model", provider.Model(),
		"tools", len(a.tools.Names()),
	)
	return a, nil
}

// registerIntegrations adds the email, document and contact tools for
// whichever services are configured.
func (a *app) registerIntegrations() error {
	cfg := a.cfg

	if cfg.EmailConfigured() {
		mail := email.NewClient(cfg.Email.IMAP, a.logger)
		a.closers = append(a.closers, mail)
		var send email.SendFunc
		if cfg.Email.SMTP.Host != "" {
			send = email.SMTPSender(cfg.Email.SMTP)
		}
		email.RegisterTools(a.tools, mail, send, cfg.Email)
		a.logger.Info("email tools enabled", "imap", cfg.Email.IMAP.Host, "smtp", cfg.Email.SMTP.Host != "")
	}

	if cfg.DocumentsConfigured() {
		client, err := docs.NewClient(cfg.Documents)
		if err != nil {
			return fmt.Errorf("documents: %w", err)
		}
		lib, err := docs.NewLibrary(client, cfg.Documents.URL, cfg.Documents.Root, a.logger)
		if err != nil {
			return fmt.Errorf("documents: %w", err)
		}
		docs.RegisterTools(a.tools, lib)
		a.logger.Info("document tools enabled", "url", cfg.Documents.URL, "root", cfg.Documents.Root)
	}

	if cfg.ContactsConfigured() {
		dir, err := contacts.NewCardDAV(cfg.Contacts, a.logger)
		if err != nil {
			return fmt.Errorf("contacts: %w", err)
		}
		contacts.RegisterTools(a.tools, dir)
		a.logger.Info("contact tools enabled", "url", cfg.Contacts.URL)
	}
	return nil
}

// fail closes whatever was opened and returns err.
func (a *app) fail(err error) error {
	_ = a.Close()
	return err
}

// Close releases every store, newest first.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nugget/taskpilot/internal/agent"
	"github.com/nugget/taskpilot/internal/api"
	"github.com/nugget/taskpilot/internal/mqtt"
)

// runServe starts the API server and, when a broker is configured, the
// MQTT publisher. It returns when ctx is cancelled or SIGINT/SIGTERM
// arrives.
func runServe(ctx context.Context, e *env) error {
	cfg, cfgPath, err := loadConfig(e.opts.configPath)
	if err != nil {
		return err
	}
	logger, closeLog, err := loggerFor(cfg, e.stdout)
	if err != nil {
		return err
	}
	defer closeLog()
	logger.Info("config loaded", "path", cfgPath)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	var chat api.Chatter = a.manager
	var pub *mqtt.Publisher
	if cfg.MQTT.Configured() {
		instanceID, err := mqtt.LoadOrCreateInstanceID(cfg.DataDir)
		if err != nil {
			return err
		}
		tokens := mqtt.NewDailyTokens(nil)
		a.ledger.AddObserver(tokens)
		pub = mqtt.New(cfg.MQTT, instanceID, cfg.LLM.Model, tokens, logger)
		pub.AcceptCommands(a.manager)
		chat = &turnReporter{next: a.manager, pub: pub, logger: logger}
	}

	deps := api.Deps{
		Chat:    chat,
		History: a.turns,
		Usage:   a.usage,
		Logger:  logger,
	}
	if cfg.Metrics.Enabled {
		deps.Metrics = a.metrics
	}
	server := api.NewServer(api.Config{
		Address:        cfg.Listen.Address,
		Port:           cfg.Listen.Port,
		AllowAnyOrigin: cfg.Listen.AllowAnyOrigin,
	}, deps)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.Start(gctx); err != nil {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	if pub != nil {
		g.Go(func() error {
			return pub.Start(gctx)
		})
	}

	err = g.Wait()
	logger.Info("taskpilot stopped")
	return err
}

// turnReporter publishes an MQTT event for every API turn.
type turnReporter struct {
	next   api.Chatter
	pub    *mqtt.Publisher
	logger *slog.Logger
}

func (t *turnReporter) Handle(ctx context.Context, userID, message string) (*agent.Result, error) {
	start := time.Now()
	res, err := t.next.Handle(ctx, userID, message)
	if perr := t.pub.PublishTurn(ctx, userID, res, time.Since(start), err); perr != nil {
		t.logger.Debug("turn event not published", "error", perr)
	}
	return res, err
}

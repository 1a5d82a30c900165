package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/songzhibin97/gkit/generator"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/flowcatalyst/pipeline/config"
	"github.com/flowcatalyst/pipeline/eventlog"
	"github.com/flowcatalyst/pipeline/events"
	"github.com/flowcatalyst/pipeline/executor"
	"github.com/flowcatalyst/pipeline/handlers"
	"github.com/flowcatalyst/pipeline/logging"
	"github.com/flowcatalyst/pipeline/publisher"
	"github.com/flowcatalyst/pipeline/storage"
	"github.com/flowcatalyst/pipeline/types"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:           "flowpipe",
		Short:         "Workflow run pipeline: outbox publisher and stage executor",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file")

	root.AddCommand(newPublisherCmd(&cfgFile))
	root.AddCommand(newWorkerCmd(&cfgFile))
	root.AddCommand(newSeedCmd(&cfgFile))
	return root
}

func newPublisherCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "publisher",
		Short: "Drain the transactional outbox onto the event log",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(*cfgFile)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, pool, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			log, err := openEventLog(cfg, "publisher")
			if err != nil {
				return err
			}
			defer log.Close()

			pub, err := publisher.New(store, log, logger, publisher.Config{
				Topic:        cfg.EventLog.Topic,
				BatchSize:    cfg.Publisher.BatchSize,
				PollInterval: cfg.Publisher.PollInterval,
				IdleDelay:    cfg.Publisher.IdleDelay,
			})
			if err != nil {
				return err
			}

			if err := pub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}

func newWorkerCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume stage messages and execute action steps",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(*cfgFile)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, pool, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			log, err := openEventLog(cfg, cfg.EventLog.ConsumerName)
			if err != nil {
				return err
			}
			defer log.Close()

			policy, err := executor.ParsePolicy(cfg.Executor.FailurePolicy)
			if err != nil {
				return err
			}

			registry := handlers.NewRegistry()
			registry.Register(handlers.NewNotifyHandler(
				handlers.NewHTTPEmailSender(cfg.Providers.EmailAPIURL, cfg.Providers.EmailAPIKey, cfg.Providers.EmailFrom),
				logger,
			))
			registry.Register(handlers.NewTransferHandler(
				handlers.NewHTTPFundsGateway(cfg.Providers.FundsGatewayURL),
				logger,
			))
			registry.Register(handlers.NewSheetsHandler(
				handlers.NewHTTPSheetClient(cfg.Providers.SheetsAPIURL, cfg.Providers.SheetsToken),
				logger,
			))

			bus := events.NewEventBus()
			defer bus.Stop()
			bus.SubscribeFunc(events.EventDeadLettered, func(ctx context.Context, event events.Event) error {
				logger.Warn("stage routed to dead-letter topic",
					zap.String("run_id", event.RunID),
					zap.Int("stage", event.Stage),
				)
				return nil
			})

			exec, err := executor.New(store, log, registry, logger, executor.Config{
				Topic:          cfg.EventLog.Topic,
				DLQTopic:       cfg.EventLog.DLQTopic,
				FetchBatch:     cfg.Executor.FetchBatch,
				FetchBlock:     cfg.Executor.FetchBlock,
				StageDelay:     cfg.Executor.StageDelay,
				HandlerTimeout: cfg.Executor.HandlerTimeout,
				FailurePolicy:  policy,
				MaxAttempts:    cfg.Executor.MaxAttempts,
			})
			if err != nil {
				return err
			}
			exec.SetEventBus(bus)

			if err := exec.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}

// newSeedCmd loads a demo workflow and one run through the same
// transactional path the ingestion tier uses.
func newSeedCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Create a demo workflow and run for local development",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(*cfgFile)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			store, pool, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			const workflowID = "demo-workflow"

			notifyParams := types.NewObject()
			_ = notifyParams.Set("to", types.NewString("{{trigger.email}}"))
			_ = notifyParams.Set("subject", types.NewString("Bounty incoming"))
			_ = notifyParams.Set("body", types.NewString("You will receive {{trigger.amount}} SOL shortly."))

			transferParams := types.NewObject()
			_ = transferParams.Set("to", types.NewString("{{trigger.solanaAddress}}"))
			_ = transferParams.Set("amount", types.NewString("{{trigger.amount}}"))

			err = store.SaveWorkflowSteps(ctx, workflowID, []types.ActionStep{
				{Kind: handlers.KindEmail, SortOrder: 0, Parameters: notifyParams},
				{Kind: handlers.KindTransfer, SortOrder: 1, Parameters: transferParams},
			})
			if err != nil {
				return fmt.Errorf("failed to seed workflow: %w", err)
			}

			metadata := types.NewObject()
			_ = metadata.Set("email", types.NewString("dev@example.com"))
			_ = metadata.Set("solanaAddress", types.NewString("11111111111111111111111111111111"))
			_ = metadata.Set("amount", types.NewNumber(10))

			run := types.Run{WorkflowID: workflowID, Metadata: metadata}
			if err := store.CreateRun(ctx, &run); err != nil {
				return fmt.Errorf("failed to seed run: %w", err)
			}

			logger.Info("seeded demo data",
				zap.String("workflow_id", workflowID),
				zap.String("run_id", run.ID),
			)
			return nil
		},
	}
}

func setup(cfgFile string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger, err := logging.New(cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func openStore(ctx context.Context, cfg *config.Config) (*storage.PostgresStore, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, cfg.Store.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to store: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping store: %w", err)
	}

	store := storage.NewPostgresStore(pool, generator.NewSnowflake(time.Now().Add(-time.Second), 1))
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return store, pool, nil
}

func openEventLog(cfg *config.Config, consumer string) (*eventlog.RedisLog, error) {
	log, err := eventlog.NewRedisLog(eventlog.RedisOptions{
		Addr:     cfg.EventLog.Addr,
		Password: cfg.EventLog.Password,
		DB:       cfg.EventLog.DB,
		Group:    cfg.EventLog.ConsumerGroup,
		Consumer: consumer,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to event log: %w", err)
	}
	return log, nil
}

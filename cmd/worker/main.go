package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/de-tools/usage-meter/pkg/queue"
	sqsqueue "github.com/de-tools/usage-meter/pkg/queue/sqs"
	"github.com/de-tools/usage-meter/pkg/services/config"
	eventsvc "github.com/de-tools/usage-meter/pkg/services/events"
	ingestaws "github.com/de-tools/usage-meter/pkg/services/ingest/aws"
	"github.com/de-tools/usage-meter/pkg/services/locks"
	runsvc "github.com/de-tools/usage-meter/pkg/services/runs"
	"github.com/de-tools/usage-meter/pkg/services/usage"
	"github.com/de-tools/usage-meter/pkg/store/postgres"
	"github.com/de-tools/usage-meter/pkg/store/postgres/accounts"
	eventstore "github.com/de-tools/usage-meter/pkg/store/postgres/events"
	runstore "github.com/de-tools/usage-meter/pkg/store/postgres/runs"
	taskstore "github.com/de-tools/usage-meter/pkg/store/postgres/tasks"
	usagestore "github.com/de-tools/usage-meter/pkg/store/postgres/usage"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var cfgPath string

func main() {
	var rootCmd = &cobra.Command{
		Use:   "worker",
		Short: "Run the usage metering workers",
		RunE:  runWorker,
	}

	rootCmd.Flags().StringVarP(&cfgPath, "config", "c", "",
		"Path to the yaml config file (optional, env vars override)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func runWorker(cmd *cobra.Command, _ []string) error {
	if err := godotenv.Load(); err != nil {
		fmt.Printf("Error loading .env file: %v\n", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	db, err := postgres.NewDB(postgres.Settings{
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer db.Close()

	accountStore, err := accounts.NewStore(db)
	if err != nil {
		return fmt.Errorf("failed to create account store: %w", err)
	}
	events, err := eventstore.NewStore(db)
	if err != nil {
		return fmt.Errorf("failed to create event store: %w", err)
	}
	runs, err := runstore.NewStore(db)
	if err != nil {
		return fmt.Errorf("failed to create run store: %w", err)
	}
	tasks, err := taskstore.NewStore(db)
	if err != nil {
		return fmt.Errorf("failed to create task store: %w", err)
	}
	usageStore, err := usagestore.NewStore(db)
	if err != nil {
		return fmt.Errorf("failed to create usage store: %w", err)
	}

	lockMgr := locks.NewManager(db, cfg.Database.LockTimeout)
	calculator := usage.NewCalculator(runs, usageStore)

	classify := func(err error) bool {
		return queue.IsRetryable(err)
	}

	var (
		taskQueue queue.Queue
		runQueue  func(ctx context.Context, handler queue.Handler)
	)
	switch cfg.Queue.Backend {
	case "sqs":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return fmt.Errorf("failed to load aws config: %w", err)
		}
		q, err := sqsqueue.New(awssqs.NewFromConfig(awsCfg), cfg.Queue.URL, sqsqueue.Options{
			MaxAttempts: cfg.Queue.MaxAttempts,
			Classify:    classify,
		})
		if err != nil {
			return fmt.Errorf("failed to create sqs queue: %w", err)
		}
		taskQueue, runQueue = q, q.Run
	default:
		q := queue.NewMemoryQueue(queue.MemoryOptions{
			Workers:     cfg.Queue.Workers,
			MaxAttempts: cfg.Queue.MaxAttempts,
			RetryDelay:  cfg.Queue.RetryDelay,
			Classify:    classify,
		})
		taskQueue, runQueue = q, q.Run
	}

	scheduler := usage.NewScheduler(tasks, taskQueue, cfg.Scheduler.Debounce)
	executor := usage.NewExecutor(accountStore, tasks, calculator, lockMgr, scheduler)

	if cfg.Ingest.Enabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return fmt.Errorf("failed to load aws config: %w", err)
		}
		recalculator := runsvc.NewRecalculator(events, runs)
		processor := eventsvc.NewProcessor(events, runs, recalculator, lockMgr, scheduler,
			eventsvc.WithMaxRecalculationDays(cfg.Recalculation.MaxDays))
		reader, err := ingestaws.NewReader(
			s3.NewFromConfig(awsCfg),
			awssqs.NewFromConfig(awsCfg),
			cfg.Ingest.NotificationURL,
			ingestaws.NewShapeResolver(ec2.NewFromConfig(awsCfg)),
			accountStore,
			processor,
		)
		if err != nil {
			return fmt.Errorf("failed to create log reader: %w", err)
		}
		go reader.Run(ctx)
		logger.Info().Str("queue", cfg.Ingest.NotificationURL).Msg("log ingestion started")
	}

	logger.Info().
		Str("backend", cfg.Queue.Backend).
		Int("workers", cfg.Queue.Workers).
		Msg("starting calculation workers")

	runQueue(ctx, func(ctx context.Context, payload queue.Payload) error {
		return executor.Execute(ctx, payload.TaskID, payload.UserID, payload.Date)
	})
	return nil
}

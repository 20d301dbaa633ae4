// Package main is the entry point for the worker-agent binary: consumes the
// NEW topic and runs jobs locally with bounded parallelism.
//
// Startup sequence:
//  1. Parse CLI flags / environment variables
//  2. Build logger
//  3. Build broker profile, NEW-topic consumer, status publisher
//  4. Build the Worker Agent (dispatch + pool)
//  5. Start the worker pool, the dispatch-tick scheduler, and (optionally)
//     the heartbeat emitter and /metrics server
//  6. Block until SIGINT/SIGTERM, then graceful shutdown
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/prubach/kafka-slurm-agent/internal/broker"
	"github.com/prubach/kafka-slurm-agent/internal/config"
	"github.com/prubach/kafka-slurm-agent/internal/model"
	"github.com/prubach/kafka-slurm-agent/internal/telemetry"
	"github.com/prubach/kafka-slurm-agent/internal/workeragent"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var stateDir, logLevel string

	root := &cobra.Command{
		Use:   "worker-agent",
		Short: "Worker Agent — runs jobs locally with bounded parallelism",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), stateDir, logLevel)
		},
	}

	root.PersistentFlags().StringVar(&stateDir, "state-dir", envOrDefault("WORKER_AGENT_STATE_DIR", defaultStateDir()), "Directory for tmp/logs/slurm-out defaults")
	root.PersistentFlags().StringVar(&logLevel, "log-level", envOrDefault("LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	root.AddCommand(newVersionCmd())

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("worker-agent %s (commit: %s)\n", version, commit)
		},
	}
}

func run(ctx context.Context, stateDir, logLevel string) error {
	logger, err := buildLogger(logLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	cfg := config.Load(stateDir)
	logger.Info("starting worker agent",
		zap.String("version", version),
		zap.String("cluster", cfg.ClusterName),
		zap.Int("max_workers", cfg.WorkerAgentMaxWorkers),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	profile := broker.Profile{
		BootstrapServers: strings.Split(cfg.BootstrapServers, ","),
		ClusterName:      cfg.ClusterName,
		SecurityProtocol: cfg.KafkaSecurityProto,
		SASLMechanism:    cfg.KafkaSASLMechanism,
		Username:         cfg.KafkaUsername,
		Password:         cfg.KafkaPassword,
	}

	groupID := cfg.ClusterName + "-worker-agent"
	consumer, err := broker.NewNewTopicConsumer(ctx, profile, groupID, cfg.TopicNew, func(err error) {
		logger.Error("consumer error", zap.Error(err))
	})
	if err != nil {
		return fmt.Errorf("failed to build NEW-topic consumer: %w", err)
	}
	defer consumer.Close()

	status, err := broker.NewStatusPublisher(profile, cfg.TopicStatus)
	if err != nil {
		return fmt.Errorf("failed to build status publisher: %w", err)
	}
	defer status.Close()

	var heartbeat *broker.HeartbeatPublisher
	if cfg.HeartbeatInterval > 0 {
		heartbeat, err = broker.NewHeartbeatPublisher(profile, cfg.TopicHeartbeat)
		if err != nil {
			return fmt.Errorf("failed to build heartbeat publisher: %w", err)
		}
		defer heartbeat.Close()
	}

	metrics := telemetry.New(cfg.ClusterName)
	agent := workeragent.New(cfg, consumer, status, logger)

	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to build scheduler: %w", err)
	}

	if _, err := sched.NewJob(
		gocron.DurationJob(cfg.PollInterval),
		gocron.NewTask(func() {
			if err := agent.DispatchTick(ctx); err != nil {
				logger.Error("dispatch tick failed", zap.Error(err))
				metrics.DispatchErrors.Inc()
			}
		}),
	); err != nil {
		return fmt.Errorf("failed to schedule dispatch tick: %w", err)
	}

	if heartbeat != nil {
		if _, err := sched.NewJob(
			gocron.DurationJob(cfg.HeartbeatInterval),
			gocron.NewTask(func() {
				hb := model.NewHeartbeat()
				load, err := telemetry.OneMinuteLoad(ctx)
				if err == nil {
					hb.Load = &load
				}
				if err := heartbeat.Send(hb); err != nil {
					logger.Error("heartbeat send failed", zap.Error(err))
				}
			}),
		); err != nil {
			return fmt.Errorf("failed to schedule heartbeat: %w", err)
		}
	}

	sched.Start()
	defer sched.Shutdown() //nolint:errcheck

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return agent.Run(gctx) })

	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: metrics.Handler()}
		g.Go(func() error {
			logger.Info("serving metrics", zap.String("addr", cfg.MetricsAddr))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	logger.Info("worker agent stopped")
	return err
}

func defaultStateDir() string {
	if dir, err := os.UserHomeDir(); err == nil {
		return dir + "/.kafka-slurm-agent"
	}
	return ".kafka-slurm-agent"
}

func buildLogger(level string) (*zap.Logger, error) {
	var cfg zap.Config
	switch level {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}
	lvl, err := zap.ParseAtomicLevel(level)
	if err == nil {
		cfg.Level = lvl
	}
	return cfg.Build()
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

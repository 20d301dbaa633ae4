// Package main is the entry point for the submit binary: a CLI front end for
// the Submitter, letting an operator or script publish one job to the NEW
// topic without writing any Go code.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/prubach/kafka-slurm-agent/internal/broker"
	"github.com/prubach/kafka-slurm-agent/internal/config"
	"github.com/prubach/kafka-slurm-agent/internal/model"
	"github.com/prubach/kafka-slurm-agent/internal/monitor"
	"github.com/prubach/kafka-slurm-agent/internal/submitter"
)

var (
	version = "dev"
)

type submitFlags struct {
	stateDir          string
	resources         int
	jobType           string
	mem               string
	check             bool
	ignoreErrorStatus bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	f := &submitFlags{}

	root := &cobra.Command{
		Use:   "submit <job_key> <script>",
		Short: "Publish a job to the NEW topic",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), args[0], args[1], f)
		},
	}

	root.Flags().StringVar(&f.stateDir, "state-dir", envOrDefault("SUBMIT_STATE_DIR", defaultStateDir()), "Directory used for default config paths")
	root.Flags().IntVar(&f.resources, "resources", 0, "SLURM_RESOURCES_REQUIRED override for this job (0 = agent default)")
	root.Flags().StringVar(&f.jobType, "job-type", "", "SLURM_JOB_TYPE override for this job (cpu or gpu)")
	root.Flags().StringVar(&f.mem, "mem", "", "Memory reservation override for this job (e.g. 4G)")
	root.Flags().BoolVar(&f.check, "check", false, "Consult the monitor before publishing, skipping known non-error jobs")
	root.Flags().BoolVar(&f.ignoreErrorStatus, "ignore-error-status", false, "Resubmit even if the monitor reports a prior ERROR status (requires --check)")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("submit %s\n", version)
		},
	})

	return root
}

func run(ctx context.Context, key, script string, f *submitFlags) error {
	cfg := config.Load(f.stateDir)

	profile := broker.Profile{
		BootstrapServers: strings.Split(cfg.BootstrapServers, ","),
		ClusterName:      cfg.ClusterName,
		SecurityProtocol: cfg.KafkaSecurityProto,
		SASLMechanism:    cfg.KafkaSASLMechanism,
		Username:         cfg.KafkaUsername,
		Password:         cfg.KafkaPassword,
	}

	producer, err := profile.NewSyncProducer("submitter")
	if err != nil {
		return fmt.Errorf("failed to build producer: %w", err)
	}
	defer producer.Close()

	var monitorClient *monitor.Client
	if f.check {
		monitorClient = monitor.New(cfg.MonitorAgentURL, cfg.MonitorAgentContextPath, 5*time.Second)
	}

	sub := submitter.New(producer, monitorClient, cfg.TopicNew)

	pars := model.SlurmParams{
		ResourcesRequired: f.resources,
		JobType:           f.jobType,
		Mem:               f.mem,
	}

	res, err := sub.Send(ctx, key, script, pars, submitter.Options{
		Check:             f.check,
		IgnoreErrorStatus: f.ignoreErrorStatus,
	})
	if err != nil {
		return fmt.Errorf("submit failed: %w", err)
	}

	if !res.Submitted {
		fmt.Printf("skipped %s: monitor reports existing status %q\n", key, res.PriorStatus)
		return nil
	}
	fmt.Printf("submitted %s\n", key)
	return nil
}

func defaultStateDir() string {
	if dir, err := os.UserHomeDir(); err == nil {
		return dir + "/.kafka-slurm-agent"
	}
	return ".kafka-slurm-agent"
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

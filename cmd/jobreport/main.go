// Package main is a demonstration job binary exercising the Compute-side
// Reporter's CLI contract directly: `jobreport <input_job_id> [cfg_file=...]
// [job_id=...]`. Real job programs import the reporter package the same way
// and substitute their own do_compute; this binary's compute body just
// echoes the arguments it received back as a result, so it is useful both
// as documentation and as a smoke target for the dispatch agents.
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/prubach/kafka-slurm-agent/internal/broker"
	"github.com/prubach/kafka-slurm-agent/internal/config"
	"github.com/prubach/kafka-slurm-agent/internal/model"
	"github.com/prubach/kafka-slurm-agent/reporter"
)

func main() {
	if err := run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(argv []string) error {
	cfg := config.Load(envOrDefault("JOBREPORT_STATE_DIR", defaultStateDir()))

	profile := broker.Profile{
		BootstrapServers: strings.Split(cfg.BootstrapServers, ","),
		ClusterName:      cfg.ClusterName,
		SecurityProtocol: cfg.KafkaSecurityProto,
		SASLMechanism:    cfg.KafkaSASLMechanism,
		Username:         cfg.KafkaUsername,
		Password:         cfg.KafkaPassword,
	}

	status, err := broker.NewStatusPublisher(profile, cfg.TopicStatus)
	if err != nil {
		return fmt.Errorf("failed to build status publisher: %w", err)
	}
	defer status.Close()

	result, err := broker.NewResultPublisher(profile, cfg.TopicDone)
	if err != nil {
		return fmt.Errorf("failed to build result publisher: %w", err)
	}
	defer result.Close()

	// Both dispatching agents now always supply cfg_file, and reporter.New
	// overrides this default from its stamped ExecutorType, so the value
	// below only matters for a bare invocation with no cfg_file at all —
	// there is no parent process watching such a run, so it must default to
	// something other than WRK_AGNT or a failure would be swallowed with
	// nobody left to report it.
	r, err := reporter.New(argv, cfg.ClusterName, "SLURM_JOB_ID", "", status, result)
	if err != nil {
		return err
	}

	return r.Run(doCompute)
}

// doCompute is a placeholder compute body: a real job binary replaces this
// with its actual work and returns whatever result payload the caller wants
// recorded on the DONE topic.
func doCompute(r *reporter.Reporter) (model.ResultPayload, error) {
	return model.ResultPayload{
		"input_job_id": r.InputJobID,
		"backend_id":   r.BackendID,
		"node":         r.Node,
		"started_at":   time.Now().Format(model.TimeLayout),
	}, nil
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

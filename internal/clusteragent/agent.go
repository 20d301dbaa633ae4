// Package clusteragent implements the Cluster Agent: a dispatch loop that
// gates admission on live batch-scheduler capacity and backlog probes and
// hands admitted jobs off to sbatch, rather than running them in-process.
package clusteragent

import (
	"context"
	"encoding/json"
	"fmt"
	"os/user"
	"time"

	"go.uber.org/zap"

	"github.com/prubach/kafka-slurm-agent/internal/broker"
	"github.com/prubach/kafka-slurm-agent/internal/config"
	"github.com/prubach/kafka-slurm-agent/internal/model"
	"github.com/prubach/kafka-slurm-agent/internal/runner"
)

// Agent is the Cluster Agent's Dispatcher implementation. Unlike the Worker
// Agent it has no in-process worker pool — admission and submission are the
// entire job; the scheduler owns everything past sbatch.
type Agent struct {
	cfg      config.Config
	consumer *broker.NewTopicConsumer
	status   *broker.StatusPublisher
	run      RunFunc
	user     string
	logger   *zap.Logger
}

// New builds a Cluster Agent. runFunc defaults to runner.Run when nil.
func New(cfg config.Config, consumer *broker.NewTopicConsumer, status *broker.StatusPublisher, runFunc RunFunc, logger *zap.Logger) (*Agent, error) {
	if runFunc == nil {
		runFunc = runner.Run
	}
	u, err := user.Current()
	if err != nil {
		return nil, fmt.Errorf("clusteragent: resolving current user: %w", err)
	}
	return &Agent{
		cfg:      cfg,
		consumer: consumer,
		status:   status,
		run:      runFunc,
		user:     u.Username,
		logger:   logger.Named("clusteragent"),
	}, nil
}

// Budget implements dispatch.Dispatcher: returns 0 (skip this tick) when the
// backlog is already deep, otherwise max(floor(idleCapacity/resources), 1).
func (a *Agent) Budget(ctx context.Context) (int, error) {
	waiting, err := a.backlogCount(ctx)
	if err != nil {
		return 0, err
	}
	if waiting > 1 {
		return 0, nil
	}

	free, err := a.idleCapacity(ctx)
	if err != nil {
		return 0, err
	}
	resources := a.cfg.SlurmResourcesRequired
	if resources <= 0 {
		resources = 1
	}
	budget := free / resources
	if budget < 1 {
		budget = 1
	}
	return budget, nil
}

// Poll implements dispatch.Dispatcher.
func (a *Agent) Poll(ctx context.Context, budget int) ([]model.JobRequest, error) {
	msgs, err := a.consumer.Poll(ctx, budget, 2*time.Second)
	if err != nil {
		return nil, err
	}
	jobs := make([]model.JobRequest, 0, len(msgs))
	for _, msg := range msgs {
		var req model.JobRequest
		if err := json.Unmarshal(msg.Value, &req); err != nil {
			a.logger.Error("dropping unparseable job request", zap.Error(err), zap.ByteString("key", msg.Key))
			continue
		}
		jobs = append(jobs, req)
	}
	return jobs, nil
}

// Submit implements dispatch.Dispatcher: stamps ExecutorType and hands the
// job to sbatch.
func (a *Agent) Submit(ctx context.Context, job model.JobRequest) (string, error) {
	job.ExecutorType = model.ExecutorClusterAgent
	return submitBatch(ctx, a.cfg, a.run, job)
}

// Commit implements dispatch.Dispatcher.
func (a *Agent) Commit() {
	a.consumer.Commit()
}

// idleCapacity dispatches to the GPU or CPU probe depending on the
// configured job type.
func (a *Agent) idleCapacity(ctx context.Context) (int, error) {
	if a.cfg.SlurmJobType == "gpu" {
		out, err := a.runProbe(ctx, "sinfo -o \""+sinfoGPUFormat+"\"")
		if err != nil {
			return 0, err
		}
		return parseIdleGPUs(out, a.cfg.SlurmPartition)
	}
	out, err := a.runProbe(ctx, "sinfo -o \""+sinfoCPUFormat+"\"")
	if err != nil {
		return 0, err
	}
	return parseIdleCPUs(out, a.cfg.SlurmPartition)
}

func (a *Agent) backlogCount(ctx context.Context) (int, error) {
	out, err := a.runProbe(ctx, "squeue -o \""+squeueBacklogFmt+"\"")
	if err != nil {
		return 0, err
	}
	return parseBacklog(out, a.user)
}

// CheckJobStatus implements the scheduler status probe: WAITING, RUNNING, or
// "" (null) if the scheduler no longer reports the job at all.
func (a *Agent) CheckJobStatus(ctx context.Context, backendID string) (model.Status, error) {
	out, err := a.runProbe(ctx, "squeue -o \""+squeueStatusFmt+"\"")
	if err != nil {
		return "", err
	}
	return parseSchedulerStatus(out, backendID), nil
}

// runProbe runs a read-only scheduler query with no timeout — capacity and
// backlog probes may legitimately take longer than a job's wall clock does,
// and this system never cancels them early.
func (a *Agent) runProbe(ctx context.Context, command string) (string, error) {
	res, err := a.run(ctx, command, 0)
	if err != nil {
		return "", fmt.Errorf("clusteragent: probe %q failed to start: %w", command, err)
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("clusteragent: probe %q exited %d: %s", command, res.ExitCode, res.Stderr)
	}
	return res.Stdout, nil
}

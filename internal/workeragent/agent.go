// Package workeragent implements the Worker Agent: a bounded in-process pool
// of W workers that run jobs as local subprocesses, fed by a dispatch loop
// polling the NEW topic against remaining queue capacity.
package workeragent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/prubach/kafka-slurm-agent/internal/broker"
	"github.com/prubach/kafka-slurm-agent/internal/config"
	"github.com/prubach/kafka-slurm-agent/internal/dispatch"
	"github.com/prubach/kafka-slurm-agent/internal/jobconfig"
	"github.com/prubach/kafka-slurm-agent/internal/model"
	"github.com/prubach/kafka-slurm-agent/internal/runner"
)

// maxPollAttemptsPerW bounds how many poll rounds one dispatch tick may run
// while trying to fill the queue up to W, per tick.
const maxPollAttemptsPerW = 4

// Agent is the Worker Agent's Dispatcher implementation plus the long-lived
// worker pool it feeds. Construct with New, then run BOTH DispatchTick (on a
// scheduler cadence) and Run (once, for the lifetime of the process) — Run
// starts the W worker goroutines and blocks until ctx is cancelled or a
// worker fails unrecoverably.
type Agent struct {
	cfg      config.Config
	consumer *broker.NewTopicConsumer
	status   *broker.StatusPublisher

	pool       *pool
	maxWorkers int
	jobTimeout time.Duration
	runnerBin  string

	logger *zap.Logger
}

// New builds a worker Agent. consumer must be subscribed to cfg.TopicNew.
func New(cfg config.Config, consumer *broker.NewTopicConsumer, status *broker.StatusPublisher, logger *zap.Logger) *Agent {
	return &Agent{
		cfg:        cfg,
		consumer:   consumer,
		status:     status,
		pool:       newPool(cfg.WorkerAgentMaxWorkers),
		maxWorkers: cfg.WorkerAgentMaxWorkers,
		jobTimeout: cfg.WorkerJobTimeout,
		runnerBin:  cfg.RunnerBin,
		logger:     logger.Named("workeragent"),
	}
}

// Budget implements dispatch.Dispatcher. It returns 0 (skip this tick) once
// the queue already holds W items; otherwise the per-poll record budget
// max(floor(W / SLURM_RESOURCES_REQUIRED), 1).
func (a *Agent) Budget(ctx context.Context) (int, error) {
	if a.pool.len() >= a.maxWorkers {
		return 0, nil
	}
	resources := a.cfg.SlurmResourcesRequired
	if resources <= 0 {
		resources = 1
	}
	budget := a.maxWorkers / resources
	if budget < 1 {
		budget = 1
	}
	return budget, nil
}

// Poll implements dispatch.Dispatcher, decoding each claimed record as a
// JobRequest. A record that fails to decode is logged and dropped — it is
// still marked/committed like any other record, since there is no way to
// reprocess a message this system cannot parse.
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

// Submit implements dispatch.Dispatcher. It stamps ExecutorType, mints a
// local backend id, materializes a cfg_file carrying that ExecutorType (the
// only way the spawned job's Reporter learns it's running under the Worker
// Agent rather than the Cluster Agent), builds the runner command line, and
// enqueues the triple for a worker to pick up — it does not itself run
// anything.
func (a *Agent) Submit(ctx context.Context, job model.JobRequest) (string, error) {
	job.ExecutorType = model.ExecutorWorkerAgent
	backendID := uniqueID()

	cfgFile, err := jobconfig.Materialize(a.cfg.SharedTmp, job)
	if err != nil {
		return "", fmt.Errorf("workeragent: materializing cfg_file for %s: %w", job.InputJobID, err)
	}

	cmd := a.buildRunnerCommand(job, backendID, cfgFile)
	if err := a.pool.enqueue(ctx, item{BackendID: backendID, InputJobID: job.InputJobID, Command: cmd}); err != nil {
		return "", fmt.Errorf("workeragent: enqueue %s: %w", job.InputJobID, err)
	}
	return backendID, nil
}

// Commit implements dispatch.Dispatcher.
func (a *Agent) Commit() {
	a.consumer.Commit()
}

// MaxPollRounds returns how many times the shared control loop should call
// dispatch.Tick per external scheduler tick, per the "repeat up to 4W times
// while queue.size < W" dispatch loop shape.
func (a *Agent) MaxPollRounds() int {
	return maxPollAttemptsPerW * a.maxWorkers
}

// QueueHasRoom reports whether the queue still has room for another
// dispatch round within the current scheduler tick.
func (a *Agent) QueueHasRoom() bool {
	return a.pool.len() < a.maxWorkers
}

// DispatchTick runs check_queue_submit for one external scheduler
// invocation: up to MaxPollRounds() calls to dispatch.Tick, stopping early
// once the queue no longer has room. This is the "repeat up to 4·W times
// while queue.size < W" loop wrapped around the shared control loop.
func (a *Agent) DispatchTick(ctx context.Context) error {
	for round := 0; round < a.MaxPollRounds() && a.QueueHasRoom(); round++ {
		if _, err := dispatch.Tick(ctx, a, a.status); err != nil {
			return err
		}
	}
	return nil
}

// buildRunnerCommand composes the shell command line a worker will execute:
// the configured runner binary, the job script, and the arguments the
// Compute-side Reporter expects on argv — including cfg_file, so the
// spawned job reads ExecutorType (and the rest of the JobRequest) back off
// disk the same way a Cluster Agent-dispatched job does.
func (a *Agent) buildRunnerCommand(job model.JobRequest, backendID, cfgFile string) string {
	return fmt.Sprintf("%s %s %s job_id=%s cfg_file=%s", a.runnerBin, job.Script, job.InputJobID, backendID, cfgFile)
}

// CheckJobStatus implements the local status probe: RUNNING iff key is
// currently in the processing set, else "".
func (a *Agent) CheckJobStatus(key model.JobKey) model.Status {
	if a.pool.isProcessing(key) {
		return model.StatusRunning
	}
	return ""
}

// Run starts the W worker goroutines and blocks until ctx is cancelled or a
// worker returns an unrecoverable error. Each worker dequeues one item at a
// time, runs it as a bounded subprocess, and reports ERROR on non-zero exit
// (the success path's DONE event is emitted by the job itself via the
// Compute-side Reporter).
func (a *Agent) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < a.maxWorkers; i++ {
		workerID := i
		g.Go(func() error {
			return a.workerLoop(gctx, workerID)
		})
	}
	return g.Wait()
}

func (a *Agent) workerLoop(ctx context.Context, workerID int) error {
	log := a.logger.With(zap.Int("worker", workerID))
	for {
		it, ok := a.pool.dequeue(ctx)
		if !ok {
			return nil
		}
		a.runOne(ctx, log, it)
	}
}

func (a *Agent) runOne(ctx context.Context, log *zap.Logger, it item) {
	a.pool.markProcessing(it.InputJobID)
	defer a.pool.unmarkProcessing(it.InputJobID)

	env := append(os.Environ(), fmt.Sprintf("SLURM_JOB_ID=%s", it.BackendID))
	res, err := runWithEnv(ctx, it.Command, a.jobTimeout, env)
	if err != nil {
		log.Error("worker subprocess failed to start", zap.String("job", it.InputJobID), zap.Error(err))
		a.reportError(it, -1, "", err.Error())
		return
	}
	if res.ExitCode != 0 {
		stderr := res.Stderr
		if len(stderr) > 2000 {
			stderr = stderr[:2000]
		}
		log.Warn("worker job exited non-zero",
			zap.String("job", it.InputJobID),
			zap.Int("exit_code", res.ExitCode),
			zap.Bool("timed_out", res.TimedOut),
		)
		a.reportError(it, res.ExitCode, res.Stdout, stderr)
		return
	}
	// success path: the child itself emitted DONE via the compute-side
	// reporter, so there's nothing further to publish here.
}

func (a *Agent) reportError(it item, exitCode int, stdout, stderr string) {
	errMsg := fmt.Sprintf("%d: %s, %s", exitCode, stdout, stderr)
	if sendErr := a.status.Send(it.InputJobID, model.StatusError, it.BackendID, "", errMsg, ""); sendErr != nil {
		a.logger.Error("failed to publish ERROR status", zap.String("job", it.InputJobID), zap.Error(sendErr))
	}
}

// runWithEnv runs command through internal/runner with an explicit
// environment (SLURM_JOB_ID injected for the child), since runner.Run itself
// only deals with bare commands.
func runWithEnv(ctx context.Context, command string, timeout time.Duration, env []string) (runner.Result, error) {
	return runner.RunWithEnv(ctx, command, timeout, env)
}

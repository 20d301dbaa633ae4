package clusteragent

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/prubach/kafka-slurm-agent/internal/config"
	"github.com/prubach/kafka-slurm-agent/internal/jobconfig"
	"github.com/prubach/kafka-slurm-agent/internal/model"
	"github.com/prubach/kafka-slurm-agent/internal/runner"
)

// submittedJobID matches sbatch's standard "Submitted batch job <id>" stdout
// line. A scheduler that doesn't speak this dialect would need its own
// extractor — out of scope here, same as the rest of this Slurm-specific
// component.
var submittedJobID = regexp.MustCompile(`Submitted batch job (\d+)`)

// materializeConfig writes req (with ExecutorType already stamped) as a JSON
// file under cfg.SharedTmp, via the jobconfig package the Worker Agent's
// Submit also uses. The caller owns the file's lifetime — it is not removed
// here, since it must outlive this call until the scheduler's child process
// reads it.
func materializeConfig(sharedTmp string, req model.JobRequest) (string, error) {
	return jobconfig.Materialize(sharedTmp, req)
}

// buildSbatchCommand composes the scheduler submission command line per the
// resource parameters: cpus-per-task from slurm_pars (falling back to the
// agent's configured default), job name defaulting to input_job_id, an
// output path under cfg.SlurmOutDir templated with Slurm's %j job-id wildcard,
// an optional memory reservation, and a gres request when the job type is
// gpu. The wrapped command is the job script invoked the same way a Worker
// Agent child would be, plus the materialized cfg_file path.
func buildSbatchCommand(cfg config.Config, req model.JobRequest, cfgFile string) string {
	resources := req.SlurmPars.ResourcesRequired
	if resources <= 0 {
		resources = cfg.SlurmResourcesRequired
	}
	jobName := req.InputJobID
	output := filepath.Join(cfg.SlurmOutDir, jobName+"-%j.out")

	args := []string{
		"sbatch",
		"--job-name=" + jobName,
		"--partition=" + cfg.SlurmPartition,
		"--output=" + output,
		"--cpus-per-task=" + strconv.Itoa(resources),
	}
	if req.SlurmPars.Mem != "" {
		args = append(args, "--mem="+req.SlurmPars.Mem)
	}
	jobType := req.SlurmPars.JobType
	if jobType == "" {
		jobType = cfg.SlurmJobType
	}
	if jobType == "gpu" {
		args = append(args, "--gres=gpu")
	}

	wrapped := fmt.Sprintf("%s %s %s cfg_file=%s", cfg.RunnerBin, req.Script, req.InputJobID, cfgFile)
	args = append(args, fmt.Sprintf("--wrap=%q", wrapped))

	cmd := args[0]
	for _, a := range args[1:] {
		cmd += " " + a
	}
	return cmd
}

// submitBatch materializes req's config file, builds and runs the sbatch
// command, and extracts the scheduler-assigned job id from its stdout.
func submitBatch(ctx context.Context, cfg config.Config, run RunFunc, req model.JobRequest) (string, error) {
	cfgFile, err := materializeConfig(cfg.SharedTmp, req)
	if err != nil {
		return "", err
	}

	cmd := buildSbatchCommand(cfg, req, cfgFile)
	res, err := run(ctx, cmd, 30*time.Second)
	if err != nil {
		return "", fmt.Errorf("clusteragent: sbatch submission for %s failed to start: %w", req.InputJobID, err)
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("clusteragent: sbatch submission for %s exited %d: %s", req.InputJobID, res.ExitCode, res.Stderr)
	}

	m := submittedJobID.FindStringSubmatch(res.Stdout)
	if m == nil {
		return "", fmt.Errorf("clusteragent: could not parse job id from sbatch output for %s: %q", req.InputJobID, res.Stdout)
	}
	return m[1], nil
}

// RunFunc is the bounded-subprocess primitive clusteragent depends on,
// matching internal/runner.Run's signature. Injectable so tests can fake
// sinfo/squeue/sbatch output without a real scheduler.
type RunFunc func(ctx context.Context, command string, timeout time.Duration) (runner.Result, error)

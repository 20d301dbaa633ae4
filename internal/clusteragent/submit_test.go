package clusteragent

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prubach/kafka-slurm-agent/internal/config"
	"github.com/prubach/kafka-slurm-agent/internal/model"
	"github.com/prubach/kafka-slurm-agent/internal/runner"
)

func TestMaterializeConfig_WritesJSONFile(t *testing.T) {
	dir := t.TempDir()
	req := model.NewJobRequest("job-1", "compute.py", model.SlurmParams{ResourcesRequired: 2})
	req.ExecutorType = model.ExecutorClusterAgent

	path, err := materializeConfig(dir, req)
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"input_job_id":"job-1"`)
	assert.Contains(t, string(data), `"ExecutorType":"CL_AGNT"`)
}

func TestBuildSbatchCommand_ComposesResourceParams(t *testing.T) {
	cfg := config.Config{
		SlurmPartition:         "batch",
		SlurmOutDir:            "/shared/out",
		SlurmResourcesRequired: 1,
		SlurmJobType:           "cpu",
		RunnerBin:              "python3",
	}
	req := model.NewJobRequest("job-2", "compute.py", model.SlurmParams{ResourcesRequired: 4, Mem: "8G", JobType: "gpu"})

	cmd := buildSbatchCommand(cfg, req, "/shared/tmp/job-2.json")
	assert.Contains(t, cmd, "sbatch")
	assert.Contains(t, cmd, "--job-name=job-2")
	assert.Contains(t, cmd, "--partition=batch")
	assert.Contains(t, cmd, "--cpus-per-task=4")
	assert.Contains(t, cmd, "--mem=8G")
	assert.Contains(t, cmd, "--gres=gpu")
	assert.Contains(t, cmd, "/shared/out/job-2-%j.out")
	assert.Contains(t, cmd, "cfg_file=/shared/tmp/job-2.json")
}

func TestSubmitBatch_ParsesJobID(t *testing.T) {
	cfg := config.Config{
		SharedTmp:              t.TempDir(),
		SlurmPartition:         "batch",
		SlurmOutDir:            t.TempDir(),
		SlurmResourcesRequired: 1,
		RunnerBin:              "python3",
	}
	req := model.NewJobRequest("job-3", "compute.py", model.SlurmParams{})

	fakeRun := func(ctx context.Context, command string, timeout time.Duration) (runner.Result, error) {
		return runner.Result{ExitCode: 0, Stdout: "Submitted batch job 98765\n"}, nil
	}

	id, err := submitBatch(context.Background(), cfg, fakeRun, req)
	require.NoError(t, err)
	assert.Equal(t, "98765", id)
}

func TestSubmitBatch_FailsOnNonZeroExit(t *testing.T) {
	cfg := config.Config{SharedTmp: t.TempDir(), SlurmOutDir: t.TempDir()}
	req := model.NewJobRequest("job-4", "compute.py", model.SlurmParams{})

	fakeRun := func(ctx context.Context, command string, timeout time.Duration) (runner.Result, error) {
		return runner.Result{ExitCode: 1, Stderr: "error: invalid partition"}, nil
	}

	_, err := submitBatch(context.Background(), cfg, fakeRun, req)
	require.Error(t, err)
}

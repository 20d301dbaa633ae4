package clusteragent

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/prubach/kafka-slurm-agent/internal/config"
	"github.com/prubach/kafka-slurm-agent/internal/runner"
)

func scriptedRun(t *testing.T, byCommandPrefix map[string]runner.Result) RunFunc {
	t.Helper()
	return func(ctx context.Context, command string, timeout time.Duration) (runner.Result, error) {
		for prefix, res := range byCommandPrefix {
			if strings.HasPrefix(command, prefix) {
				return res, nil
			}
		}
		t.Fatalf("unscripted command: %s", command)
		return runner.Result{}, nil
	}
}

func TestBudget_SkipsWhenBacklogDeep(t *testing.T) {
	cfg := config.Config{SlurmJobType: "cpu", SlurmPartition: "batch", SlurmResourcesRequired: 1}
	run := scriptedRun(t, map[string]runner.Result{
		"squeue -o \"" + squeueBacklogFmt: {ExitCode: 0, Stdout: "NAME REASON USER\na_CLAG (Resources) me\nb_CLAG (Priority) me\n"},
	})

	a := &Agent{cfg: cfg, run: run, user: "me", logger: zap.NewNop()}
	budget, err := a.Budget(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, budget)
}

func TestBudget_FloorsAtOneWhenCapacityScarce(t *testing.T) {
	cfg := config.Config{SlurmJobType: "cpu", SlurmPartition: "batch", SlurmResourcesRequired: 8}
	run := scriptedRun(t, map[string]runner.Result{
		"squeue -o \"" + squeueBacklogFmt: {ExitCode: 0, Stdout: "NAME REASON USER\n"},
		"sinfo -o \"" + sinfoCPUFormat:    {ExitCode: 0, Stdout: "CPUS(A/I/O/T) NODES STATE PARTITION\n4/2/0/6 1 idle batch\n"},
	})

	a := &Agent{cfg: cfg, run: run, user: "me", logger: zap.NewNop()}
	budget, err := a.Budget(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, budget)
}

func TestBudget_UsesGPUProbeWhenConfigured(t *testing.T) {
	cfg := config.Config{SlurmJobType: "gpu", SlurmPartition: "gpu", SlurmResourcesRequired: 1}
	run := scriptedRun(t, map[string]runner.Result{
		"squeue -o \"" + squeueBacklogFmt: {ExitCode: 0, Stdout: "NAME REASON USER\n"},
		"sinfo -o \"" + sinfoGPUFormat:    {ExitCode: 0, Stdout: "GRES NODES STATE PARTITION\ngpu:4 2 idle gpu\n"},
	})

	a := &Agent{cfg: cfg, run: run, user: "me", logger: zap.NewNop()}
	budget, err := a.Budget(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 8, budget)
}

func TestCheckJobStatus_ParsesProbeOutput(t *testing.T) {
	cfg := config.Config{}
	run := scriptedRun(t, map[string]runner.Result{
		"squeue -o \"" + squeueStatusFmt: {ExitCode: 0, Stdout: "JOBID REASON\n555 None\n"},
	})

	a := &Agent{cfg: cfg, run: run, user: "me", logger: zap.NewNop()}
	status, err := a.CheckJobStatus(context.Background(), "555")
	require.NoError(t, err)
	assert.Equal(t, "RUNNING", string(status))
}

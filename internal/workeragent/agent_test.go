package workeragent

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/prubach/kafka-slurm-agent/internal/broker"
	"github.com/prubach/kafka-slurm-agent/internal/config"
	"github.com/prubach/kafka-slurm-agent/internal/model"
)

func testAgent(t *testing.T, maxWorkers, resourcesRequired int) (*Agent, *mocks.SyncProducer) {
	t.Helper()
	cfg := config.Config{
		WorkerAgentMaxWorkers:  maxWorkers,
		WorkerJobTimeout:       time.Second,
		SlurmResourcesRequired: resourcesRequired,
		RunnerBin:              "python3",
		SharedTmp:              t.TempDir(),
	}
	producer := mocks.NewSyncProducer(t, nil)
	status := broker.NewStatusPublisherWithProducer(producer, "jobs.status", "test-cluster")
	return New(cfg, nil, status, zap.NewNop()), producer
}

func TestBudget_FullQueueSkipsTick(t *testing.T) {
	a, _ := testAgent(t, 2, 1)
	a.pool.queue = make(chan item, 2)
	a.pool.enqueue(context.Background(), item{BackendID: "1"})
	a.pool.enqueue(context.Background(), item{BackendID: "2"})

	budget, err := a.Budget(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, budget)
}

func TestBudget_FloorsAtOne(t *testing.T) {
	a, _ := testAgent(t, 2, 8)
	budget, err := a.Budget(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, budget)
}

func TestBudget_DividesByResourcesRequired(t *testing.T) {
	a, _ := testAgent(t, 8, 2)
	budget, err := a.Budget(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, budget)
}

func TestSubmit_EnqueuesAndStampsExecutorType(t *testing.T) {
	a, _ := testAgent(t, 2, 1)
	job := model.NewJobRequest("k1", "echo.py", model.SlurmParams{})

	backendID, err := a.Submit(context.Background(), job)
	require.NoError(t, err)
	assert.NotEmpty(t, backendID)
	assert.Equal(t, 1, a.pool.len())

	it, ok := a.pool.dequeue(context.Background())
	require.True(t, ok)
	assert.Equal(t, model.JobKey("k1"), it.InputJobID)
	assert.Contains(t, it.Command, "echo.py")
	assert.Contains(t, it.Command, backendID)

	cfgFile := extractCfgFile(t, it.Command)
	data, err := os.ReadFile(cfgFile)
	require.NoError(t, err)
	var decoded model.JobRequest
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, model.ExecutorWorkerAgent, decoded.ExecutorType)
}

// extractCfgFile pulls the value of a "cfg_file=<path>" token out of a
// built runner command line, the same way reporter.ParseArgs would.
func extractCfgFile(t *testing.T, command string) string {
	t.Helper()
	const marker = "cfg_file="
	idx := strings.Index(command, marker)
	require.GreaterOrEqual(t, idx, 0, "command %q has no cfg_file= token", command)
	return command[idx+len(marker):]
}

func TestCheckJobStatus_RunningWhileProcessing(t *testing.T) {
	a, _ := testAgent(t, 2, 1)
	assert.Equal(t, model.Status(""), a.CheckJobStatus("k1"))

	a.pool.markProcessing("k1")
	assert.Equal(t, model.StatusRunning, a.CheckJobStatus("k1"))

	a.pool.unmarkProcessing("k1")
	assert.Equal(t, model.Status(""), a.CheckJobStatus("k1"))
}

func TestRunOne_ReportsErrorOnNonZeroExit(t *testing.T) {
	a, producer := testAgent(t, 1, 1)
	producer.ExpectSendMessageAndSucceed()

	it := item{BackendID: "b1", InputJobID: "k1", Command: "exit 3"}
	a.runOne(context.Background(), zap.NewNop(), it)

	assert.False(t, a.pool.isProcessing("k1"))
	require.NoError(t, producer.Close()) // reports the ERROR send if it did not happen
}

func TestRunOne_NoStatusEventOnSuccess(t *testing.T) {
	a, _ := testAgent(t, 1, 1)
	// No ExpectSendMessageAndSucceed — a successful run must not publish
	// anything itself (the child emits DONE via the reporter).

	it := item{BackendID: "b1", InputJobID: "k1", Command: "true"}
	a.runOne(context.Background(), zap.NewNop(), it)

	assert.False(t, a.pool.isProcessing("k1"))
}

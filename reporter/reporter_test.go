package reporter

import (
	"errors"
	"strings"
	"testing"

	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prubach/kafka-slurm-agent/internal/broker"
	"github.com/prubach/kafka-slurm-agent/internal/model"
)

func TestParseArgs_PositionalAndKeyValue(t *testing.T) {
	args, err := ParseArgs([]string{"prog", "job-1", "cfg_file=/tmp/a.json", "job_id=42"})
	require.NoError(t, err)
	assert.Equal(t, model.JobKey("job-1"), args.InputJobID)
	assert.Equal(t, "/tmp/a.json", args.CfgFile)
	assert.Equal(t, "42", args.JobID)
}

func TestParseArgs_MissingInputJobID(t *testing.T) {
	_, err := ParseArgs([]string{"prog"})
	require.Error(t, err)
}

func newTestReporter(t *testing.T, executorType model.ExecutorType) (*Reporter, *mocks.SyncProducer) {
	t.Helper()
	producer := mocks.NewSyncProducer(t, nil)
	status := broker.NewStatusPublisherWithProducer(producer, "jobs.status", "test-cluster")
	result := broker.NewResultPublisherWithProducer(producer, "jobs.done")
	return &Reporter{
		InputJobID:   "job-1",
		BackendID:    "b1",
		Node:         "host1",
		Cluster:      "test-cluster",
		ExecutorType: executorType,
		status:       status,
		result:       result,
	}, producer
}

func TestRun_HappyPathEmitsRunningThenDone(t *testing.T) {
	r, producer := newTestReporter(t, model.ExecutorClusterAgent)
	producer.ExpectSendMessageAndSucceed() // RUNNING
	producer.ExpectSendMessageAndSucceed() // results on the DONE topic
	producer.ExpectSendMessageAndSucceed() // DONE status

	err := r.Run(func(r *Reporter) (model.ResultPayload, error) {
		return model.ResultPayload{"answer": 42}, nil
	})
	require.NoError(t, err)
	require.NoError(t, producer.Close()) // reports any expected send that did not happen
}

func TestRun_ClusterAgentPathReportsErrorItself(t *testing.T) {
	r, producer := newTestReporter(t, model.ExecutorClusterAgent)
	producer.ExpectSendMessageAndSucceed() // RUNNING
	producer.ExpectSendMessageAndSucceed() // ERROR

	err := r.Run(func(r *Reporter) (model.ResultPayload, error) {
		return nil, errors.New("boom")
	})
	require.Error(t, err)
	require.NoError(t, producer.Close()) // reports any expected send that did not happen
}

func TestRun_WorkerAgentPathSwallowsAndPropagates(t *testing.T) {
	r, producer := newTestReporter(t, model.ExecutorWorkerAgent)
	producer.ExpectSendMessageAndSucceed() // RUNNING only — no ERROR publish

	err := r.Run(func(r *Reporter) (model.ResultPayload, error) {
		return nil, errors.New("boom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestRun_RecoversPanicAsError(t *testing.T) {
	r, producer := newTestReporter(t, model.ExecutorWorkerAgent)
	producer.ExpectSendMessageAndSucceed() // RUNNING only

	err := r.Run(func(r *Reporter) (model.ResultPayload, error) {
		panic("kaboom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
}

func TestTruncatedTraceback_CapsStackButNotMessage(t *testing.T) {
	longMsg := strings.Repeat("x", tracebackLimit*2)
	err := errors.New(longMsg)
	out := truncatedTraceback(err)

	assert.True(t, strings.HasPrefix(out, longMsg+"\n"), "message must be prepended in full, uncapped")
	stackPart := strings.TrimPrefix(out, longMsg+"\n")
	assert.LessOrEqual(t, len(stackPart), tracebackLimit)
}

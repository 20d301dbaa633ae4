package submitter

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prubach/kafka-slurm-agent/internal/model"
	"github.com/prubach/kafka-slurm-agent/internal/monitor"
)

func monitorServer(t *testing.T, known map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		for key, status := range known {
			if r.URL.Path == "/check/"+key+"/" {
				fmt.Fprintf(w, `{%q: {"status": %q}}`, key, status)
				return
			}
		}
		fmt.Fprint(w, "{}")
	}))
}

func TestSend_DuplicateSuppressedWhenKnownAndNotError(t *testing.T) {
	srv := monitorServer(t, map[string]string{"K7": "DONE"})
	defer srv.Close()

	producer := mocks.NewSyncProducer(t, nil)
	// No ExpectSendMessageAndSucceed — a publish here would fail the test
	// because the mock rejects unexpected calls, and none should happen.

	s := New(producer, monitor.New(srv.URL, "", 0), "jobs.new")
	res, err := s.Send(context.Background(), "K7", "job.py", model.SlurmParams{}, Options{Check: true})
	require.NoError(t, err)
	assert.False(t, res.Submitted)
	assert.Equal(t, model.StatusDone, res.PriorStatus)
}

func TestSend_ErrorStatusResubmittedWhenIgnored(t *testing.T) {
	srv := monitorServer(t, map[string]string{"K9": "ERROR"})
	defer srv.Close()

	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndSucceed()

	s := New(producer, monitor.New(srv.URL, "", 0), "jobs.new")
	res, err := s.Send(context.Background(), "K9", "job.py", model.SlurmParams{}, Options{Check: true, IgnoreErrorStatus: true})
	require.NoError(t, err)
	assert.True(t, res.Submitted)
	assert.Equal(t, model.StatusError, res.PriorStatus)
}

func TestSend_PublishesWhenUnknown(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndSucceed()

	s := New(producer, nil, "jobs.new")
	res, err := s.Send(context.Background(), "A1", "echo.py", model.SlurmParams{}, Options{Check: false})
	require.NoError(t, err)
	assert.True(t, res.Submitted)
	assert.Equal(t, model.JobKey("A1"), res.Key)
}

func TestSend_MonitorUnreachablePublishesNothing(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	// No expectations: an unreachable monitor must not result in a publish.

	s := New(producer, monitor.New("http://127.0.0.1:1", "", 0), "jobs.new")
	_, err := s.Send(context.Background(), "X1", "job.py", model.SlurmParams{}, Options{Check: true})
	require.Error(t, err)
}

func TestSendMany_PublishesEveryKey(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndSucceed()
	producer.ExpectSendMessageAndSucceed()
	producer.ExpectSendMessageAndSucceed()

	s := New(producer, nil, "jobs.new")
	results, err := s.SendMany(context.Background(), []model.JobKey{"a", "b", "c"}, "job.py", model.SlurmParams{}, Options{Check: false, Flush: true})
	require.NoError(t, err)
	assert.Len(t, results, 3)
	for _, r := range results {
		assert.True(t, r.Submitted)
	}
}

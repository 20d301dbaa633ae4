// Package submitter implements the admission algorithm a producer uses to
// publish new jobs: an optional monitor pre-check to suppress duplicates,
// then a publish of the JobRequest to the NEW topic.
package submitter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"

	"github.com/prubach/kafka-slurm-agent/internal/model"
	"github.com/prubach/kafka-slurm-agent/internal/monitor"
)

func marshalJobRequest(req model.JobRequest) ([]byte, error) {
	return json.Marshal(req)
}

// Result is the outcome of one Send call.
type Result struct {
	Key           model.JobKey
	Submitted     bool
	PriorStatus   model.Status // "" if the monitor had no record, or check was skipped
}

// Submitter publishes JobRequests to the NEW topic, optionally pre-checking
// the monitor to avoid resubmitting a job it already knows about.
type Submitter struct {
	producer sarama.SyncProducer
	monitor  *monitor.Client
	topic    string
}

// New builds a Submitter. monitorClient may be nil if the caller never sets
// check=true — Send will panic only if check is requested without one,
// since that's a caller programming error, not a runtime condition.
func New(producer sarama.SyncProducer, monitorClient *monitor.Client, topic string) *Submitter {
	return &Submitter{producer: producer, monitor: monitorClient, topic: topic}
}

// Options configures one Send/SendMany call.
type Options struct {
	// Check, if true, pre-checks the monitor before publishing.
	Check bool
	// Flush forces a producer flush after this send. SendMany ignores this
	// per-item and flushes once after the whole batch instead.
	Flush bool
	// IgnoreErrorStatus allows resubmission of a job the monitor reports as
	// ERROR (normally any known status suppresses resubmission).
	IgnoreErrorStatus bool
}

// Send runs the admission algorithm for one job:
//  1. If Check, ask the monitor for key's current status.
//  2. If the monitor reports a non-null status, and either IgnoreErrorStatus
//     is false or the status isn't ERROR, skip — return Submitted=false.
//  3. Otherwise publish JobRequest{key, script, slurmPars} to the NEW topic.
//
// If the monitor is unreachable, Send returns an error and does not publish —
// admission could not be decided, so no partial publish occurs.
func (s *Submitter) Send(ctx context.Context, key model.JobKey, script string, slurmPars model.SlurmParams, opts Options) (Result, error) {
	var prior model.Status

	if opts.Check {
		if s.monitor == nil {
			panic("submitter: Check requested but no monitor client configured")
		}
		status, err := s.monitor.CheckStatus(ctx, key)
		if err != nil {
			return Result{}, fmt.Errorf("submitter: admission check for %s failed: %w", key, err)
		}
		prior = status

		if prior != "" {
			if !opts.IgnoreErrorStatus || prior != model.StatusError {
				return Result{Key: key, Submitted: false, PriorStatus: prior}, nil
			}
		}
	}

	req := model.NewJobRequest(key, script, slurmPars)
	data, err := marshalJobRequest(req)
	if err != nil {
		return Result{}, fmt.Errorf("submitter: failed to encode job request for %s: %w", key, err)
	}

	_, _, err = s.producer.SendMessage(&sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(data),
	})
	if err != nil {
		return Result{}, fmt.Errorf("submitter: publish for %s failed: %w", key, err)
	}

	if opts.Flush {
		// The sync producer has already waited for the broker ack by the
		// time SendMessage returns, so there is nothing left to flush —
		// kept as a no-op call site for parity with SendMany's batching
		// contract and in case a future async producer is substituted in.
	}

	return Result{Key: key, Submitted: true, PriorStatus: prior}, nil
}

// SendMany runs Send for every key with the same script/slurmPars/opts, with
// the per-item Flush turned off. No flush runs at the end either: the sync
// producer has already waited for the broker ack on every SendMessage, so
// every published record is acknowledged by the time SendMany returns.
func (s *Submitter) SendMany(ctx context.Context, keys []model.JobKey, script string, slurmPars model.SlurmParams, opts Options) ([]Result, error) {
	batchOpts := opts
	batchOpts.Flush = false

	results := make([]Result, 0, len(keys))
	for _, key := range keys {
		res, err := s.Send(ctx, key, script, slurmPars, batchOpts)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

package broker

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/prubach/kafka-slurm-agent/internal/model"
)

// encode JSON-marshals v, panicking only on a programmer error (a value that
// cannot be marshaled at all) — every payload type in this package is a
// plain struct/map built from JSON-safe fields, so this never fires in
// practice; it exists so callers don't have to thread an error return
// through every Send call for a failure mode the types can't hit.
func encode(v any) sarama.Encoder {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("broker: unexpected marshal failure: %v", err))
	}
	return sarama.ByteEncoder(data)
}

// StatusPublisher emits StatusEvent records to the STATUS topic.
type StatusPublisher struct {
	producer sarama.SyncProducer
	topic    string
	cluster  string
}

// NewStatusPublisher builds a StatusPublisher under its own producer client
// id ("<cluster>_statussender").
func NewStatusPublisher(profile Profile, topic string) (*StatusPublisher, error) {
	producer, err := profile.NewSyncProducer("statussender")
	if err != nil {
		return nil, err
	}
	return &StatusPublisher{producer: producer, topic: topic, cluster: profile.ClusterName}, nil
}

// NewStatusPublisherWithProducer builds a StatusPublisher around an
// already-constructed producer, bypassing Profile entirely. This exists for
// tests and for callers that already share one producer across publishers
// (e.g. sarama/mocks.NewSyncProducer).
func NewStatusPublisherWithProducer(producer sarama.SyncProducer, topic, cluster string) *StatusPublisher {
	return &StatusPublisher{producer: producer, topic: topic, cluster: cluster}
}

// Send publishes a StatusEvent for key. jobID, node, errMsg, and message are
// all optional — pass "" to omit a field, matching the original system's
// keyword-argument contract.
func (p *StatusPublisher) Send(key model.JobKey, status model.Status, jobID, node, errMsg, message string) error {
	ev := model.StatusEvent{
		Status:    status,
		Cluster:   p.cluster,
		Timestamp: time.Now().Format(model.TimeLayout),
		JobID:     jobID,
		Node:      node,
		Error:     errMsg,
		Message:   message,
	}
	_, _, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(key),
		Value: encode(ev),
	})
	if err != nil {
		return fmt.Errorf("broker: status send for %s failed: %w", key, err)
	}
	return nil
}

// Remove emits a tombstone (nil value) on the STATUS topic for key, telling
// the monitor to delete whatever status it's holding for this job.
func (p *StatusPublisher) Remove(key model.JobKey) error {
	_, _, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(key),
		Value: nil,
	})
	if err != nil {
		return fmt.Errorf("broker: status tombstone for %s failed: %w", key, err)
	}
	return nil
}

// Flush is a no-op for the synchronous producer — SendMessage already waits
// for the broker ack. It exists so StatusPublisher satisfies the same
// teardown contract (flush-at-shutdown) as the rest of the publisher family,
// and so a future switch to an async producer doesn't change call sites.
func (p *StatusPublisher) Flush() {}

// Close releases the underlying producer.
func (p *StatusPublisher) Close() error { return p.producer.Close() }

// ResultPublisher emits ResultEvent records to the DONE topic.
type ResultPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

func NewResultPublisher(profile Profile, topic string) (*ResultPublisher, error) {
	producer, err := profile.NewSyncProducer("resultssender")
	if err != nil {
		return nil, err
	}
	return &ResultPublisher{producer: producer, topic: topic}, nil
}

// NewResultPublisherWithProducer mirrors NewStatusPublisherWithProducer: for
// tests and callers sharing one already-constructed producer.
func NewResultPublisherWithProducer(producer sarama.SyncProducer, topic string) *ResultPublisher {
	return &ResultPublisher{producer: producer, topic: topic}
}

// Send wraps results under the "results" envelope and stamps a timestamp
// onto it before publishing to the DONE topic.
func (p *ResultPublisher) Send(key model.JobKey, results model.ResultPayload) error {
	if results == nil {
		results = model.ResultPayload{}
	}
	results["timestamp"] = time.Now().Format(model.TimeLayout)

	_, _, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(key),
		Value: encode(model.ResultEvent{Results: results}),
	})
	if err != nil {
		return fmt.Errorf("broker: result send for %s failed: %w", key, err)
	}
	return nil
}

func (p *ResultPublisher) Flush() {}
func (p *ResultPublisher) Close() error { return p.producer.Close() }

// ErrorPublisher emits ErrorEvent records to the ERROR topic.
type ErrorPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

func NewErrorPublisher(profile Profile, topic string) (*ErrorPublisher, error) {
	producer, err := profile.NewSyncProducer("errorsender")
	if err != nil {
		return nil, err
	}
	return &ErrorPublisher{producer: producer, topic: topic}, nil
}

// Send stamps the timestamp and error message into envelope.Results and
// publishes it to the ERROR topic. envelope is mutated in place, matching
// the original system's in-place dict mutation.
func (p *ErrorPublisher) Send(key model.JobKey, envelope model.ResultPayload, sendErr error) error {
	if envelope == nil {
		envelope = model.ResultPayload{}
	}
	envelope["error"] = sendErr.Error()
	envelope["timestamp"] = time.Now().Format(model.TimeLayout)

	_, _, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(key),
		Value: encode(model.ErrorEvent{Results: envelope}),
	})
	if err != nil {
		return fmt.Errorf("broker: error send for %s failed: %w", key, err)
	}
	return nil
}

func (p *ErrorPublisher) Flush() {}
func (p *ErrorPublisher) Close() error { return p.producer.Close() }

// HeartbeatPublisher emits Heartbeat records to the HEARTBEAT topic, keyed by
// cluster name rather than by job.
type HeartbeatPublisher struct {
	producer sarama.SyncProducer
	topic    string
	cluster  string
}

func NewHeartbeatPublisher(profile Profile, topic string) (*HeartbeatPublisher, error) {
	producer, err := profile.NewSyncProducer("heartbeatsender")
	if err != nil {
		return nil, err
	}
	return &HeartbeatPublisher{producer: producer, topic: topic, cluster: profile.ClusterName}, nil
}

// Send publishes hb, keyed by cluster name.
func (p *HeartbeatPublisher) Send(hb model.Heartbeat) error {
	_, _, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(p.cluster),
		Value: encode(hb),
	})
	if err != nil {
		return fmt.Errorf("broker: heartbeat send failed: %w", err)
	}
	return nil
}

func (p *HeartbeatPublisher) Flush() {}
func (p *HeartbeatPublisher) Close() error { return p.producer.Close() }

package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
)

// NewTopicConsumer adapts sarama's claim-driven ConsumerGroup API to the
// poll(max_records, timeout)-shaped calls the dispatch loops are built
// around. sarama hands messages to a ConsumeClaim callback as they arrive and
// expects the caller to keep re-entering Consume across rebalances; Poll
// instead drains an internal buffer for up to maxRecords messages or until
// timeout elapses, whichever comes first — the same shape as the original
// system's kafka-python poll() call.
type NewTopicConsumer struct {
	group  sarama.ConsumerGroup
	topic  string
	logErr func(error)

	mu      sync.Mutex
	session sarama.ConsumerGroupSession
	buf     chan *sarama.ConsumerMessage

	cancel context.CancelFunc
	done   chan struct{}
}

// NewNewTopicConsumer starts the background Consume loop against topic. The
// returned consumer is ready for Poll/Commit immediately, though Poll may
// return zero records until the initial group rebalance completes.
func NewNewTopicConsumer(ctx context.Context, profile Profile, groupID, topic string, logErr func(error)) (*NewTopicConsumer, error) {
	group, err := profile.NewConsumerGroup(groupID, "dispatch")
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	c := &NewTopicConsumer{
		group:  group,
		topic:  topic,
		logErr: logErr,
		buf:    make(chan *sarama.ConsumerMessage, 256),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go c.consumeLoop(runCtx)
	go c.errLoop(runCtx)

	return c, nil
}

// consumeLoop keeps calling group.Consume — sarama requires this because
// each call returns when a rebalance happens and the group must immediately
// rejoin.
func (c *NewTopicConsumer) consumeLoop(ctx context.Context) {
	defer close(c.done)
	for {
		if err := c.group.Consume(ctx, []string{c.topic}, c); err != nil {
			if ctx.Err() != nil {
				return
			}
			if c.logErr != nil {
				c.logErr(fmt.Errorf("broker: consume error: %w", err))
			}
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (c *NewTopicConsumer) errLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-c.group.Errors():
			if !ok {
				return
			}
			if c.logErr != nil {
				c.logErr(fmt.Errorf("broker: consumer group error: %w", err))
			}
		}
	}
}

// Setup implements sarama.ConsumerGroupHandler. It stashes the session so
// Poll/Commit can mark messages and force offset commits against it.
func (c *NewTopicConsumer) Setup(session sarama.ConsumerGroupSession) error {
	c.mu.Lock()
	c.session = session
	c.mu.Unlock()
	return nil
}

// Cleanup implements sarama.ConsumerGroupHandler.
func (c *NewTopicConsumer) Cleanup(sarama.ConsumerGroupSession) error {
	c.mu.Lock()
	c.session = nil
	c.mu.Unlock()
	return nil
}

// ConsumeClaim implements sarama.ConsumerGroupHandler. It forwards every
// claimed message into the internal buffer for Poll to drain.
func (c *NewTopicConsumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		select {
		case c.buf <- msg:
		case <-session.Context().Done():
			return nil
		}
	}
	return nil
}

// Poll drains up to maxRecords messages from the internal buffer, waiting at
// most timeout in total and returning immediately once maxRecords have
// arrived. A zero-length, nil-error result means the poll window simply
// elapsed with nothing new — not an error condition.
func (c *NewTopicConsumer) Poll(ctx context.Context, maxRecords int, timeout time.Duration) ([]*sarama.ConsumerMessage, error) {
	if maxRecords <= 0 {
		return nil, nil
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	records := make([]*sarama.ConsumerMessage, 0, maxRecords)
	for len(records) < maxRecords {
		select {
		case msg := <-c.buf:
			records = append(records, msg)
			c.mu.Lock()
			if c.session != nil {
				c.session.MarkMessage(msg, "")
			}
			c.mu.Unlock()
		case <-deadline.C:
			return records, nil
		case <-ctx.Done():
			return records, ctx.Err()
		}
	}
	return records, nil
}

// Commit forces a synchronous commit of every message marked by Poll so far.
// Callers must call this only after every record returned by the
// corresponding Poll has been durably dispatched (enqueued or submitted) —
// committing early would violate the at-least-once contract this system
// relies on for crash recovery.
func (c *NewTopicConsumer) Commit() {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session != nil {
		session.Commit()
	}
}

// Close stops the background consume loop and releases the underlying
// sarama client. Safe to call once.
func (c *NewTopicConsumer) Close() error {
	c.cancel()
	<-c.done
	return c.group.Close()
}

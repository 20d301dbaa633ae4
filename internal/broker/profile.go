// Package broker wraps the Kafka connection profile shared by every
// publisher and the NEW-topic consumer: bootstrap servers, security
// protocol, SASL mechanism, credentials, and a per-role client id of the
// form "<cluster>_<role>". All values are JSON-encoded UTF-8; all keys are
// the raw UTF-8 bytes of a JobKey (or cluster name, for heartbeats).
package broker

import (
	"fmt"

	"github.com/IBM/sarama"
)

// Profile holds the connection parameters common to every producer and
// consumer built against the broker.
type Profile struct {
	BootstrapServers []string
	ClusterName      string
	SecurityProtocol string
	SASLMechanism    string
	Username         string
	Password         string
}

// clientID returns the "<cluster>_<role>" client id convention used for
// every producer and consumer, e.g. "my_cluster_statussender".
func (p Profile) clientID(role string) string {
	return fmt.Sprintf("%s_%s", p.ClusterName, role)
}

// baseConfig builds the sarama.Config shared by producers and consumers:
// security protocol, SASL credentials, and client id. version is pinned to
// a conservative baseline so the client negotiates down rather than assuming
// brokers support the newest wire protocol.
func (p Profile) baseConfig(role string) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = p.clientID(role)
	cfg.Version = sarama.V2_6_0_0

	switch p.SecurityProtocol {
	case "", "PLAINTEXT":
		// No TLS, no SASL.
	case "SASL_PLAINTEXT", "SASL_SSL":
		cfg.Net.SASL.Enable = true
		cfg.Net.SASL.User = p.Username
		cfg.Net.SASL.Password = p.Password
		if p.SASLMechanism != "" {
			cfg.Net.SASL.Mechanism = sarama.SASLMechanism(p.SASLMechanism)
		}
		if p.SecurityProtocol == "SASL_SSL" {
			cfg.Net.TLS.Enable = true
		}
	case "SSL":
		cfg.Net.TLS.Enable = true
	}

	return cfg
}

// NewSyncProducer builds a synchronous producer under the given role name.
// Synchronous (rather than async) is deliberate: it makes flush() an
// explicit, observable call and ties send failures directly back to the
// caller instead of draining an Errors() channel nobody reads — the
// propagate-and-redeliver policy this system relies on needs send to be able
// to fail loudly at the call site.
func (p Profile) NewSyncProducer(role string) (sarama.SyncProducer, error) {
	cfg := p.baseConfig(role)
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForLocal

	producer, err := sarama.NewSyncProducer(p.BootstrapServers, cfg)
	if err != nil {
		return nil, fmt.Errorf("broker: failed to create %s producer: %w", role, err)
	}
	return producer, nil
}

// NewConsumerGroup builds a consumer group client under the given group id.
// Auto-commit is disabled — callers must call MarkMessage + Commit
// explicitly after a batch has been fully dispatched, per the manual-commit
// discipline this system depends on for at-least-once redelivery.
func (p Profile) NewConsumerGroup(groupID, role string) (sarama.ConsumerGroup, error) {
	cfg := p.baseConfig(role)
	cfg.Consumer.Offsets.AutoCommit.Enable = false
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(p.BootstrapServers, groupID, cfg)
	if err != nil {
		return nil, fmt.Errorf("broker: failed to create consumer group %s: %w", groupID, err)
	}
	return group, nil
}

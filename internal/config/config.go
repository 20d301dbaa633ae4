// Package config loads the dispatch bus's runtime configuration from
// environment variables. There is no config-file format here — file
// discovery (the original system walked up from the home directory looking
// for kafkaslurm_cfg.py) is explicitly out of scope for this port; env vars
// are the minimal ambient substitute a CLI binary needs to start at all.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds every environment-configurable knob named in the external
// interfaces of the dispatch bus. Defaults mirror the original system's
// config_defaults table where one existed.
type Config struct {
	ClusterName string

	BootstrapServers    string
	KafkaSecurityProto  string
	KafkaSASLMechanism  string
	KafkaUsername       string
	KafkaPassword       string

	TopicNew       string
	TopicStatus    string
	TopicDone      string
	TopicError     string
	TopicHeartbeat string

	ClusterAgentNewGroup string

	PollInterval      time.Duration
	HeartbeatInterval time.Duration

	WorkerAgentMaxWorkers int
	WorkerJobTimeout      time.Duration

	SlurmPartition        string
	SlurmJobType          string
	SlurmResourcesRequired int
	SlurmOutDir           string

	SharedTmp string
	LogsDir   string

	MonitorAgentURL         string
	MonitorAgentContextPath string

	// RunnerBin is the interpreter/executable prefixed onto every job script
	// invocation (the original system hardcoded a venv's python binary).
	RunnerBin string

	// MetricsAddr is where the Prometheus /metrics endpoint is served.
	// Empty disables it.
	MetricsAddr string

	Debug bool
}

// Load reads Config from the environment, applying defaults for anything
// unset. stateDir seeds the SharedTmp/LogsDir/SlurmOutDir defaults so a
// single --state-dir flag is enough to get a working layout, matching how
// the agent binaries already derive a state directory for other purposes.
func Load(stateDir string) Config {
	return Config{
		ClusterName: envOrDefault("CLUSTER_NAME", "my_cluster"),

		BootstrapServers:   envOrDefault("BOOTSTRAP_SERVERS", "localhost:9092"),
		KafkaSecurityProto: envOrDefault("KAFKA_SECURITY_PROTOCOL", "PLAINTEXT"),
		KafkaSASLMechanism: os.Getenv("KAFKA_SASL_MECHANISM"),
		KafkaUsername:      os.Getenv("KAFKA_USERNAME"),
		KafkaPassword:       os.Getenv("KAFKA_PASSWORD"),

		TopicNew:       envOrDefault("TOPIC_NEW", "jobs.new"),
		TopicStatus:    envOrDefault("TOPIC_STATUS", "jobs.status"),
		TopicDone:      envOrDefault("TOPIC_DONE", "jobs.done"),
		TopicError:     envOrDefault("TOPIC_ERROR", "jobs.error"),
		TopicHeartbeat: envOrDefault("TOPIC_HEARTBEAT", "jobs.heartbeat"),

		ClusterAgentNewGroup: envOrDefault("CLUSTER_AGENT_NEW_GROUP", "cluster-agent-new"),

		PollInterval:      envDurationSeconds("POLL_INTERVAL", 30*time.Second),
		HeartbeatInterval: envDurationSeconds("HEARTBEAT_INTERVAL", 0),

		WorkerAgentMaxWorkers: envInt("WORKER_AGENT_MAX_WORKERS", 2),
		WorkerJobTimeout:      envDurationSeconds("WORKER_JOB_TIMEOUT", 86400*time.Second),

		SlurmPartition:         envOrDefault("SLURM_PARTITION", "batch"),
		SlurmJobType:           envOrDefault("SLURM_JOB_TYPE", "cpu"),
		SlurmResourcesRequired: envInt("SLURM_RESOURCES_REQUIRED", 1),
		SlurmOutDir:            envOrDefault("SLURM_OUT_DIR", stateDir+"/slurm-out"),

		SharedTmp: envOrDefault("SHARED_TMP", stateDir+"/tmp"),
		LogsDir:   envOrDefault("LOGS_DIR", stateDir+"/logs"),

		MonitorAgentURL:         envOrDefault("MONITOR_AGENT_URL", "http://localhost:6066/"),
		MonitorAgentContextPath: envOrDefault("MONITOR_AGENT_CONTEXT_PATH", ""),

		RunnerBin: envOrDefault("RUNNER_BIN", "python3"),

		MetricsAddr: os.Getenv("METRICS_ADDR"),

		Debug: envBool("DEBUG", false),
	}
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

// envDurationSeconds reads an integer/float number of seconds from key and
// converts it to a time.Duration, matching the original config's plain
// float-seconds fields (POLL_INTERVAL, HEARTBEAT_INTERVAL, WORKER_JOB_TIMEOUT).
func envDurationSeconds(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return time.Duration(f * float64(time.Second))
}

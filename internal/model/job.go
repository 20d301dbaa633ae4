// Package model defines the wire-level types shared by every component of
// the dispatch bus: the NEW-topic job request, the STATUS/DONE/ERROR event
// envelopes, and the heartbeat record. All of them round-trip through JSON —
// the broker only ever carries JSON values keyed by the raw UTF-8 bytes of a
// JobKey (or cluster name, for heartbeats).
package model

import "time"

// TimeLayout is the local-time string format used on every timestamp field
// in the wire types below. It intentionally drops the timezone — the original
// system assumes a single-timezone deployment and so does this one.
const TimeLayout = "2006-01-02 15:04:05"

// JobKey is the caller-supplied identifier for a logical job. It is also the
// broker message key for every event emitted about that job, so all events
// for one JobKey land on the same partition and are observed in order.
type JobKey = string

// ExecutorType discriminates which agent flavor dispatched a job. It is
// stamped onto the JobRequest by the dispatching agent and is the only signal
// the Compute-side Reporter uses to decide whether to swallow a do-compute
// failure (Worker Agent path) or report it itself (Cluster Agent path).
type ExecutorType string

const (
	// ExecutorWorkerAgent marks a job dispatched by the in-process worker pool.
	ExecutorWorkerAgent ExecutorType = "WRK_AGNT"
	// ExecutorClusterAgent marks a job submitted to the batch scheduler.
	ExecutorClusterAgent ExecutorType = "CL_AGNT"
)

// SlurmParams carries backend hints attached to a JobRequest. Only the keys
// below are recognized; anything else in the original submission is dropped
// silently rather than rejected, matching the source system's tolerance for
// forward-compatible extra fields.
type SlurmParams struct {
	// ResourcesRequired is the number of cpus/gpus the job needs. Zero means
	// "use the agent's configured default".
	ResourcesRequired int `json:"RESOURCES_REQUIRED,omitempty"`
	// JobType is one of "gpu" or "cpu". Empty means "use the agent's default".
	JobType string `json:"JOB_TYPE,omitempty"`
	// Mem is an optional memory reservation string passed through verbatim to
	// the batch scheduler (e.g. "4G").
	Mem string `json:"MEM,omitempty"`
}

// JobRequest is the NEW-topic value. It is created by the Submitter, consumed
// at most once per successful commit by whichever agent's dispatch loop polls
// it, and augmented in place with ExecutorType before execution.
type JobRequest struct {
	InputJobID   JobKey       `json:"input_job_id"`
	Script       string       `json:"script"`
	SlurmPars    SlurmParams  `json:"slurm_pars"`
	Timestamp    string       `json:"timestamp"`
	ExecutorType ExecutorType `json:"ExecutorType,omitempty"`
}

// NewJobRequest stamps the current time onto a JobRequest using TimeLayout.
func NewJobRequest(key JobKey, script string, pars SlurmParams) JobRequest {
	return JobRequest{
		InputJobID: key,
		Script:     script,
		SlurmPars:  pars,
		Timestamp:  time.Now().Format(TimeLayout),
	}
}

// Status is one of the four lifecycle states a job can be observed in plus
// the zero value, used for "no known status" once a StatusEvent is decoded.
type Status string

const (
	StatusSubmitted Status = "SUBMITTED"
	StatusRunning   Status = "RUNNING"
	StatusDone      Status = "DONE"
	StatusError     Status = "ERROR"
	// StatusWaiting is not an event emitted onto the STATUS topic — it is the
	// Cluster Agent's scheduler status probe result for a job the batch
	// scheduler has accepted but not yet started.
	StatusWaiting Status = "WAITING"
)

// StatusEvent is the STATUS-topic value. A nil *StatusEvent serialized to the
// broker is a tombstone: it deletes monitor state for the key it's keyed by.
type StatusEvent struct {
	Status    Status `json:"status"`
	Cluster   string `json:"cluster"`
	Timestamp string `json:"timestamp"`
	JobID     string `json:"job_id,omitempty"`
	Node      string `json:"node,omitempty"`
	Error     string `json:"error,omitempty"`
	Message   string `json:"message,omitempty"`
}

// ResultPayload is the free-form, caller-supplied body of a ResultEvent. The
// dispatch core never looks inside it — it only stamps the envelope fields.
type ResultPayload map[string]any

// ResultEvent is the DONE-topic value.
type ResultEvent struct {
	Results ResultPayload `json:"results"`
}

// ErrorEvent is the ERROR-topic value: the same envelope as ResultEvent, with
// an error field folded into Results.
type ErrorEvent struct {
	Results ResultPayload `json:"results"`
}

// Heartbeat is the HEARTBEAT-topic value, keyed by cluster name.
//
// Workers and Load are additive fields: a process collecting no extra
// telemetry (or one without gopsutil available) omits them, and old consumers
// built against only {timestamp} still parse the payload.
type Heartbeat struct {
	Timestamp string          `json:"timestamp"`
	Workers   *WorkerGauge    `json:"workers,omitempty"`
	Load      *float64        `json:"load,omitempty"`
}

// WorkerGauge is the optional Worker Agent utilization snapshot folded into a
// Heartbeat.
type WorkerGauge struct {
	InFlight int `json:"in_flight"`
	Capacity int `json:"capacity"`
}

// NewHeartbeat stamps the current time using TimeLayout.
func NewHeartbeat() Heartbeat {
	return Heartbeat{Timestamp: time.Now().Format(TimeLayout)}
}

// Package reporter is the compute-side half of the dispatch bus: embedded
// directly in a user's job program, it emits the RUNNING/DONE/ERROR status
// events around a user-supplied compute function. It is exported (not under
// internal/) so job binaries written in Go can import it directly, the way
// the original system's job scripts subclassed its compute base class.
package reporter

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime/debug"
	"strings"

	"github.com/prubach/kafka-slurm-agent/internal/broker"
	"github.com/prubach/kafka-slurm-agent/internal/model"
)

// tracebackLimit bounds the stack trace excerpt appended to an ERROR
// event's error field; the exception message itself is never truncated.
const tracebackLimit = 2000

// JobConfig is the parsed contents of the cfg_file= argument, when present.
// It is the same JobRequest a dispatching agent materialized to disk —
// both the Cluster Agent and Worker Agent paths always supply one, since it
// is the only way a spawned job learns which agent dispatched it.
type JobConfig = model.JobRequest

// Args is the parsed command-line contract: [program, input_job_id,
// "cfg_file=<path>"?, "job_id=<backend_id>"?] in any order past the first
// positional argument.
type Args struct {
	InputJobID model.JobKey
	CfgFile    string
	JobID      string
}

// ParseArgs parses argv (os.Args, including the program name at index 0).
// Only InputJobID is required; CfgFile and JobID are optional key=value
// pairs and may appear in either order.
func ParseArgs(argv []string) (Args, error) {
	if len(argv) < 2 {
		return Args{}, fmt.Errorf("reporter: expected at least one argument (input_job_id), got %d", len(argv)-1)
	}
	a := Args{InputJobID: argv[1]}
	for _, arg := range argv[2:] {
		key, val, ok := strings.Cut(arg, "=")
		if !ok {
			continue
		}
		switch key {
		case "cfg_file":
			a.CfgFile = val
		case "job_id":
			a.JobID = val
		}
	}
	return a, nil
}

// Reporter is constructed once per job process and drives exactly one
// RUNNING -> {DONE|ERROR} transition.
type Reporter struct {
	InputJobID   model.JobKey
	BackendID    string
	Node         string
	Cluster      string
	ExecutorType model.ExecutorType
	Config       *JobConfig // nil if no cfg_file was supplied

	status *broker.StatusPublisher
	result *broker.ResultPublisher
}

// New builds a Reporter from argv and environment. backendIDEnvVar names the
// environment variable the dispatching agent set with the backend job id
// (e.g. "SLURM_JOB_ID"); if neither job_id= nor that variable is present,
// BackendID defaults to "-1" matching the original contract.
func New(argv []string, cluster, backendIDEnvVar string, executorType model.ExecutorType, status *broker.StatusPublisher, result *broker.ResultPublisher) (*Reporter, error) {
	args, err := ParseArgs(argv)
	if err != nil {
		return nil, err
	}

	backendID := args.JobID
	if backendID == "" {
		backendID = os.Getenv(backendIDEnvVar)
	}
	if backendID == "" {
		backendID = "-1"
	}

	node, err := os.Hostname()
	if err != nil {
		node = "unknown"
	}

	r := &Reporter{
		InputJobID:   args.InputJobID,
		BackendID:    backendID,
		Node:         node,
		Cluster:      cluster,
		ExecutorType: executorType,
		status:       status,
		result:       result,
	}

	if args.CfgFile != "" {
		data, err := os.ReadFile(args.CfgFile)
		if err != nil {
			return nil, fmt.Errorf("reporter: reading cfg_file %s: %w", args.CfgFile, err)
		}
		var cfg JobConfig
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("reporter: parsing cfg_file %s: %w", args.CfgFile, err)
		}
		r.Config = &cfg
		if cfg.ExecutorType != "" {
			r.ExecutorType = cfg.ExecutorType
		}
	}

	return r, nil
}

// ComputeFunc is the user-supplied job body. A non-nil error (or a panic,
// which Run recovers and treats identically) is reported as STATUS ERROR.
type ComputeFunc func(r *Reporter) (model.ResultPayload, error)

// Run drives the RUNNING -> {DONE|ERROR} lifecycle around fn and flushes
// both publishers on the way out, matching the teardown contract every
// dispatch-side component shares.
//
// On failure, whether an ERROR event is actually published depends on
// ExecutorType: the Worker Agent path already wraps this process and
// observes a non-zero exit code, so Run here stays silent and lets the
// error propagate to the caller (main should os.Exit(1)); every other path
// has no such parent watching, so Run publishes ERROR itself.
func (r *Reporter) Run(fn ComputeFunc) error {
	defer r.status.Flush()
	defer r.result.Flush()

	if err := r.status.Send(r.InputJobID, model.StatusRunning, r.BackendID, r.Node, "", ""); err != nil {
		return fmt.Errorf("reporter: publishing RUNNING for %s: %w", r.InputJobID, err)
	}

	results, err := r.runCompute(fn)
	if err == nil {
		if sendErr := r.result.Send(r.InputJobID, results); sendErr != nil {
			return fmt.Errorf("reporter: publishing results for %s: %w", r.InputJobID, sendErr)
		}
		if sendErr := r.status.Send(r.InputJobID, model.StatusDone, r.BackendID, r.Node, "", ""); sendErr != nil {
			return fmt.Errorf("reporter: publishing DONE for %s: %w", r.InputJobID, sendErr)
		}
		return nil
	}

	if r.ExecutorType == model.ExecutorWorkerAgent {
		return err
	}

	if sendErr := r.status.Send(r.InputJobID, model.StatusError, r.BackendID, r.Node, truncatedTraceback(err), ""); sendErr != nil {
		return fmt.Errorf("reporter: publishing ERROR for %s (compute error %v): %w", r.InputJobID, err, sendErr)
	}
	return err
}

// runCompute calls fn, converting a panic into an error carrying its stack
// trace the same way a returned error's traceback is reported.
func (r *Reporter) runCompute(fn ComputeFunc) (results model.ResultPayload, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v\n%s", p, debug.Stack())
		}
	}()
	return fn(r)
}

// truncatedTraceback formats err's message plus a stack trace captured at
// the point Run observed the failure. Only the stack trace excerpt is
// capped at tracebackLimit bytes — the exception message itself is always
// prepended in full, so the combined result can exceed tracebackLimit.
func truncatedTraceback(err error) string {
	stack := debug.Stack()
	if len(stack) > tracebackLimit {
		stack = stack[:tracebackLimit]
	}
	return err.Error() + "\n" + string(stack)
}

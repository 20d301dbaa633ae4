// Package dispatch implements the control loop shared by the Worker Agent
// and the Cluster Agent. Both agents used to be framed as two subclasses of
// one base with an overridable check_queue_submit hook; this package
// replaces that with a small injected capability, per the Design Notes:
//
//	Dispatcher{ Budget(ctx) (int, error);
//	            Poll(ctx, budget) ([]JobRequest, error);
//	            Submit(ctx, JobRequest) (backendID string, err error);
//	            Commit() }
//
// Tick drives one dispatch tick: it asks the Dispatcher how many records it
// may admit, polls that many off the NEW topic, submits each to the backend,
// emits SUBMITTED for each success, and commits offsets only if every record
// in the tick was dispatched without error.
package dispatch

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/prubach/kafka-slurm-agent/internal/model"
)

// Dispatcher is the capability injected into Tick. Budget returns how many
// NEW-topic records may be polled this tick (0 disables the tick entirely —
// used by the Cluster Agent's backlog gate). Poll performs the actual
// broker poll bounded by that budget. Submit hands one job to the backend
// and returns its backend-assigned id.
type Dispatcher interface {
	// Budget returns the number of records this tick may admit. Returning 0
	// means "skip this tick" — no poll, no commit.
	Budget(ctx context.Context) (int, error)
	// Poll fetches up to budget NEW-topic records.
	Poll(ctx context.Context, budget int) ([]model.JobRequest, error)
	// Submit dispatches one job (enqueue locally, or submit to the batch
	// scheduler) and returns its backend id.
	Submit(ctx context.Context, job model.JobRequest) (backendID string, err error)
	// Commit commits consumer offsets for everything Poll returned in this
	// tick. Called only when every record was submitted without error.
	Commit()
}

// StatusSink is the subset of broker.StatusPublisher the control loop needs
// to emit SUBMITTED events.
type StatusSink interface {
	Send(key model.JobKey, status model.Status, jobID, node, errMsg, message string) error
}

// TickResult summarizes one call to Tick, useful for telemetry and tests.
type TickResult struct {
	Budget     int
	Polled     int
	Submitted  int
	Skipped    bool // true if Budget returned 0 and the tick did nothing
	Committed  bool
}

// Tick runs exactly one dispatch tick against d. It never blocks longer than
// the Dispatcher's own Poll/Submit implementations choose to.
func Tick(ctx context.Context, d Dispatcher, sink StatusSink) (TickResult, error) {
	budget, err := d.Budget(ctx)
	if err != nil {
		return TickResult{}, fmt.Errorf("dispatch: budget failed: %w", err)
	}
	if budget <= 0 {
		return TickResult{Skipped: true}, nil
	}

	jobs, err := d.Poll(ctx, budget)
	if err != nil {
		return TickResult{Budget: budget}, fmt.Errorf("dispatch: poll failed: %w", err)
	}
	if len(jobs) == 0 {
		return TickResult{Budget: budget}, nil
	}

	var errs *multierror.Error
	submitted := 0
	for _, job := range jobs {
		backendID, err := d.Submit(ctx, job)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("dispatch: submit %s failed: %w", job.InputJobID, err))
			continue
		}
		if sendErr := sink.Send(job.InputJobID, model.StatusSubmitted, backendID, "", "", ""); sendErr != nil {
			// A SUBMITTED event that fails to publish is itself an
			// infrastructure failure — per §7 it propagates and the tick
			// does not commit, so the record is redelivered and resubmitted.
			errs = multierror.Append(errs, fmt.Errorf("dispatch: SUBMITTED event for %s failed: %w", job.InputJobID, sendErr))
			continue
		}
		submitted++
	}

	result := TickResult{Budget: budget, Polled: len(jobs), Submitted: submitted}

	// Invariant (§8): offsets for the records polled in this tick are
	// committed iff every record was dispatched without exception.
	if errs.ErrorOrNil() != nil {
		return result, errs.ErrorOrNil()
	}

	d.Commit()
	result.Committed = true
	return result, nil
}

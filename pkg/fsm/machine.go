package fsm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/superfly/fsm"
	"github.com/virtqa/pool-create-check/pkg/errors"
	"github.com/virtqa/pool-create-check/pkg/scenario"
)

// activeRun is a run this process is driving. Steps hold in-memory state,
// so a run can only advance in the process that started it.
type activeRun struct {
	steps map[string]scenario.Step
	state *scenario.State
	err   error
}

// Driver runs scenario steps as FSM transitions. It implements
// scenario.Driver.
type Driver struct {
	manager    *fsm.Manager
	start      fsm.Start[RunRequest, RunResponse]
	maxRetries int

	mu   sync.Mutex
	runs map[string]*activeRun
}

// NewDriver creates a driver. Register must be called before Drive.
// maxRetries counts deliveries of one transition and is at least 1.
func NewDriver(maxRetries int) *Driver {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Driver{
		maxRetries: maxRetries,
		runs:       make(map[string]*activeRun),
	}
}

// Drive starts the machine for runID and waits for it to finish. It returns
// the error of the failing step, if any.
func (d *Driver) Drive(ctx context.Context, runID string, steps []scenario.Step, st *scenario.State) error {
	if d.start == nil {
		return fmt.Errorf("fsm driver is not registered")
	}
	byName, err := indexSteps(steps)
	if err != nil {
		return err
	}

	run := &activeRun{steps: byName, state: st}
	d.mu.Lock()
	if _, busy := d.runs[runID]; busy {
		d.mu.Unlock()
		return fmt.Errorf("run %s is already active", runID)
	}
	d.runs[runID] = run
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.runs, runID)
		d.mu.Unlock()
	}()

	req := &RunRequest{RunID: runID}
	resp := &RunResponse{}

	version, err := d.start(ctx, runID, fsm.NewRequest(req, resp))
	if err != nil {
		return errors.Wrap(err, "FSM start failed")
	}
	slog.Info("fsm_started", "run_id", runID, "version", version)

	waitErr := d.manager.Wait(ctx, version)

	d.mu.Lock()
	stepErr := run.err
	d.mu.Unlock()
	if stepErr != nil {
		return stepErr
	}
	if waitErr != nil {
		return errors.Wrap(waitErr, "FSM execution failed")
	}
	return nil
}

// handler adapts the step named phase to an FSM transition.
func (d *Driver) handler(phase string) func(context.Context, *fsm.Request[RunRequest, RunResponse]) (*fsm.Response[RunResponse], error) {
	return func(ctx context.Context, req *fsm.Request[RunRequest, RunResponse]) (_ *fsm.Response[RunResponse], err error) {
		runID := req.Msg.RunID
		slog.Info("fsm_state", "run_id", runID, "state", phase)

		if retryCount := fsm.RetryFromContext(ctx); retryCount >= uint64(d.maxRetries) {
			slog.Error("max_retries_exceeded", "run_id", runID, "max_retries", d.maxRetries)
			return nil, fsm.Abort(fmt.Errorf("max retries (%d) exceeded", d.maxRetries))
		}

		d.mu.Lock()
		run := d.runs[runID]
		d.mu.Unlock()
		if run == nil {
			slog.Error("fsm_run_not_active", "run_id", runID, "state", phase)
			return nil, fsm.Abort(fmt.Errorf("run %s is not active in this process", runID))
		}

		resp := req.W.Msg
		if resp == nil {
			resp = &RunResponse{}
		}

		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("fsm_state_panic", "run_id", runID, "state", phase, "panic", rec)
				perr := &scenario.SetupError{Phase: phase, Err: fmt.Errorf("panic: %v", rec)}
				run.state.Err = perr
				d.fail(run, resp, perr)
				err = fsm.Abort(perr)
			}
		}()

		if step, ok := run.steps[phase]; ok {
			if stepErr := step.Run(ctx, run.state); stepErr != nil {
				d.fail(run, resp, stepErr)
				return nil, fsm.Abort(stepErr)
			}
		}

		resp.Phase = phase
		return fsm.NewResponse(resp), nil
	}
}

func (d *Driver) fail(run *activeRun, resp *RunResponse, err error) {
	d.mu.Lock()
	run.err = err
	d.mu.Unlock()
	resp.Error = err.Error()
}

// indexSteps maps steps by name and rejects names the machine has no
// state for.
func indexSteps(steps []scenario.Step) (map[string]scenario.Step, error) {
	known := make(map[string]bool, len(chain))
	for _, name := range chain {
		known[name] = true
	}

	byName := make(map[string]scenario.Step, len(steps))
	for _, step := range steps {
		if !known[step.Name] {
			return nil, fmt.Errorf("no FSM state for step %q", step.Name)
		}
		if _, dup := byName[step.Name]; dup {
			return nil, fmt.Errorf("duplicate step %q", step.Name)
		}
		byName[step.Name] = step
	}
	return byName, nil
}

// Package fsm drives scenario runs through a durable finite state machine
// backed by the superfly/fsm library. Each scenario phase is one state and
// a failing phase aborts the machine into the failed state.
package fsm

import (
	"context"

	"github.com/superfly/fsm"
	"github.com/virtqa/pool-create-check/pkg/errors"
)

// Register registers the scenario run FSM
func (d *Driver) Register(ctx context.Context, manager *fsm.Manager) error {
	start, _, err := fsm.Register[RunRequest, RunResponse](manager, "pool-create-run").
		Start(StateInit, d.handler(StateInit)).
		To(StatePreProvision, d.handler(StatePreProvision)).
		To(StateMutate, d.handler(StateMutate)).
		To(StateCreate, d.handler(StateCreate)).
		To(StateClassify, d.handler(StateClassify)).
		End(StateFailed).
		Build(ctx)

	if err != nil {
		return errors.Wrap(err, "failed to register FSM")
	}

	d.manager = manager
	d.start = start
	return nil
}

// Package scenario runs one pool-create scenario: optional pre-provisioning,
// descriptor mutation, the creation call, outcome classification and an
// unconditional cleanup.
package scenario

import (
	"fmt"
	"time"

	"github.com/virtqa/pool-create-check/pkg/backing"
	"github.com/virtqa/pool-create-check/pkg/provision"
	"github.com/virtqa/pool-create-check/pkg/virsh"
)

// Phase names
const (
	PhaseInit         = "init"
	PhasePreProvision = "pre_provision"
	PhaseMutate       = "mutate"
	PhaseCreate       = "create"
	PhaseClassify     = "classify"
	PhaseCleanup      = "cleanup"
	PhaseDone         = "done"
)

// Outcome is what the creation call produced.
type Outcome struct {
	ExitStatus int
	Stderr     string
	// Pool is the post-creation inspection; nil when it was not possible.
	Pool *virsh.PoolInfo
}

// State is everything a run acquires. Cleanup releases exactly what is
// recorded here.
type State struct {
	RunID string
	Phase string

	// From init
	ForeignPool      bool
	DescriptorFile   string
	DescriptorSHA256 string

	// From pre_provision
	Pool    *provision.Pool
	OldUUID string
	Device  *backing.Device

	// From mutate
	CorruptFile string
	CreateFile  string

	// From create
	CreatedName     string
	CreateAttempted bool
	Outcome         *Outcome
	NewUUID         string

	Timings map[string]time.Duration
	Err     error `json:"-"`
}

// SetupError means the run could not reach or complete the operation under
// test. It is not a verdict on pool-create.
type SetupError struct {
	Phase string
	Err   error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("setup error in %s: %v", e.Phase, e.Err)
}

func (e *SetupError) Unwrap() error {
	return e.Err
}

func setupErr(phase string, err error) error {
	if err == nil {
		return nil
	}
	return &SetupError{Phase: phase, Err: err}
}

// TestFailure means pool-create behaved against the expectation.
type TestFailure struct {
	Reason string
	Stderr string
}

func (e *TestFailure) Error() string {
	return e.Reason
}

// Status is the verdict class of a run.
type Status string

const (
	StatusPass  Status = "pass"
	StatusFail  Status = "fail"
	StatusError Status = "error"
)

// Verdict is reported exactly once per run.
type Verdict struct {
	Status   Status
	Reason   string
	Stderr   string
	Warnings []string
}

func (v Verdict) String() string {
	if v.Reason == "" {
		return string(v.Status)
	}
	return fmt.Sprintf("%s: %s", v.Status, v.Reason)
}

package fsm

// RunRequest is the FSM input
type RunRequest struct {
	RunID string
}

// RunResponse is the FSM output (accumulated across transitions)
type RunResponse struct {
	// Last phase that completed
	Phase string

	// From Failed
	Error string
}

// State names. They match the scenario phases one to one.
const (
	StateInit         = "init"
	StatePreProvision = "pre_provision"
	StateMutate       = "mutate"
	StateCreate       = "create"
	StateClassify     = "classify"
	StateFailed       = "failed"
)

// chain lists the transitions in registration order.
var chain = []string{StateInit, StatePreProvision, StateMutate, StateCreate, StateClassify}

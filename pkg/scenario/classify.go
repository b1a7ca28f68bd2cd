package scenario

import (
	"fmt"
	"log/slog"
)

// Classify judges an outcome. It returns nil for a pass and a
// *TestFailure otherwise. oldUUID is empty when no pool was captured.
func Classify(o Outcome, expectFailure bool, oldUUID, poolName string) error {
	if expectFailure {
		if o.ExitStatus == 0 {
			return &TestFailure{Reason: "expected failure, got success"}
		}
		slog.Info("command_failed_as_expected", "exit_status", o.ExitStatus, "stderr", o.Stderr)
		return nil
	}

	if o.ExitStatus != 0 {
		return &TestFailure{
			Reason: fmt.Sprintf("pool-create exited with status %d: %s", o.ExitStatus, o.Stderr),
			Stderr: o.Stderr,
		}
	}
	if !o.Pool.Active() {
		return &TestFailure{Reason: fmt.Sprintf("pool %s is not active after creation", poolName)}
	}
	if oldUUID != "" && o.Pool.UUID == oldUUID {
		return &TestFailure{Reason: fmt.Sprintf("new created pool still uses the old uuid %s", oldUUID)}
	}
	return nil
}

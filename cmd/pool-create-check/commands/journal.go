package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/fatih/color"
	"github.com/virtqa/pool-create-check/pkg/backing"
	"github.com/virtqa/pool-create-check/pkg/db"
	"github.com/virtqa/pool-create-check/pkg/errors"
	"github.com/virtqa/pool-create-check/pkg/metrics"
	"github.com/virtqa/pool-create-check/pkg/provision"
	"github.com/virtqa/pool-create-check/pkg/scenario"
)

// journalSink checkpoints runs to the journal and reports verdicts to the
// terminal and the metrics textfile.
type journalSink struct {
	repo        *db.Repository
	recorder    *metrics.Recorder
	metricsFile string
	params      scenario.Params
	out         io.Writer
}

func (s *journalSink) Checkpoint(ctx context.Context, st *scenario.State) {
	run, err := runFromState(s.params, st)
	if err == nil {
		run.Status = db.StatusRunning
		err = s.repo.Update(run)
	}
	if err != nil {
		slog.Warn("journal_checkpoint_failed", "run_id", st.RunID, "phase", st.Phase, "error", err)
	}
}

func (s *journalSink) Report(ctx context.Context, st *scenario.State, v scenario.Verdict) {
	run, err := runFromState(s.params, st)
	if err == nil {
		run.Status = string(v.Status)
		run.Reason = v.Reason
		run.Stderr = v.Stderr
		run.Warnings = len(v.Warnings)
		run.Cleaned = len(v.Warnings) == 0
		err = s.repo.Update(run)
	}
	if err != nil {
		slog.Error("journal_report_failed", "run_id", st.RunID, "error", err)
	}

	if s.recorder != nil {
		s.recorder.ObserveRun(string(v.Status), s.params.MutationKind().String(), st.Timings, len(v.Warnings))
		if err := s.recorder.WriteTextfile(s.metricsFile); err != nil {
			slog.Warn("metrics_not_written", "error", err)
		}
	}

	printVerdict(s.out, st.RunID, v)
}

func printVerdict(w io.Writer, runID string, v scenario.Verdict) {
	status := color.New(color.FgGreen, color.Bold)
	switch v.Status {
	case scenario.StatusFail:
		status = color.New(color.FgRed, color.Bold)
	case scenario.StatusError:
		status = color.New(color.FgYellow, color.Bold)
	}

	status.Fprintf(w, "%s", v.Status)
	fmt.Fprintf(w, "  run %s", runID)
	if v.Reason != "" {
		fmt.Fprintf(w, ": %s", v.Reason)
	}
	fmt.Fprintln(w)

	for _, warning := range v.Warnings {
		color.New(color.FgYellow).Fprintf(w, "  cleanup warning: %s\n", warning)
	}
}

// runFromState flattens the scenario state into a journal row.
func runFromState(p scenario.Params, st *scenario.State) (*db.Run, error) {
	run := &db.Run{
		ID:               st.RunID,
		Scenario:         p.Name,
		PoolName:         p.PoolName,
		Mutation:         p.MutationKind().String(),
		Flags:            p.ExtraFlags,
		Status:           db.StatusPending,
		Phase:            st.Phase,
		OldUUID:          st.OldUUID,
		NewUUID:          st.NewUUID,
		DescriptorPath:   p.DescriptorPath,
		DescriptorSHA256: st.DescriptorSHA256,
		DescriptorFile:   st.DescriptorFile,
		CorruptFile:      st.CorruptFile,
		CreatedPool:      st.CreatedName,
		CreateAttempted:  st.CreateAttempted,
		ForeignPool:      st.ForeignPool,
	}

	if st.Pool != nil {
		data, err := json.Marshal(st.Pool)
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode pool handle")
		}
		run.PoolHandle = string(data)
	}
	if st.Device != nil {
		data, err := json.Marshal(st.Device)
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode device")
		}
		run.Device = string(data)
	}
	if len(st.Timings) > 0 {
		data, err := json.Marshal(st.Timings)
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode timings")
		}
		run.Timings = string(data)
	}
	return run, nil
}

// seedRecorder replays every journaled verdict so the textfile counters
// stay cumulative across invocations.
func seedRecorder(recorder *metrics.Recorder, repo *db.Repository) error {
	runs, err := repo.ListFinished()
	if err != nil {
		return errors.Wrap(err, "failed to read journaled verdicts")
	}
	for _, run := range runs {
		var timings map[string]time.Duration
		if run.Timings != "" {
			if err := json.Unmarshal([]byte(run.Timings), &timings); err != nil {
				slog.Warn("journal_timings_corrupt", "run_id", run.ID, "error", err)
				timings = nil
			}
		}
		recorder.ObserveRun(run.Status, run.Mutation, timings, run.Warnings)
	}
	slog.Debug("metrics_seeded", "run_count", len(runs))
	return nil
}

// stateFromRun restores what cleanup needs from a journal row.
func stateFromRun(run *db.Run) (*scenario.State, error) {
	st := &scenario.State{
		RunID:           run.ID,
		Phase:           run.Phase,
		ForeignPool:     run.ForeignPool,
		DescriptorFile:  run.DescriptorFile,
		CorruptFile:     run.CorruptFile,
		CreatedName:     run.CreatedPool,
		CreateAttempted: run.CreateAttempted,
		OldUUID:         run.OldUUID,
		NewUUID:         run.NewUUID,
	}

	if run.PoolHandle != "" {
		var pool provision.Pool
		if err := json.Unmarshal([]byte(run.PoolHandle), &pool); err != nil {
			return nil, errors.Wrapf(err, "run %s has a corrupt pool handle", run.ID)
		}
		st.Pool = &pool
	}
	if run.Device != "" {
		var dev backing.Device
		if err := json.Unmarshal([]byte(run.Device), &dev); err != nil {
			return nil, errors.Wrapf(err, "run %s has a corrupt device record", run.ID)
		}
		st.Device = &dev
	}
	return st, nil
}

package scenario

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/virtqa/pool-create-check/pkg/backing"
	"github.com/virtqa/pool-create-check/pkg/descriptor"
	"github.com/virtqa/pool-create-check/pkg/errors"
	"github.com/virtqa/pool-create-check/pkg/provision"
	"github.com/virtqa/pool-create-check/pkg/security"
	"github.com/virtqa/pool-create-check/pkg/storage"
	"github.com/virtqa/pool-create-check/pkg/virsh"
	"go.uber.org/multierr"
)

// Provisioner manages the pre-existing pool and backing devices.
type Provisioner interface {
	Exists(ctx context.Context, name string) (bool, error)
	Provision(ctx context.Context, spec provision.Spec) (*provision.Pool, error)
	Dump(ctx context.Context, pool *provision.Pool) (string, error)
	UUID(ctx context.Context, pool *provision.Pool) (string, error)
	Inspect(ctx context.Context, name string) (*virsh.PoolInfo, error)
	DestroyTransient(ctx context.Context, name string) error
	RemovePool(ctx context.Context, name string) error
	ProvisionDevice(ctx context.Context, name string) (*backing.Device, error)
	ReleaseDevice(ctx context.Context, dev *backing.Device) error
	Teardown(ctx context.Context, pool *provision.Pool) error
}

// Creator is the operation under test.
type Creator interface {
	PoolCreate(ctx context.Context, file string, extra []string, readonly bool) (*virsh.Result, error)
}

// Fetcher copies a descriptor source to a local file.
type Fetcher interface {
	Fetch(ctx context.Context, src, dst string) (*storage.DownloadResult, error)
}

// Sink receives progress and the single verdict of a run.
type Sink interface {
	Checkpoint(ctx context.Context, st *State)
	Report(ctx context.Context, st *State, v Verdict)
}

// Step is one phase of a run.
type Step struct {
	Name string
	Run  func(ctx context.Context, st *State) error
}

// Driver advances a run through its steps. It returns the first step error.
type Driver interface {
	Drive(ctx context.Context, runID string, steps []Step, st *State) error
}

// Sequential runs the steps in-process, one after another.
type Sequential struct{}

func (Sequential) Drive(ctx context.Context, runID string, steps []Step, st *State) error {
	for _, step := range steps {
		if err := step.Run(ctx, st); err != nil {
			return err
		}
	}
	return nil
}

// Runner holds the dependencies of one scenario run
type Runner struct {
	runID     string
	params    Params
	prov      Provisioner
	creator   Creator
	fetcher   Fetcher
	validator *security.Validator
	sink      Sink
}

// NewRunner creates a runner for params
func NewRunner(
	runID string,
	params Params,
	prov Provisioner,
	creator Creator,
	fetcher Fetcher,
	validator *security.Validator,
	sink Sink,
) *Runner {
	if sink == nil {
		sink = nopSink{}
	}
	return &Runner{
		runID:     runID,
		params:    params,
		prov:      prov,
		creator:   creator,
		fetcher:   fetcher,
		validator: validator,
		sink:      sink,
	}
}

// Run executes the scenario with driver and reports exactly one verdict.
// Cleanup runs once on every path, including a panic in a phase.
func (r *Runner) Run(ctx context.Context, driver Driver) (v Verdict) {
	st := &State{RunID: r.runID, Phase: PhaseInit, Timings: make(map[string]time.Duration)}
	slog.Info("scenario_start", "run_id", r.runID, "scenario", r.params.Name, "pool", r.params.PoolName,
		"mutation", r.params.MutationKind(), "expect_failure", r.params.ExpectFailure)

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("scenario_panic", "run_id", r.runID, "phase", st.Phase, "panic", rec)
			st.Err = &SetupError{Phase: st.Phase, Err: fmt.Errorf("panic: %v", rec)}
			v = verdictFor(st.Err)
		}

		st.Phase = PhaseCleanup
		cleanupErr := r.cleanup(context.WithoutCancel(ctx), st)
		v = foldCleanup(v, cleanupErr)
		st.Phase = PhaseDone

		slog.Info("scenario_verdict", "run_id", r.runID, "status", v.Status, "reason", v.Reason)
		r.sink.Report(ctx, st, v)
	}()

	err := driver.Drive(ctx, r.runID, r.Steps(), st)
	if st.Err != nil {
		// The phase error carries the taxonomy; a driver may only see a copy.
		err = st.Err
	}
	if err != nil && !isClassified(err) {
		err = &SetupError{Phase: st.Phase, Err: err}
	}
	return verdictFor(err)
}

// Steps returns the phases in order. Each records timing, checkpoints the
// state and stores its error in State.Err.
func (r *Runner) Steps() []Step {
	phases := []Step{
		{Name: PhaseInit, Run: r.init},
		{Name: PhasePreProvision, Run: r.preProvision},
		{Name: PhaseMutate, Run: r.mutate},
		{Name: PhaseCreate, Run: r.create},
		{Name: PhaseClassify, Run: r.classify},
	}

	steps := make([]Step, len(phases))
	for i, phase := range phases {
		steps[i] = Step{Name: phase.Name, Run: func(ctx context.Context, st *State) error {
			st.Phase = phase.Name
			slog.Info("scenario_phase", "run_id", r.runID, "phase", phase.Name)

			start := time.Now()
			err := phase.Run(ctx, st)
			st.Timings[phase.Name] = time.Since(start)
			if err != nil {
				st.Err = err
				slog.Error("scenario_phase_failed", "run_id", r.runID, "phase", phase.Name, "error", err)
			}
			r.sink.Checkpoint(ctx, st)
			return err
		}}
	}
	return steps
}

// init validates parameters and resolves the descriptor source.
func (r *Runner) init(ctx context.Context, st *State) error {
	p := r.params
	if err := p.Validate(r.validator); err != nil {
		return setupErr(PhaseInit, err)
	}

	exists, err := r.prov.Exists(ctx, p.PoolName)
	if err != nil {
		return setupErr(PhaseInit, err)
	}
	if exists {
		if p.PreDefinedPool {
			return setupErr(PhaseInit, fmt.Errorf("pool %s already exists", p.PoolName))
		}
		st.ForeignPool = true
		slog.Warn("target_pool_preexists", "pool", p.PoolName)
	}

	if p.PreDefinedPool && p.MutationKind() == descriptor.MutationDuplicateSource {
		taken, err := r.prov.Exists(ctx, p.ReplacementName)
		if err != nil {
			return setupErr(PhaseInit, err)
		}
		if taken {
			return setupErr(PhaseInit, fmt.Errorf("replacement pool %s already exists", p.ReplacementName))
		}
	}

	file, err := r.validator.ValidateScratchPath(fmt.Sprintf("%s-%s.xml", r.runID, p.PoolName))
	if err != nil {
		return setupErr(PhaseInit, err)
	}
	if err := os.MkdirAll(r.validator.ScratchDir(), 0755); err != nil {
		return setupErr(PhaseInit, errors.Wrap(err, "failed to create scratch dir"))
	}
	st.DescriptorFile = file
	st.CreateFile = file
	st.CreatedName = p.CreatedName()

	if p.Malformed() || p.PreDefinedPool {
		return nil
	}

	// Work on a copy so cleanup never deletes the caller's file.
	res, err := r.fetcher.Fetch(ctx, p.DescriptorPath, file)
	if err != nil {
		return setupErr(PhaseInit, errors.Wrap(err, "failed to fetch descriptor"))
	}
	if err := r.validator.ValidateDescriptorSize(res.Size); err != nil {
		return setupErr(PhaseInit, err)
	}
	st.DescriptorSHA256 = res.SHA256
	return nil
}

// preProvision creates the pool the scenario collides with and captures
// its descriptor and UUID.
func (r *Runner) preProvision(ctx context.Context, st *State) error {
	p := r.params
	if !p.PreDefinedPool {
		return nil
	}

	pool, err := r.prov.Provision(ctx, provision.Spec{
		Name:         p.PoolName,
		Type:         p.PoolType,
		SourceFormat: p.SourceFormat,
		SourceName:   p.SourceName,
		SourcePath:   p.SourcePath,
		TargetPath:   p.TargetPath,
	})
	if err != nil {
		return setupErr(PhasePreProvision, err)
	}
	st.Pool = pool

	doc, err := r.prov.Dump(ctx, pool)
	if err != nil {
		return setupErr(PhasePreProvision, err)
	}
	store, err := descriptor.Parse(st.DescriptorFile, doc)
	if err != nil {
		return setupErr(PhasePreProvision, err)
	}
	if err := store.Save(); err != nil {
		return setupErr(PhasePreProvision, err)
	}

	st.OldUUID, err = r.prov.UUID(ctx, pool)
	if err != nil {
		return setupErr(PhasePreProvision, err)
	}
	slog.Info("old_uuid_captured", "pool", pool.Name, "uuid", st.OldUUID)

	if p.NoDiskLabel {
		slog.Debug("updating_device_path", "pool", pool.Name)
		dev, err := r.prov.ProvisionDevice(ctx, fmt.Sprintf("emulated-%s-fresh", p.PoolName))
		if err != nil {
			return setupErr(PhasePreProvision, err)
		}
		st.Device = dev
		if err := descriptor.RewriteSourceDevicePath(store.Pool(), dev.Path); err != nil {
			return setupErr(PhasePreProvision, err)
		}
		if err := store.Save(); err != nil {
			return setupErr(PhasePreProvision, err)
		}
	}
	return nil
}

// mutate turns the captured descriptor into the creation input.
func (r *Runner) mutate(ctx context.Context, st *State) error {
	p := r.params

	if p.Malformed() {
		file, err := r.validator.ValidateScratchPath(fmt.Sprintf("%s-invalid.xml", r.runID))
		if err != nil {
			return setupErr(PhaseMutate, err)
		}
		if err := descriptor.WriteRaw(file, descriptor.Corrupt()); err != nil {
			return setupErr(PhaseMutate, err)
		}
		st.CorruptFile = file
		st.CreateFile = file
		return nil
	}
	if !p.PreDefinedPool {
		return nil
	}

	store, err := descriptor.Load(st.DescriptorFile)
	if err != nil {
		return setupErr(PhaseMutate, err)
	}
	doc := store.Pool()
	kind := p.MutationKind()

	if err := descriptor.ApplyMutation(doc, kind, p.ReplacementName); err != nil {
		return setupErr(PhaseMutate, err)
	}
	if !kind.KeepsOriginal() {
		// The transient pool is gone once destroyed, so nothing collides.
		if err := r.prov.DestroyTransient(ctx, st.Pool.Name); err != nil {
			return setupErr(PhaseMutate, err)
		}
	}
	if p.ReplacementFormat != "" {
		if err := descriptor.RewriteSourceFormat(doc, p.SourceFormat, p.ReplacementFormat); err != nil {
			return setupErr(PhaseMutate, err)
		}
	}
	descriptor.StripUUID(doc)

	if err := store.Save(); err != nil {
		return setupErr(PhaseMutate, err)
	}
	st.CreateFile = store.Path()
	return nil
}

// create invokes the operation under test. Its exit status is data.
func (r *Runner) create(ctx context.Context, st *State) error {
	p := r.params
	extra, err := p.ExtraArgs()
	if err != nil {
		return setupErr(PhaseCreate, err)
	}

	if data, err := os.ReadFile(st.CreateFile); err == nil {
		slog.Debug("create_pool_from_file", "file", st.CreateFile, "content", string(data))
	}
	if p.Readonly {
		slog.Debug("readonly_mode_test")
	}

	st.CreateAttempted = true
	res, err := r.creator.PoolCreate(ctx, st.CreateFile, extra, p.Readonly)
	if err != nil {
		return setupErr(PhaseCreate, err)
	}

	out := &Outcome{ExitStatus: res.ExitStatus, Stderr: res.Stderr}
	if res.ExitStatus == 0 {
		info, err := r.prov.Inspect(ctx, st.CreatedName)
		if err != nil {
			slog.Warn("created_pool_inspect_failed", "pool", st.CreatedName, "error", err)
		} else {
			out.Pool = info
			st.NewUUID = info.UUID
			slog.Info("created_pool_detail", "pool", info.Name, "uuid", info.UUID, "state", info.State)
		}
	}
	st.Outcome = out
	return nil
}

func (r *Runner) classify(ctx context.Context, st *State) error {
	if st.Outcome == nil {
		return setupErr(PhaseClassify, fmt.Errorf("no outcome recorded"))
	}
	return Classify(*st.Outcome, r.params.ExpectFailure, st.OldUUID, st.CreatedName)
}

func (r *Runner) cleanup(ctx context.Context, st *State) error {
	return Cleanup(ctx, r.prov, r.params.PoolName, st)
}

// Cleanup releases what st recorded in reverse acquisition order. poolName
// is the target pool of the run; it is left alone when it predates the run.
func Cleanup(ctx context.Context, prov Provisioner, poolName string, st *State) error {
	var errs error

	// Pool created by the operation under test, unless it belongs to the
	// provisioned handle or predates the run.
	if st.CreateAttempted && st.CreatedName != "" {
		ownedByHandle := st.Pool != nil && st.Pool.Name == st.CreatedName
		foreign := st.ForeignPool && st.CreatedName == poolName
		if !ownedByHandle && !foreign {
			errs = multierr.Append(errs, prov.RemovePool(ctx, st.CreatedName))
		}
	}

	errs = multierr.Append(errs, prov.Teardown(ctx, st.Pool))
	errs = multierr.Append(errs, prov.ReleaseDevice(ctx, st.Device))
	errs = multierr.Append(errs, descriptor.RemoveFile(st.CorruptFile))
	errs = multierr.Append(errs, descriptor.RemoveFile(st.DescriptorFile))

	if errs != nil {
		slog.Warn("cleanup_incomplete", "run_id", st.RunID, "error", errs)
	} else {
		slog.Info("cleanup_complete", "run_id", st.RunID)
	}
	return errs
}

func isClassified(err error) bool {
	var setup *SetupError
	var failure *TestFailure
	return stderrors.As(err, &setup) || stderrors.As(err, &failure)
}

func verdictFor(err error) Verdict {
	if err == nil {
		return Verdict{Status: StatusPass}
	}
	var failure *TestFailure
	if stderrors.As(err, &failure) {
		return Verdict{Status: StatusFail, Reason: failure.Reason, Stderr: failure.Stderr}
	}
	return Verdict{Status: StatusError, Reason: err.Error()}
}

// foldCleanup records cleanup errors as warnings. They only change the
// reported reason when the run already ended in a setup error.
func foldCleanup(v Verdict, cleanupErr error) Verdict {
	if cleanupErr == nil {
		return v
	}
	for _, err := range multierr.Errors(cleanupErr) {
		v.Warnings = append(v.Warnings, err.Error())
	}
	if v.Status == StatusError {
		v.Reason = fmt.Sprintf("%s; cleanup: %v", v.Reason, cleanupErr)
	}
	return v
}

type nopSink struct{}

func (nopSink) Checkpoint(ctx context.Context, st *State)        {}
func (nopSink) Report(ctx context.Context, st *State, v Verdict) {}

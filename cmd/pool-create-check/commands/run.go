package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/superfly/fsm"
	"github.com/virtqa/pool-create-check/pkg/catalog"
	"github.com/virtqa/pool-create-check/pkg/descriptor"
	"github.com/virtqa/pool-create-check/pkg/errors"
	appfsm "github.com/virtqa/pool-create-check/pkg/fsm"
	"github.com/virtqa/pool-create-check/pkg/metrics"
	"github.com/virtqa/pool-create-check/pkg/scenario"
)

var (
	runScenario string
	runDurable  bool
	runFlags    = scenario.DefaultParams()
	runMutation string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one pool-create scenario",
	Long: `Run one pool-create scenario and report pass, fail or error.

Parameters come from the defaults, then the catalog entry named by
--scenario, then any flag given explicitly. The exit code is 0 only for a
pass.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	f := runCmd.Flags()
	f.StringVar(&runScenario, "scenario", "", "Catalog scenario to start from (see 'scenarios')")
	f.BoolVar(&runDurable, "durable", false, "Drive the phases through the persistent FSM")

	f.StringVar(&runFlags.DescriptorPath, "descriptor", runFlags.DescriptorPath, "Pool descriptor: local path, s3://bucket/key or "+scenario.MalformedSentinel)
	f.StringVar(&runFlags.PoolName, "pool-name", runFlags.PoolName, "Pool name")
	f.StringVar(&runFlags.PoolType, "pool-type", runFlags.PoolType, "Type of the pre-defined pool (dir, fs, disk, logical, iscsi)")
	f.StringVar(&runFlags.SourceFormat, "source-format", runFlags.SourceFormat, "Source format of the pre-defined pool")
	f.StringVar(&runFlags.SourceName, "source-name", runFlags.SourceName, "Source name of the pre-defined pool")
	f.StringVar(&runFlags.SourcePath, "source-path", runFlags.SourcePath, "Source path of the pre-defined pool")
	f.StringVar(&runFlags.TargetPath, "target", runFlags.TargetPath, "Target path of the pre-defined pool")
	f.StringVar(&runFlags.ExtraFlags, "extra-flags", runFlags.ExtraFlags, "Extra pool-create flags, shell quoted")
	f.BoolVar(&runFlags.Readonly, "readonly", false, "Connect read-only")
	f.BoolVar(&runFlags.ExpectFailure, "expect-failure", false, "Expect pool-create to fail")
	f.BoolVar(&runFlags.PreDefinedPool, "pre-defined", false, "Provision a pool first and derive the descriptor from it")
	f.BoolVar(&runFlags.NoDiskLabel, "no-disk-label", false, "Point the descriptor at a fresh unlabeled device")
	f.StringVar(&runMutation, "mutation", "", "Descriptor mutation: none, duplicate-name, duplicate-uuid, duplicate-source")
	f.StringVar(&runFlags.ReplacementName, "new-pool-name", "", "Pool name for duplicate-source")
	f.StringVar(&runFlags.ReplacementFormat, "new-source-format", "", "Replace the source format before creation")
}

// resolveParams layers defaults, the catalog entry and explicit flags.
func resolveParams(cmd *cobra.Command) (scenario.Params, error) {
	p := scenario.DefaultParams()

	if runScenario != "" {
		c, err := catalog.Builtin()
		if err != nil {
			return p, err
		}
		entry, ok := c.Get(runScenario)
		if !ok {
			return p, fmt.Errorf("unknown scenario %q", runScenario)
		}
		p = entry.Apply(p)
	}

	changed := cmd.Flags().Changed
	set := func(flag string, dst *string, v string) {
		if changed(flag) {
			*dst = v
		}
	}
	setBool := func(flag string, dst *bool, v bool) {
		if changed(flag) {
			*dst = v
		}
	}

	set("descriptor", &p.DescriptorPath, runFlags.DescriptorPath)
	set("pool-name", &p.PoolName, runFlags.PoolName)
	set("pool-type", &p.PoolType, runFlags.PoolType)
	set("source-format", &p.SourceFormat, runFlags.SourceFormat)
	set("source-name", &p.SourceName, runFlags.SourceName)
	set("source-path", &p.SourcePath, runFlags.SourcePath)
	set("target", &p.TargetPath, runFlags.TargetPath)
	set("extra-flags", &p.ExtraFlags, runFlags.ExtraFlags)
	set("new-pool-name", &p.ReplacementName, runFlags.ReplacementName)
	set("new-source-format", &p.ReplacementFormat, runFlags.ReplacementFormat)
	setBool("readonly", &p.Readonly, runFlags.Readonly)
	setBool("expect-failure", &p.ExpectFailure, runFlags.ExpectFailure)
	setBool("pre-defined", &p.PreDefinedPool, runFlags.PreDefinedPool)
	setBool("no-disk-label", &p.NoDiskLabel, runFlags.NoDiskLabel)
	if changed("mutation") {
		p.Mutation = descriptor.MutationKind(runMutation)
	}

	if p.PreDefinedPool && p.DescriptorPath == scenario.PlaceholderPath {
		p.DescriptorPath = "pre-defined"
	}
	if p.Name == "" {
		p.Name = "custom"
	}
	return p, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	params, err := resolveParams(cmd)
	if err != nil {
		return err
	}

	env, err := newEnvironment(cfg)
	if err != nil {
		return err
	}
	defer env.Close()

	var driver scenario.Driver = scenario.Sequential{}
	if runDurable {
		if err := ensureDirectories(cfg.SQLitePath, cfg.FSMDBPath, ""); err != nil {
			return err
		}
		manager, err := fsm.New(fsm.Config{DBPath: cfg.FSMDBPath})
		if err != nil {
			return errors.Wrap(err, "FSM manager failed")
		}
		defer manager.Shutdown(10 * time.Second)

		d := appfsm.NewDriver(cfg.FSMMaxRetries)
		if err := d.Register(ctx, manager); err != nil {
			return err
		}
		driver = d
	}

	recorder := metrics.NewRecorder()
	if err := seedRecorder(recorder, env.repo); err != nil {
		return err
	}

	runID := uuid.NewString()
	sink := &journalSink{
		repo:        env.repo,
		recorder:    recorder,
		metricsFile: cfg.MetricsFile,
		params:      params,
		out:         cmd.OutOrStdout(),
	}
	record, err := runFromState(params, &scenario.State{RunID: runID})
	if err != nil {
		return err
	}
	if err := env.repo.Create(record); err != nil {
		return errors.Wrap(err, "failed to journal run")
	}

	runner := scenario.NewRunner(runID, params, env.prov, env.host, newFetcher(cfg), env.validator, sink)
	v := runner.Run(ctx, driver)

	if v.Status != scenario.StatusPass {
		return fmt.Errorf("run %s: %s", runID, v)
	}
	return nil
}

package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/virtqa/pool-create-check/pkg/db"
	"github.com/virtqa/pool-create-check/pkg/errors"
	"github.com/virtqa/pool-create-check/pkg/scenario"
)

var (
	cleanupAll      bool
	cleanupRunID    string
	cleanupOrphaned bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Tear down resources recorded by journaled runs",
	Long: `Tear down pools, backing devices and scratch files recorded in the journal:
  --all         Clean every run that is not marked cleaned
  --run <id>    Clean one run
  --orphaned    Clean runs that never reached a verdict and scratch files
                no journaled run owns

Do not clean runs that are still in progress in another process.`,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().BoolVar(&cleanupAll, "all", false, "Clean all uncleaned runs")
	cleanupCmd.Flags().StringVar(&cleanupRunID, "run", "", "Clean specific run by ID")
	cleanupCmd.Flags().BoolVar(&cleanupOrphaned, "orphaned", false, "Clean interrupted runs and orphaned scratch files")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	env, err := newEnvironment(cfg)
	if err != nil {
		return err
	}
	defer env.Close()

	ctx := context.Background()
	out := cmd.OutOrStdout()

	if cleanupAll {
		return cleanupUncleaned(ctx, env, out, func(*db.Run) bool { return true })
	} else if cleanupRunID != "" {
		return cleanupSpecificRun(ctx, env, out, cleanupRunID)
	} else if cleanupOrphaned {
		if err := cleanupUncleaned(ctx, env, out, func(run *db.Run) bool { return !run.Finished() }); err != nil {
			return err
		}
		return cleanupOrphanedFiles(env, out)
	} else {
		return fmt.Errorf("must specify --all, --run, or --orphaned")
	}
}

func cleanupUncleaned(ctx context.Context, env *environment, out io.Writer, match func(*db.Run) bool) error {
	runs, err := env.repo.ListUncleaned()
	if err != nil {
		return errors.Wrap(err, "list failed")
	}

	var selected []*db.Run
	for _, run := range runs {
		if match(run) {
			selected = append(selected, run)
		}
	}
	fmt.Fprintf(out, "Cleaning up %d runs...\n", len(selected))

	for _, run := range selected {
		if err := cleanupRunResources(ctx, env, run); err != nil {
			fmt.Fprintf(out, "Failed to clean %s: %v\n", run.ID, err)
		} else {
			fmt.Fprintf(out, "Cleaned: %s (%s)\n", run.ID, run.PoolName)
		}
	}
	return nil
}

func cleanupSpecificRun(ctx context.Context, env *environment, out io.Writer, id string) error {
	run, err := env.repo.Get(id)
	if err != nil {
		return errors.Wrap(err, "run lookup failed")
	}
	if run == nil {
		return fmt.Errorf("run not found: %s", id)
	}

	fmt.Fprintf(out, "Cleaning up %s...\n", id)
	if err := cleanupRunResources(ctx, env, run); err != nil {
		return errors.Wrap(err, "cleanup failed")
	}
	fmt.Fprintf(out, "Cleaned: %s\n", id)
	return nil
}

func cleanupRunResources(ctx context.Context, env *environment, run *db.Run) error {
	st, err := stateFromRun(run)
	if err != nil {
		return err
	}
	if err := scenario.Cleanup(ctx, env.prov, run.PoolName, st); err != nil {
		return err
	}
	if !run.Finished() {
		if err := env.repo.UpdateStatus(run.ID, db.StatusError, "interrupted; cleaned from journal"); err != nil {
			return err
		}
	}
	return env.repo.MarkCleaned(run.ID)
}

// cleanupOrphanedFiles removes run files in the scratch dir whose run is
// unknown to the journal or already cleaned.
func cleanupOrphanedFiles(env *environment, out io.Writer) error {
	fmt.Fprintln(out, "Scanning for orphaned scratch files...")

	entries, err := os.ReadDir(env.cfg.ScratchDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, "failed to read scratch dir")
	}

	orphanCount := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".xml") {
			continue
		}
		runID, ok := runIDFromFile(entry.Name())
		if !ok {
			continue
		}

		run, err := env.repo.Get(runID)
		if err != nil {
			return errors.Wrap(err, "run lookup failed")
		}
		if run != nil && !run.Cleaned {
			continue
		}

		orphanPath := filepath.Join(env.cfg.ScratchDir, entry.Name())
		if err := os.Remove(orphanPath); err != nil {
			fmt.Fprintf(out, "Failed to remove orphaned file %s: %v\n", entry.Name(), err)
		} else {
			fmt.Fprintf(out, "Removed orphaned file: %s\n", entry.Name())
			orphanCount++
		}
	}

	fmt.Fprintf(out, "Removed %d orphaned files\n", orphanCount)
	return nil
}

// runIDFromFile extracts the run ID prefix of a scratch file name.
func runIDFromFile(name string) (string, bool) {
	const idLen = 36
	if len(name) <= idLen || name[idLen] != '-' {
		return "", false
	}
	id := name[:idLen]
	if _, err := uuid.Parse(id); err != nil {
		return "", false
	}
	return id, true
}

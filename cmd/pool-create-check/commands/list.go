package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/virtqa/pool-create-check/pkg/db"
	"github.com/virtqa/pool-create-check/pkg/errors"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List journaled runs and their verdicts",
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Ensure database directory exists
	if err := ensureDirectories(cfg.SQLitePath, "", ""); err != nil {
		return err
	}

	repo, err := db.NewRepository(cfg.SQLitePath)
	if err != nil {
		return errors.Wrap(err, "db init failed")
	}
	defer repo.Close()

	runs, err := repo.List()
	if err != nil {
		return errors.Wrap(err, "list failed")
	}

	out := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs found")
		return nil
	}

	fmt.Fprintf(out, "%-36s %-24s %-20s %-16s %-8s %-7s %s\n", "RUN ID", "SCENARIO", "POOL", "MUTATION", "STATUS", "CLEANED", "REASON")
	fmt.Fprintln(out, "---------------------------------------------------------------------------------------------------------------------------------")

	for _, run := range runs {
		fmt.Fprintf(out, "%-36s %-24s %-20s %-16s %-8s %-7s %s\n",
			run.ID, dash(run.Scenario), run.PoolName, run.Mutation, run.Status, cleanedLabel(run), truncate(run.Reason, 60))
	}

	return nil
}

func cleanedLabel(run *db.Run) string {
	if run.Cleaned {
		return "yes"
	}
	return "no"
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

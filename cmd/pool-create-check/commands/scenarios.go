package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/virtqa/pool-create-check/pkg/catalog"
)

var scenariosCmd = &cobra.Command{
	Use:   "scenarios",
	Short: "List the built-in scenarios usable with 'run --scenario'",
	RunE:  runScenarios,
}

func init() {
	rootCmd.AddCommand(scenariosCmd)
}

func runScenarios(cmd *cobra.Command, args []string) error {
	c, err := catalog.Builtin()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-26s %-8s %-18s %-8s %s\n", "NAME", "TYPE", "MUTATION", "EXPECT", "DESCRIPTION")
	for _, name := range c.Names() {
		e, _ := c.Get(name)
		expect := "pass"
		if e.ExpectFailure {
			expect = "failure"
		}
		fmt.Fprintf(out, "%-26s %-8s %-18s %-8s %s\n",
			e.Name, dash(e.PoolType), dash(e.Mutation), expect, strings.TrimSpace(e.Description))
	}
	return nil
}

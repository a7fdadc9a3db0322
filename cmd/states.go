package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/breakaway-robotics/executive/api/schemas"
	"github.com/breakaway-robotics/executive/internal/fsm"
)

// newStatesCmd creates the `states` command, which prints the admission
// whitelist per behavioral state. Handy when debugging rejected proposals.
func newStatesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "states",
		Short: "Print the behavioral states and their admissible action kinds",
		RunE: func(cmd *cobra.Command, args []string) error {
			whitelist := fsm.DefaultWhitelist()

			states := make([]string, 0, len(whitelist))
			for state := range whitelist {
				states = append(states, string(state))
			}
			sort.Strings(states)

			out := cmd.OutOrStdout()
			for _, state := range states {
				kinds := whitelist[schemas.State(state)]
				if len(kinds) == 0 {
					fmt.Fprintf(out, "%-12s (nothing admissible)\n", state)
					continue
				}
				fmt.Fprintf(out, "%-12s", state)
				for i, k := range kinds {
					if i > 0 {
						fmt.Fprint(out, ", ")
					}
					fmt.Fprint(out, string(k))
				}
				fmt.Fprintln(out)
			}
			fmt.Fprintln(out, "FAULTED      (nothing admissible until external reset)")
			return nil
		},
	}
}

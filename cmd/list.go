package cmd

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/appmon-dev/appmon/internal/sampler"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the current process table once and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := sampler.New().Sample(cmd.Context(), sampler.Options{Processes: true})
		if err != nil {
			return fmt.Errorf("sampling processes: %w", err)
		}

		pids := make([]int32, 0, len(s.Processes))
		for pid := range s.Processes {
			pids = append(pids, pid)
		}
		slices.Sort(pids)

		for _, pid := range pids {
			p := s.Processes[pid]
			fmt.Printf("PID: %d, Name: %s\n", p.PID, p.Name)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}

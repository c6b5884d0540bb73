package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/appmon-dev/appmon/internal/eventlog"
)

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Follow the active log segment, printing records as they arrive",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return eventlog.Follow(ctx, GetConfig().LogFile, func(e eventlog.Event) {
			fmt.Println(e.Line())
		})
	},
}

func init() {
	rootCmd.AddCommand(tailCmd)
}

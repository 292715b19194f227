package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/praxislabs/agentbus/message"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show message counts per status",
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	_, qs, err := openBus()
	if err != nil {
		return err
	}
	defer qs.Close()

	statuses := []message.Status{
		message.StatusPending,
		message.StatusProcessing,
		message.StatusCompleted,
		message.StatusFailed,
		message.StatusDeadLetter,
	}

	for _, status := range statuses {
		msgs, err := qs.ListByStatus(cmd.Context(), "", status)
		if err != nil {
			return err
		}
		fmt.Printf("%-12s %d\n", status, len(msgs))
	}
	return nil
}

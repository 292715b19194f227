package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var flagAgent string

var deadlettersCmd = &cobra.Command{
	Use:   "deadletters",
	Short: "List dead-lettered messages",
	RunE:  runDeadletters,
}

var requeueCmd = &cobra.Command{
	Use:   "requeue <message-id>",
	Short: "Move a dead-lettered message back to pending with a fresh attempt budget",
	Args:  cobra.ExactArgs(1),
	RunE:  runRequeue,
}

var purgeCmd = &cobra.Command{
	Use:   "purge <message-id>",
	Short: "Permanently remove a dead-lettered message",
	Args:  cobra.ExactArgs(1),
	RunE:  runPurge,
}

func init() {
	deadlettersCmd.Flags().StringVar(&flagAgent, "agent", "", "filter by target agent")
	rootCmd.AddCommand(deadlettersCmd)
	rootCmd.AddCommand(requeueCmd)
	rootCmd.AddCommand(purgeCmd)
}

func runDeadletters(cmd *cobra.Command, args []string) error {
	b, qs, err := openBus()
	if err != nil {
		return err
	}
	defer qs.Close()
	defer b.Close()

	msgs, err := b.ListDeadLetters(cmd.Context(), flagAgent)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		fmt.Println("no dead-lettered messages")
		return nil
	}

	for _, msg := range msgs {
		fmt.Printf("%s  agent=%s type=%s attempts=%d/%d created=%s\n  error: %s\n",
			msg.ID, msg.TargetAgent, msg.Type, msg.AttemptCount, msg.MaxAttempts,
			msg.CreatedAt.Format("2006-01-02T15:04:05Z07:00"), msg.Error)
	}
	fmt.Printf("%d message(s)\n", len(msgs))
	return nil
}

func runRequeue(cmd *cobra.Command, args []string) error {
	b, qs, err := openBus()
	if err != nil {
		return err
	}
	defer qs.Close()
	defer b.Close()

	if err := b.Requeue(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("requeued %s\n", args[0])
	return nil
}

func runPurge(cmd *cobra.Command, args []string) error {
	b, qs, err := openBus()
	if err != nil {
		return err
	}
	defer qs.Close()
	defer b.Close()

	if err := b.Purge(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("purged %s\n", args[0])
	return nil
}

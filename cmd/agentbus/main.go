// Command agentbus is the operator tool for a bus queue store: inspect the
// dead-letter queue, requeue or purge messages, and show queue stats.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/praxislabs/agentbus/bus"
	"github.com/praxislabs/agentbus/config"
	"github.com/praxislabs/agentbus/store"
)

// Version is set at build time.
var Version = "dev"

var (
	flagDriver string
	flagPath   string
)

var rootCmd = &cobra.Command{
	Use:   "agentbus",
	Short: "Inspect and repair a bus queue store",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = Version
	rootCmd.PersistentFlags().StringVar(&flagDriver, "driver", "sqlite", "store driver (sqlite or bolt)")
	rootCmd.PersistentFlags().StringVar(&flagPath, "db", "", "path to the queue store file")
}

// openBus opens the store named on the command line.
func openBus() (*bus.Bus, store.QueueStore, error) {
	if flagPath == "" {
		return nil, nil, fmt.Errorf("--db is required")
	}
	cfg := config.Default()
	cfg.Store.Driver = flagDriver
	cfg.Store.Path = flagPath
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	qs, err := cfg.OpenStore()
	if err != nil {
		return nil, nil, err
	}
	return bus.New(qs), qs, nil
}

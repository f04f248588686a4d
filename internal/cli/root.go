// Package cli holds the seatwatch command tree.
package cli

import (
	"github.com/spf13/cobra"
)

const defaultConfigPath = "./seatwatch.yaml"

// RootCmd builds the command tree.
func RootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:   "seatwatch",
		Short: "Watch a student portal for enrollment seats and report changes to Telegram",
		Long: `seatwatch logs into the enrollment portal on an adaptive cadence, compares
the seat counts it sees with the last run and notifies Telegram about new
items and quantity changes. State is kept in a small persisted record.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", defaultConfigPath, "path to config (json or yaml)")

	root.AddCommand(
		runCmd(&cfgPath),
		onceCmd(&cfgPath),
		memoryCmd(&cfgPath),
		configCmd(&cfgPath),
	)
	return root
}

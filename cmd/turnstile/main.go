// Command turnstile runs the subscription and entitlement gateway.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "turnstile",
		Short: "Subscription plans and metered API entitlements",
		Long: `Turnstile manages subscription plans, API permissions and per-user
subscriptions, and gates API calls on a user's plan and remaining quota.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"path to a YAML config file (default: ./configs/config.yaml or ./config.yaml if present)")

	root.AddCommand(
		newServeCommand(&configPath),
		newMigrateCommand(&configPath),
		newSeedCommand(&configPath),
	)
	return root
}

// Command achievectl is the operator CLI for OneuiBot achievements: schema
// migrations, catalog checks and manual evaluation passes.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lyutobor/OneuiBot-sub000/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "achievectl",
		Short:         "Operate the OneuiBot achievement engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("env", ".env", "Path to an env file loaded before the environment")
	root.PersistentFlags().String("catalog", "", "Catalog YAML file (overrides ACHIEVEMENTS_CATALOG)")

	root.AddCommand(
		newMigrateCmd(),
		newCatalogCmd(),
		newEvaluateCmd(),
		newUnlockedCmd(),
		newAuditCmd(),
	)
	return root
}

// loadConfig reads configuration the same way the services do and applies
// the persistent flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	envFile, _ := cmd.Flags().GetString("env")
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, err
	}
	if path, _ := cmd.Flags().GetString("catalog"); path != "" {
		cfg.Achievements.CatalogPath = path
	}
	return cfg, nil
}

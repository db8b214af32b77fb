package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:   "claude-automations",
		Short: "Claude Automations - background agent runs for your repositories",
		Long: `Claude Automations runs Claude Code agents on a schedule or in response
to events. Each run happens in an isolated git worktree, so your working
copies are never touched. Results are collected per automation and can be
reviewed via CLI or web API.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

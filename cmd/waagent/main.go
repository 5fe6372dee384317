package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:           "waagent",
	Short:         "WhatsApp auto-reply agent",
	Long:          "waagent watches a wacli message store, drafts replies in your style and sends or queues them for approval.",
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       version,
}

func init() {
	cobra.EnableCommandSorting = false
	rootCmd.SetVersionTemplate(fmt.Sprintf("waagent version %s\n", version))
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", os.Getenv("NO_COLOR") != "", "disable colored output")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(pollCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(autoreplyCmd)
	rootCmd.AddCommand(killswitchCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(mcpCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}

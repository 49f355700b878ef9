package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "agentdeck",
	Short: "Drive command-line coding agents from your browser",
	Long: `agentdeck runs coding-agent CLIs (claude, copilot) under pseudo-terminals
inside your workspaces and streams them to the browser over WebSockets.
Sessions survive reconnects and can be resumed against the CLI's own
conversation state; push notifications fire when an agent is waiting on you.`,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

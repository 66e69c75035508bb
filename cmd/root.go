package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"switchboard/internal/config"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeConfig indicates the configuration could not be loaded or is invalid.
	ExitCodeConfig = 2
)

// configPath is shared by every command that reads config.yaml.
var configPath string

// rootCmd represents the base command for the switchboard application.
var rootCmd = &cobra.Command{
	Use:   "switchboard",
	Short: "Connect organizations to MCP plugins and run support conversations",
	Long: `switchboard is the integration backbone of a multi-tenant support platform.

It stores per-organization plugin credentials encrypted at rest, runs OAuth
connections to third-party providers, talks MCP to plugin servers and drives
the conversation state machine, fanning events out to every node and to
connected websocket clients.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors that are handled by the application.
	SilenceUsage: true,
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application.
// This function is called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "switchboard version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode determines the appropriate exit code based on the error type.
func getExitCode(err error) int {
	var cfgErr *config.ConfigurationError
	if errors.As(err, &cfgErr) {
		return ExitCodeConfig
	}
	var verrs config.ValidationErrors
	if errors.As(err, &verrs) {
		return ExitCodeConfig
	}
	if errors.Is(err, config.ErrVaultSecretMissing) {
		return ExitCodeConfig
	}
	return ExitCodeError
}

// loadConfig reads config.yaml from --config-path or the default directory.
func loadConfig() (config.Config, error) {
	path := configPath
	if path == "" {
		path = config.GetDefaultConfigPathOrPanic()
	}
	return config.LoadConfig(path)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config-path", "", "Configuration directory (default $HOME/.config/switchboard)")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newToolsCmd())
	rootCmd.AddCommand(newAuthCmd())
	rootCmd.AddCommand(newVaultCmd())
}

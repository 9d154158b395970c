package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/ternarybob/keepliver/internal/app"
	"github.com/ternarybob/keepliver/internal/common"
)

// defaultConfigFile is picked up from the working directory when no --config is given
const defaultConfigFile = "keepliver.toml"

var configFiles []string

var rootCmd = &cobra.Command{
	Use:           "keepliver",
	Short:         "Capture CTYUN cloud desktop login material for the keepalive process",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringArrayVarP(&configFiles, "config", "c", nil,
		"Configuration file path (can be repeated, later files override earlier ones)")
	rootCmd.AddCommand(loginCmd, versionCmd)
}

// loadConfig reads defaults, config files and the environment
func loadConfig() (*common.Config, error) {
	files := configFiles
	if len(files) == 0 {
		if _, err := os.Stat(defaultConfigFile); err == nil {
			files = []string{defaultConfigFile}
		}
	}
	return common.LoadFromFiles(files...)
}

// exitError carries a process exit code through cobra
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func main() {
	defer common.RecoverWithCrashFile()

	err := rootCmd.Execute()
	if err == nil {
		return
	}

	var exit *exitError
	if errors.As(err, &exit) {
		os.Exit(exit.code)
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(app.ExitCode(err))
}

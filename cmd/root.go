// Package cmd implements the memengine command-line interface: a thin
// shell around the injection engine for inspecting configuration and
// running an agent loop against a local store.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var cfgPathFlag string

// Execute runs the root command.
func Execute() error {
	return rootCmd().Execute()
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memengine",
		Short: "Memory injection engine for conversational agent channels",
	}
	cmd.PersistentFlags().StringVar(&cfgPathFlag, "config", "", "path to injection config YAML (default ~/.memengine/config.yaml)")

	cmd.AddCommand(configCmd())
	cmd.AddCommand(doctorCmd())
	cmd.AddCommand(serveCmd())
	return cmd
}

// resolveConfigPath returns the config file path: the --config flag if
// set, then MEMENGINE_CONFIG, then ~/.memengine/config.yaml.
func resolveConfigPath() string {
	if cfgPathFlag != "" {
		return expandHome(cfgPathFlag)
	}
	if env := os.Getenv("MEMENGINE_CONFIG"); env != "" {
		return expandHome(env)
	}
	return expandHome("~/.memengine/config.yaml")
}

// expandHome expands a leading "~" to the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

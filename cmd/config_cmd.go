package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/slvnlrt/memengine/internal/config"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and validate the injection configuration",
	}
	cmd.AddCommand(configShowCmd())
	cmd.AddCommand(configPathCmd())
	cmd.AddCommand(configValidateCmd())
	return cmd
}

func configShowCmd() *cobra.Command {
	var agentID string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Display the resolved configuration for an agent",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				fatalf("Error loading config: %s", err)
			}
			resolved, warnings, err := cfg.Resolve(agentID)
			if err != nil {
				fatalf("Error resolving config: %s", err)
			}
			for _, w := range warnings {
				fmt.Printf("warning: %s\n", w)
			}
			data, _ := json.MarshalIndent(resolved, "", "  ")
			fmt.Println(string(data))
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "", "agent id to resolve overrides for")
	return cmd
}

func configPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the config file and every per-agent override",
		Run: func(cmd *cobra.Command, args []string) {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				fatalf("Invalid config: %s", err)
			}
			if err := cfg.Validate(); err != nil {
				fatalf("Invalid config: %s", err)
			}
			fmt.Printf("Config at %s is valid.\n", cfgPath)
		},
	}
}

package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/slvnlrt/memengine/internal/config"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("memengine doctor")
	fmt.Printf("  OS:   %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:   %s\n", runtime.Version())

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config: %s\n", cfgPath)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("    status: NOT FOUND or unreadable (%s)\n", err)
		fmt.Println("    the engine will run on its built-in defaults")
		return
	}
	if _, warnings, err := cfg.Resolve(""); err != nil {
		fmt.Printf("    status: INVALID (%s)\n", err)
	} else {
		fmt.Println("    status: OK")
		for _, w := range warnings {
			fmt.Printf("    warning: %s\n", w)
		}
	}
	fmt.Printf("    per-agent overrides: %d\n", len(cfg.PerAgent))
}

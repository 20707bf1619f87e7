// Command agentgrid runs an agent host from a YAML config file.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentgrid-dev/agentgrid"

	// Every built-in backend, selectable from config.
	_ "github.com/agentgrid-dev/agentgrid/scheduler/cron"
	_ "github.com/agentgrid-dev/agentgrid/scheduler/memory"
	_ "github.com/agentgrid-dev/agentgrid/state/file"
	_ "github.com/agentgrid-dev/agentgrid/state/memory"
	_ "github.com/agentgrid-dev/agentgrid/state/redis"
	_ "github.com/agentgrid-dev/agentgrid/transport/http"
	_ "github.com/agentgrid-dev/agentgrid/transport/ws"
)

// version is set via ldflags.
var version = "dev"

func main() {
	configFile := "config/agentgrid.yaml"
	if v := os.Getenv("AGENTGRID_CONFIG"); v != "" {
		configFile = v
	}

	root := &cobra.Command{
		Use:          "agentgrid",
		Short:        "agentgrid runs a host for stateful, addressable agents",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return agentgrid.Run(context.Background(), configFile)
		},
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", configFile, "host configuration file")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "print the agentgrid version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("agentgrid", version)
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

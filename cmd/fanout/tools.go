package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/fanout/internal/tool"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Print the mission tools offered to requesting agents",
	Long: `Print the name, description and JSON input schema of each mission tool.
These are the definitions to register with an agent that should be able
to delegate work through fanout.`,
	Run: func(cmd *cobra.Command, args []string) {
		// Schemas do not depend on a running orchestrator.
		registry := tool.NewRegistry(nil)
		for i, name := range registry.Names() {
			t, _ := registry.Get(name)
			if i > 0 {
				fmt.Println()
			}
			fmt.Printf("%s\n  %s\n\n%s\n", t.ToolName(), t.ToolDescription(), t.ToolPayloadSchema().String())
		}
	},
}

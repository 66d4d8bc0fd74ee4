package cli

import (
	"github.com/spf13/cobra"

	"github.com/lazypower/stage0/internal/mcpserver"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve stage0 tools over MCP stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, closeEngine, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer closeEngine()

		return mcpserver.ServeStdio(mcpserver.New(eng, VersionString()))
	},
}

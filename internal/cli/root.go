// Package cli implements the artisan-mcp command tree.
package cli

import (
	"os"

	"github.com/spf13/cobra"
)

func NewRoot(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "artisan-mcp",
		Short:         "artisan-mcp: whitelisted Laravel Artisan commands over MCP",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.Version = version
	cmd.SetVersionTemplate("artisan-mcp {{.Version}}\n")

	cmd.PersistentFlags().String("config", getenvDefault("ARTISAN_MCP_CONFIG", ""), "Settings file (default: ./artisan-mcp.yaml if present)")

	cmd.AddCommand(newServeCmd(version))
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newWhitelistCmd())
	cmd.AddCommand(newCommandsCmd())
	cmd.AddCommand(newAuditCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

func configPath(cmd *cobra.Command) string {
	p, _ := cmd.Root().PersistentFlags().GetString("config")
	return p
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

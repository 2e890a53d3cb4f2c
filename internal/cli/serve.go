package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/artisan-mcp/artisan-mcp/internal/config"
	"github.com/artisan-mcp/artisan-mcp/internal/server"
)

func newServeCmd(version string) *cobra.Command {
	var (
		stdio    bool
		httpAddr string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the MCP tools on stdio and/or HTTP",
		Long: `Serve the MCP tools on stdio and/or HTTP.

ARTISAN_DIRECTORY must name the Laravel project root and
WHITELISTED_COMMANDS the comma-separated allow-list of command prefixes.
When --stdio or --http is given, exactly the named transports are started;
otherwise the settings file decides.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			if err := applyTransportFlags(settings, cmd.Flags().Changed("stdio") && stdio, httpAddr); err != nil {
				return err
			}

			gwCfg, err := config.Initialize(config.EnvironMap(os.Environ()))
			if err != nil {
				return err
			}

			if settings.StdioEnabled() && isTerminal(cmd.InOrStdin()) {
				slog.Warn("stdin is a terminal; MCP clients normally start this server over a pipe")
			}

			srv, err := server.New(cmd.Context(), server.Options{
				Settings: settings,
				Gateway:  gwCfg,
				Version:  version,
				Stdin:    cmd.InOrStdin(),
				Stdout:   cmd.OutOrStdout(),
			})
			if err != nil {
				return err
			}
			defer srv.Close()
			return srv.Run(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&stdio, "stdio", false, "Serve newline-delimited JSON-RPC on stdin/stdout")
	cmd.Flags().StringVar(&httpAddr, "http", "", "Serve JSON-RPC over HTTP on this address (e.g. 127.0.0.1:8080)")
	return cmd
}

// applyTransportFlags lets explicit flags replace the transport selection
// from the settings file.
func applyTransportFlags(s *config.Settings, stdio bool, httpAddr string) error {
	if !stdio && httpAddr == "" {
		return nil
	}
	s.Server.Stdio.Enabled = &stdio
	s.Server.HTTP.Enabled = httpAddr != ""
	if httpAddr != "" {
		s.Server.HTTP.Addr = httpAddr
	}
	if !s.StdioEnabled() && !s.Server.HTTP.Enabled {
		return fmt.Errorf("no transport enabled")
	}
	return nil
}

func isTerminal(r any) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

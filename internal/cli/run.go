package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/artisan-mcp/artisan-mcp/internal/config"
	"github.com/artisan-mcp/artisan-mcp/internal/gateway"
	"github.com/artisan-mcp/artisan-mcp/internal/server"
	"github.com/artisan-mcp/artisan-mcp/internal/shellwords"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run COMMAND [ARGS...]",
		Short: "Run one whitelisted artisan command and print its output",
		Example: `  artisan-mcp run route:list
  artisan-mcp run "migrate:status --pending"`,
		Args:               cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withGateway(cmd, func(gw *gateway.Gateway) error {
				ctx := gateway.WithSource(cmd.Context(), "cli")
				return printReply(cmd, gw.Run(ctx, commandLine(args)))
			})
		},
	}
	// Everything after the command name belongs to artisan.
	cmd.Flags().SetInterspersed(false)
	return cmd
}

// commandLine rebuilds the command string from cobra's args. A single arg
// is taken as a full command line; several args are quoted so that each
// survives the gateway's split as one word.
func commandLine(args []string) string {
	if len(args) == 1 {
		return args[0]
	}
	return shellwords.Join(args)
}

func newWhitelistCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whitelist",
		Short: "Print the whitelisted command prefixes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Initialize(config.EnvironMap(os.Environ()))
			if err != nil {
				return err
			}
			gw, err := gateway.New(cfg)
			if err != nil {
				return err
			}
			return printReply(cmd, gw.ListAuthorizedCommands())
		},
	}
}

func newCommandsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "commands",
		Short: "Print every command the artisan script offers, whitelisted or not",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withGateway(cmd, func(gw *gateway.Gateway) error {
				ctx := gateway.WithSource(cmd.Context(), "cli")
				return printReply(cmd, gw.ListAllCommands(ctx))
			})
		},
	}
}

// withGateway builds a gateway from the settings file and environment with
// the configured audit sinks attached, and closes them when fn returns.
func withGateway(cmd *cobra.Command, fn func(*gateway.Gateway) error) error {
	settings, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	cfg, err := config.Initialize(config.EnvironMap(os.Environ()))
	if err != nil {
		return err
	}
	st, err := server.OpenAuditStore(cmd.Context(), settings.Audit, nil, cmd.Root().Version)
	if err != nil {
		return err
	}
	var sink gateway.EventSink
	if st != nil {
		sink = st
		defer st.Close()
	}
	gw, err := server.NewGateway(settings, cfg, sink, nil)
	if err != nil {
		return err
	}
	return fn(gw)
}

// printReply writes the reply text and turns any status other than ok into
// exit code 1.
func printReply(cmd *cobra.Command, r gateway.Reply) error {
	out := cmd.OutOrStdout()
	if r.IsError() {
		out = cmd.ErrOrStderr()
	}
	fmt.Fprintln(out, r.Text)
	if r.IsError() {
		return NewExitError(exitReplyNotOK, "")
	}
	return nil
}

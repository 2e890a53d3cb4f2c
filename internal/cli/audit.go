package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/artisan-mcp/artisan-mcp/internal/store/sqlite"
	"github.com/artisan-mcp/artisan-mcp/pkg/types"
)

func newAuditCmd() *cobra.Command {
	var (
		dbPath      string
		typesCSV    string
		commandLike string
		since       string
		limit       int
		asJSON      bool
		counts      bool
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query the SQLite audit log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbPath == "" {
				settings, err := loadSettings(cmd)
				if err != nil {
					return err
				}
				dbPath = settings.Audit.SQLitePath
			}
			if dbPath == "" {
				return fmt.Errorf("no audit database: set audit.sqlite_path or pass --db")
			}

			q := types.EventQuery{Limit: limit, CommandLike: commandLike}
			for _, t := range strings.Split(typesCSV, ",") {
				if t = strings.TrimSpace(t); t != "" {
					q.Types = append(q.Types, t)
				}
			}
			if since != "" {
				d, err := time.ParseDuration(since)
				if err != nil {
					return fmt.Errorf("invalid --since: %w", err)
				}
				ts := time.Now().Add(-d)
				q.Since = &ts
			}

			st, err := sqlite.Open(dbPath)
			if err != nil {
				return err
			}
			defer st.Close()

			if counts {
				m, err := st.CountByType(cmd.Context(), q)
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(cmd, m)
				}
				return printCounts(cmd.OutOrStdout(), m)
			}

			evs, err := st.QueryEvents(cmd.Context(), q)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd, evs)
			}
			return printEvents(cmd.OutOrStdout(), evs)
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite audit database (default: audit.sqlite_path)")
	cmd.Flags().StringVar(&typesCSV, "type", "", "Comma-separated event types to include")
	cmd.Flags().StringVar(&commandLike, "command", "", "Only events whose command contains this text")
	cmd.Flags().StringVar(&since, "since", "", "Only events newer than this duration (e.g. 1h)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of events")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	cmd.Flags().BoolVar(&counts, "counts", false, "Print the number of events per type instead of the events")

	cmd.AddCommand(newAuditVerifyCmd())
	return cmd
}

func printEvents(w io.Writer, evs []types.Event) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tTYPE\tSOURCE\tEXIT\tDURATION\tCOMMAND")
	for _, ev := range evs {
		exit := "-"
		if ev.ExitCode != nil {
			exit = fmt.Sprint(*ev.ExitCode)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%dms\t%s\n",
			ev.Timestamp.Local().Format(time.RFC3339),
			ev.Type,
			orDash(ev.Source),
			exit,
			ev.DurationMs,
			orDash(ev.Command),
		)
	}
	return tw.Flush()
}

func printCounts(w io.Writer, m map[string]int) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tCOUNT")
	for _, k := range keys {
		fmt.Fprintf(tw, "%s\t%d\n", k, m[k])
	}
	return tw.Flush()
}

func printJSON(cmd *cobra.Command, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return err
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

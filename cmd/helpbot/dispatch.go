package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/davidhoung2/helpbot/internal/dateexpr"
	"github.com/davidhoung2/helpbot/internal/models"
	"github.com/davidhoung2/helpbot/internal/parser"
	"github.com/davidhoung2/helpbot/internal/store"
	"github.com/davidhoung2/helpbot/internal/telegraph"
	"github.com/spf13/cobra"
)

func newDispatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "dispatch",
		Aliases: []string{"d"},
		Short:   "Inspect and manage stored dispatch records",
	}

	cmd.AddCommand(newDispatchListCmd())
	cmd.AddCommand(newDispatchDeleteCmd())
	cmd.AddCommand(newDispatchEditCmd())
	cmd.AddCommand(newDispatchPurgeCmd())
	cmd.AddCommand(newDispatchParseCmd())
	return cmd
}

func newDispatchListCmd() *cobra.Command {
	var (
		configPath string
		channel    string
		all        bool
		chat       bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List active dispatch records",
		Long:  "Lists records dated today or later, ordered by date. --all includes past records not yet purged.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			filter := store.ListFilter{ChannelID: channel}
			if !all {
				filter.From = a.Service.Today()
			}
			recs, err := a.Store.ListActive(cmd.Context(), filter)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if chat {
				fmt.Fprintln(out, telegraph.FormatDispatchList(recs, a.Service.Location()))
				return nil
			}
			printDispatchTable(out, recs)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&channel, "channel", "", "only records from this channel")
	cmd.Flags().BoolVar(&all, "all", false, "include records dated before today")
	cmd.Flags().BoolVar(&chat, "chat", false, "render as the chat list would")
	return cmd
}

func printDispatchTable(out io.Writer, recs []models.Dispatch) {
	if len(recs) == 0 {
		fmt.Fprintln(out, "No dispatch records found.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDATE\tKEY\tTASK\tCOMMANDER\tDRIVER\tVALIDATION")
	for _, d := range recs {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			d.ID, d.DispatchDate, d.EffectiveKey, dash(truncate(d.TaskName, 30)),
			dash(d.Commander), dash(d.Driver), d.Validation)
	}
	w.Flush()
}

func newDispatchDeleteCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a dispatch record by ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := openApp(cmd, configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Service.DeleteByID(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted dispatch %d\n", id)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func newDispatchEditCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "edit <id> <field> <value>",
		Short: "Change one field of a dispatch record",
		Long: `Changes one field of a record. Fields: ` + "車長/commander, 駕駛/driver, 車號/vehicle, 任務/task, 日期/date, 狀態/status" + `.
A value of "-" clears the field. Dates accept a single day such as 12/17.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := openApp(cmd, configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			d, err := a.Service.EditField(cmd.Context(), id, args[1], args[2])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated dispatch %d\n", d.ID)
			printDispatchTable(cmd.OutOrStdout(), []models.Dispatch{*d})
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func newDispatchPurgeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete records dated before today",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.Service.PurgeNow(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Purged %d expired dispatch records\n", n)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func newDispatchParseCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "parse [text]",
		Short: "Show what a message would produce, without storing anything",
		Long:  "Parses the text (or stdin when no argument is given) and prints the drafts, cancellations and date problems it contains.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			text, err := readText(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			p := parser.New(parser.Opts{Location: cfg.Location()})
			printParseResult(cmd.OutOrStdout(), p.Parse(text))
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func printParseResult(out io.Writer, res parser.Result) {
	if res.Empty() && res.Incomplete == 0 {
		fmt.Fprintln(out, "Not a dispatch message.")
		return
	}
	if res.NeedsCorrection {
		fmt.Fprintf(out, "Unusable dates: %s\n", strings.Join(res.BadExprs, ", "))
	}
	for _, c := range res.Cancellations {
		dates := make([]string, len(c.Dates))
		for i, d := range c.Dates {
			dates[i] = models.FormatDate(d)
		}
		fmt.Fprintf(out, "Cancel %s %s\n", strings.Join(dates, ", "), dash(c.TaskFragment))
	}
	if res.Incomplete > 0 {
		fmt.Fprintf(out, "Skipped %d block(s) without vehicle or task\n", res.Incomplete)
	}
	if len(res.Drafts) == 0 {
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DATE\tVEHICLE\tTASK\tSTATUS\tCOMMANDER\tDRIVER\tNOTE")
	for _, d := range res.Drafts {
		note := ""
		if d.WeekdayMismatch {
			note = "weekday is " + dateexpr.WeekdayName(d.Date.Weekday())
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			models.FormatDate(d.Date), dash(d.VehicleID), dash(d.TaskName), dash(d.VehicleStatus),
			dash(d.Commander), dash(d.Driver), note)
	}
	w.Flush()
}

func readText(in io.Reader, args []string) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		return args[0], nil
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return string(data), nil
}

func parseID(s string) (uint, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return uint(id), nil
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// truncate shortens s to n runes, appending "..." if truncated.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

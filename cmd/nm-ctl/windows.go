package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"Go2NetMon/internal/model"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

func (c *cli) newWindowsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "windows",
		Short: "Inspect stored windows",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List windows, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := c.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			windows, err := st.List(cmd.Context(), model.WindowFilter{Limit: limit})
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTART\tFLOWS\tATTACK\tUNKNOWN\tATTACK%")
			for _, w := range windows {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%.1f\n",
					w.ID, w.StartTime.UTC().Format(time.RFC3339), w.TotalFlows,
					w.AttackFlows, w.UnknownFlows, w.Percent(w.AttackFlows))
			}
			return tw.Flush()
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", 12, "Maximum number of windows to show (0 for all)")

	get := &cobra.Command{
		Use:   "get <window-id>",
		Short: "Print one window as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := c.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			w, err := st.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), w)
		},
	}

	cmd.AddCommand(list, get)
	return cmd
}

func parseTimeFlag(name, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "--%s must be RFC3339", name)
	}
	return t.UTC(), nil
}

func (c *cli) newExportCmd() *cobra.Command {
	var from, to, out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export windows in a time range as JSON, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			start, err := parseTimeFlag("from", from)
			if err != nil {
				return err
			}
			end, err := parseTimeFlag("to", to)
			if err != nil {
				return err
			}

			st, err := c.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			windows, err := st.List(cmd.Context(), model.WindowFilter{From: start, To: end, Ascending: true})
			if err != nil {
				return err
			}
			if windows == nil {
				windows = []*model.Window{}
			}

			if out == "" || out == "-" {
				return printJSON(cmd.OutOrStdout(), windows)
			}
			f, err := os.Create(out)
			if err != nil {
				return errors.Wrap(err, "failed to create export file")
			}
			if err := printJSON(f, windows); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.ErrOrStderr(), "exported %d windows to %s\n", len(windows), out)
			return err
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "Inclusive start time (RFC3339)")
	cmd.Flags().StringVar(&to, "to", "", "Exclusive end time (RFC3339)")
	cmd.Flags().StringVarP(&out, "output", "o", "", "Output file (default stdout)")
	return cmd
}

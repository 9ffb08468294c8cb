package main

import (
	"context"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"Go2NetMon/internal/model"
	"Go2NetMon/internal/store"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

func (c *cli) newAlertsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "List, acknowledge and resolve alerts",
	}

	var (
		open     bool
		severity string
		limit    int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List alerts, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := c.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			f := model.AlertFilter{Severity: model.Severity(severity), Limit: limit}
			if open {
				resolved := false
				f.Resolved = &resolved
			}
			alerts, err := st.ListAlerts(cmd.Context(), f)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCREATED\tWINDOW\tTYPE\tSEVERITY\tACK\tRESOLVED\tTITLE")
			for _, a := range alerts {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%t\t%t\t%s\n",
					a.ID, a.CreatedAt.UTC().Format(time.RFC3339), a.WindowID, a.Type,
					a.Severity, a.Acknowledged, a.Resolved, a.Title)
			}
			return tw.Flush()
		},
	}
	list.Flags().BoolVar(&open, "open", false, "Only unresolved alerts")
	list.Flags().StringVar(&severity, "severity", "", "Filter by severity (high, medium, low)")
	list.Flags().IntVarP(&limit, "limit", "n", 100, "Maximum number of alerts to show")

	cmd.AddCommand(
		list,
		c.alertActionCmd("ack <alert-id>", "Acknowledge an alert", (*store.Store).Acknowledge),
		c.alertActionCmd("resolve <alert-id>", "Resolve an alert", (*store.Store).Resolve),
	)
	return cmd
}

func (c *cli) alertActionCmd(use, short string,
	action func(*store.Store, context.Context, uint64) (*model.Alert, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return errors.Newf("invalid alert id %q", args[0])
			}
			st, err := c.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			a, err := action(st, cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), a)
		},
	}
}

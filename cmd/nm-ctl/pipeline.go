package main

import (
	"Go2NetMon/internal/config"
	"Go2NetMon/internal/engine/manager"

	"github.com/spf13/cobra"
)

func (c *cli) newTickCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Run one pipeline tick and print its report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			mgr, err := manager.NewManager(ctx, config.Static(c.cfg), c.logger)
			if err != nil {
				return err
			}
			defer mgr.Stop()

			report := mgr.Scheduler.Tick(ctx, c.cfg)
			if err := printJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			return report.Err
		},
	}
}

func (c *cli) newReprocessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reprocess <window-id>",
		Short: "Rebuild a window from its feature file and update it in place",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			mgr, err := manager.NewManager(ctx, config.Static(c.cfg), c.logger)
			if err != nil {
				return err
			}
			defer mgr.Stop()

			w, err := mgr.Scheduler.Reprocess(ctx, c.cfg, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), w)
		},
	}
}

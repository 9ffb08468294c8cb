package main

import (
	"Go2NetMon/internal/config"
	"Go2NetMon/internal/query"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

func (c *cli) clickHouseConfig() (config.ClickHouseConfig, error) {
	for _, def := range c.cfg.Archive.Sinks {
		if def.Enabled && def.Type == "clickhouse" {
			return def.ClickHouse, nil
		}
	}
	return config.ClickHouseConfig{}, errors.New("no enabled clickhouse archive sink in config")
}

func (c *cli) newHistoryCmd() *cobra.Command {
	var (
		from, to, label string
		minAttacks      int64
		limit           int
		labels          bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Query archived windows in ClickHouse",
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
			chCfg, err := c.clickHouseConfig()
			if err != nil {
				return err
			}
			q, err := query.NewClickHouseQuerier(cmd.Context(), chCfg)
			if err != nil {
				return err
			}
			defer q.Close()

			if labels {
				totals, err := q.LabelTotals(cmd.Context(), start, end)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), totals)
			}
			points, err := q.History(cmd.Context(), query.HistoryFilter{
				From:           start,
				To:             end,
				Label:          label,
				MinAttackFlows: minAttacks,
				Limit:          limit,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), points)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "Inclusive start time (RFC3339)")
	cmd.Flags().StringVar(&to, "to", "", "Exclusive end time (RFC3339)")
	cmd.Flags().StringVar(&label, "label", "", "Only windows where this label was seen")
	cmd.Flags().Int64Var(&minAttacks, "min-attack-flows", 0, "Only windows with at least this many attack flows")
	cmd.Flags().IntVarP(&limit, "limit", "n", 1000, "Maximum number of windows")
	cmd.Flags().BoolVar(&labels, "labels", false, "Print per-label flow totals instead of windows")
	return cmd
}

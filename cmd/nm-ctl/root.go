package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"Go2NetMon/internal/config"
	"Go2NetMon/internal/logging"
	"Go2NetMon/internal/store"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// cli carries the state shared by every subcommand.
type cli struct {
	configFile string
	envFile    string
	logLevel   string

	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "nm-ctl",
		Short: "Operate the Go2NetMon window pipeline",
		Long: `nm-ctl runs single pipeline ticks, re-processes windows and inspects
the window and alert store without starting the engine.

Examples:
  nm-ctl tick                                  # Run one tick and print its report
  nm-ctl reprocess window-20250505115500       # Rebuild a stored window in place
  nm-ctl windows list --limit 5                # Show the five most recent windows
  nm-ctl alerts list --open                    # Show unresolved alerts
  nm-ctl alerts ack 42                         # Acknowledge alert 42
  nm-ctl export --from 2025-05-05T00:00:00Z    # Export windows as JSON
  nm-ctl history --label DDoS                  # Query the ClickHouse archive`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.load()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVarP(&c.configFile, "config", "c", "configs/config.yaml", "Path to the configuration file")
	root.PersistentFlags().StringVar(&c.envFile, "env", ".env", "Optional dotenv file with credentials")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "warn", "Log level for this invocation")

	root.AddCommand(
		c.newTickCmd(),
		c.newReprocessCmd(),
		c.newWindowsCmd(),
		c.newAlertsCmd(),
		c.newExportCmd(),
		c.newHistoryCmd(),
		c.newValidateCmd(),
	)
	return root
}

func (c *cli) load() error {
	if err := godotenv.Load(c.envFile); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to load %s", c.envFile)
	}
	cfg, err := config.LoadConfig(c.configFile)
	if err != nil {
		return err
	}
	logger, err := logging.New(c.logLevel, "console")
	if err != nil {
		return err
	}
	c.cfg, c.logger = cfg, logger
	return nil
}

func (c *cli) openStore(ctx context.Context) (*store.Store, error) {
	return store.Open(ctx, c.cfg.Storage, c.logger)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *cli) newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s is valid\n", c.configFile)
			return err
		},
	}
}

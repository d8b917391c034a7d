// Package cmd defines the harvester CLI.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/steam-harvester/internal/app"
	"github.com/JakeFAU/steam-harvester/internal/config"
	"github.com/JakeFAU/steam-harvester/internal/logging"
)

// appKeyType is the key for storing the App in the command context.
type appKeyType string

const appKey appKeyType = "app"

type rootOptions struct {
	cfgFile string
	envFile string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Captures Steam storefront pages as normalized snapshots.",
		Long: `harvester walks every catalog entry that has not been captured yet, renders its
store page in a headless browser, and records one snapshot per entry in Postgres.
Entries that fail are rolled back and retried on the next run.`,
		SilenceUsage: true,

		// Runs before every subcommand and injects the App into its context.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a, err := bootstrap(opts)
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, a))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (default is ./harvester.yaml or $HOME/.harvester/harvester.yaml)")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the configuration; a missing file is ignored")

	cmd.AddCommand(newCrawlCmd(), newSyncCmd())
	return cmd
}

func bootstrap(opts *rootOptions) (*app.App, error) {
	if err := loadEnvFile(opts.envFile); err != nil {
		return nil, err
	}
	cfg, err := config.Load(opts.cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return app.New(cfg, logger), nil
}

// loadEnvFile exports variables from a dotenv file without overriding the environment.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func resolveApp(ctx context.Context) (*app.App, error) {
	a, ok := ctx.Value(appKey).(*app.App)
	if !ok || a == nil {
		return nil, errors.New("application services not initialized")
	}
	return a, nil
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

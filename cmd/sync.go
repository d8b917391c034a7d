package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/steam-harvester/internal/catalog"
)

type syncOptions struct {
	force        bool
	createSchema bool
}

func newSyncCmd() *cobra.Command {
	opts := &syncOptions{}
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Seeds the entry table from the app list",
		Long: `Downloads the public app list and upserts every entry. The download is skipped
when the entry table already has rows unless --force is given.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.force, "force", false, "sync even when entries already exist")
	cmd.Flags().BoolVar(&opts.createSchema, "create-schema", false, "create missing tables before syncing")
	return cmd
}

func runSync(cmd *cobra.Command, opts *syncOptions) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := cmd.Context()

	repo, err := a.Repository(ctx)
	if err != nil {
		return err
	}
	if opts.createSchema {
		if err := repo.EnsureSchema(ctx); err != nil {
			return err
		}
	}

	syncer := catalog.New(repo, catalog.Config{
		URL:       a.Config.Catalog.URL,
		UserAgent: a.Config.Catalog.UserAgent,
		Timeout:   a.Config.CatalogTimeout(),
	}, a.Logger)
	res, err := syncer.Sync(ctx, opts.force)
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	if res.Skipped {
		fmt.Fprintln(cmd.OutOrStdout(), "entries already present, sync skipped (use --force to refresh)")
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "fetched=%d upserted=%d\n", res.Fetched, res.Upserted)
	return nil
}

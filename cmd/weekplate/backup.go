package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dukerupert/weekplate/internal/app"
	"github.com/dukerupert/weekplate/internal/backup"
	"github.com/dukerupert/weekplate/internal/database"
)

func newBackupCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Snapshot the database into the artifact store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			store, err := app.NewArtifactStore(cfg.Artifact)
			if err != nil {
				return err
			}
			db, err := database.Open(cfg.Database.Path)
			if err != nil {
				return err
			}
			defer db.Close()

			if cfg.Backup.Passphrase == "" {
				logger.Warn("backup passphrase not set, snapshot will be stored unencrypted")
			}
			key, err := backup.Run(cmd.Context(), db, store, cfg.Backup.Passphrase, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}

	var out string
	restore := &cobra.Command{
		Use:   "restore <key>",
		Short: "Write a stored snapshot to a new database file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := setup()
			if err != nil {
				return err
			}
			store, err := app.NewArtifactStore(cfg.Artifact)
			if err != nil {
				return err
			}
			if err := backup.Restore(cmd.Context(), store, args[0], cfg.Backup.Passphrase, out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "restored %s to %s\n", args[0], out)
			return nil
		},
	}
	restore.Flags().StringVarP(&out, "out", "o", "weekplate-restored.db", "Destination database file")
	cmd.AddCommand(restore)
	return cmd
}

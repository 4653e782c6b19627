package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marketgps/core/internal/core"
)

// newBackupCmd groups snapshot backup operations. All subcommands require
// the backup bucket to be configured.
func newBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Manage snapshot backups in object storage",
	}
	cmd.AddCommand(newBackupCreateCmd(), newBackupListCmd(), newBackupRotateCmd())
	return cmd
}

func requireBackup(c *core.Core) error {
	if c.Backup == nil {
		return fmt.Errorf("backups are not configured, set BACKUP_S3_BUCKET")
	}
	return nil
}

func newBackupCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Create and upload a snapshot backup",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(func(ctx context.Context, c *core.Core) error {
				if err := requireBackup(c); err != nil {
					return err
				}
				name, err := c.Backup.CreateAndUpload(ctx)
				if err != nil {
					return err
				}
				cmd.Printf("uploaded %s\n", name)
				return nil
			})
		},
	}
}

func newBackupListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored backups, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(func(ctx context.Context, c *core.Core) error {
				if err := requireBackup(c); err != nil {
					return err
				}
				backups, err := c.Backup.ListBackups(ctx)
				if err != nil {
					return err
				}
				if len(backups) == 0 {
					cmd.Println("no backups stored")
					return nil
				}
				for _, b := range backups {
					cmd.Printf("%s  %.1f MB  %dh old\n", b.Filename, mb(b.SizeBytes), b.AgeHours)
				}
				return nil
			})
		},
	}
}

func newBackupRotateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rotate",
		Short: "Delete backups past the retention period",
	}
	retention := cmd.Flags().Int("retention-days", 30, "delete backups older than this many days (0 keeps all)")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return withCore(func(ctx context.Context, c *core.Core) error {
			if err := requireBackup(c); err != nil {
				return err
			}
			deleted, err := c.Backup.RotateOldBackups(ctx, *retention)
			if err != nil {
				return err
			}
			cmd.Printf("deleted %d backups\n", deleted)
			return nil
		})
	}
	return cmd
}

package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

func newBackupsCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backups",
		Short: "Inspect and restore file backups",
	}

	var format string
	list := &cobra.Command{
		Use:   "list <path>",
		Short: "List the backups kept for a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, root.configPath)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			mut, err := a.mutator()
			if err != nil {
				return err
			}
			backups, err := mut.Backups(args[0])
			if err != nil {
				return err
			}
			if format != "" {
				return writeOutput(cmd.OutOrStdout(), format, backups)
			}
			out := cmd.OutOrStdout()
			if len(backups) == 0 {
				fmt.Fprintf(out, "no backups for %s\n", args[0])
				return nil
			}
			for _, b := range backups {
				fmt.Fprintf(out, "%d\t%s\t%d bytes\t%s\n",
					b.Sequence, b.Timestamp.Format(time.RFC3339), b.Size, b.BackupPath)
			}
			return nil
		},
	}
	list.Flags().StringVarP(&format, "output", "o", "", "output format: json or yaml (default: text)")

	restore := &cobra.Command{
		Use:   "restore <path> <sequence>",
		Short: "Restore a file from one of its backups",
		Long: `Restore replaces the file with the backup carrying the given sequence
number, as shown by "autofix backups list".`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			seq, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid sequence %q: %w", args[1], err)
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, root.configPath)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			mut, err := a.mutator()
			if err != nil {
				return err
			}
			res := mut.Restore(ctx, args[0], seq)
			if !res.Success {
				return fmt.Errorf("restore %s: %s", args[0], res.Message)
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Message)
			return nil
		},
	}

	cmd.AddCommand(list, restore)
	return cmd
}

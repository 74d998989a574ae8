package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"ScoreBoard/internal/persist"
)

func newAnnotationsCmd() *cobra.Command {
	var server string

	cmd := &cobra.Command{
		Use:   "annotations",
		Short: "Inspect and remove stored annotations",
	}
	cmd.PersistentFlags().StringVarP(&server, "server", "s", "", "share link or host:port of the sync server")
	_ = cmd.MarkPersistentFlagRequired("server")

	list := &cobra.Command{
		Use:   "list <item>",
		Short: "List an item's annotations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := setup(true)
			if err != nil {
				return err
			}
			store, err := remoteStore(server, cfg.PersistTimeout)
			if err != nil {
				return err
			}
			annotations, err := store.ListByItem(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(annotations) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No annotations.")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tAUTHOR\tTOOL\tPOINTS\tCREATED")
			for _, a := range annotations {
				points := 0
				if a.Path != nil {
					points = len(a.Path.Points)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", a.ID, a.AuthorID, a.Tool, points, a.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		},
	}

	del := &cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete annotations by id",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := setup(true)
			if err != nil {
				return err
			}
			store, err := remoteStore(server, cfg.PersistTimeout)
			if err != nil {
				return err
			}
			deleted := 0
			var errs []error
			for _, id := range args {
				if err := store.Delete(cmd.Context(), id); err != nil {
					if errors.Is(err, persist.ErrNotFound) {
						err = fmt.Errorf("%s: not found", id)
					}
					errs = append(errs, err)
					continue
				}
				deleted++
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d annotation(s).\n", deleted)
			return errors.Join(errs...)
		},
	}

	cmd.AddCommand(list, del)
	return cmd
}

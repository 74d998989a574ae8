package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"ScoreBoard/internal/export"
	sbnet "ScoreBoard/internal/net"
	"ScoreBoard/internal/persist"
)

func newExportCmd() *cobra.Command {
	var server, item, out string
	var hide []string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write an item's annotations to a PDF",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := setup(true)
			if err != nil {
				return err
			}
			store, err := remoteStore(server, cfg.PersistTimeout)
			if err != nil {
				return err
			}

			list, err := store.ListByItem(cmd.Context(), item)
			if err != nil {
				return fmt.Errorf("fetch annotations: %w", err)
			}
			if out == "" {
				out = item + ".pdf"
			}
			hidden := make(map[string]bool, len(hide))
			for _, id := range hide {
				hidden[id] = true
			}

			f, err := os.Create(out)
			if err != nil {
				return err
			}
			if err := export.WritePDF(f, list, export.Options{Title: item, Hidden: hidden}); err != nil {
				f.Close()
				return fmt.Errorf("write pdf: %w", err)
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d annotations to %s\n", len(list), out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&server, "server", "s", "", "share link or host:port of the sync server")
	cmd.Flags().StringVarP(&item, "item", "i", "", "item to export")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default <item>.pdf)")
	cmd.Flags().StringSliceVar(&hide, "hide", nil, "author ids to leave out")
	_ = cmd.MarkFlagRequired("server")
	_ = cmd.MarkFlagRequired("item")

	return cmd
}

// remoteStore is the REST collaborator of the server behind target.
func remoteStore(target string, timeout time.Duration) (*persist.HTTPStore, error) {
	base, err := sbnet.HTTPBase(target)
	if err != nil {
		return nil, err
	}
	return persist.NewHTTPStore(base, timeout), nil
}

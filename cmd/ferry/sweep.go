package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSweepCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired channels and files, then orphaned blobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := openRuntime(ctx, opts.cfg, opts.logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			res, err := rt.svc.Sweep(ctx)
			if err != nil {
				return err
			}
			orphans, err := rt.svc.Reconcile(ctx)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "files=%d channels=%d orphans=%d blob_errors=%d\n", res.Files, res.Channels, orphans, res.BlobErrors)
			return err
		},
	}
}

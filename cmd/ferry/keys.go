package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newKeysCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage master keys",
	}
	cmd.AddCommand(newKeysBootstrapCmd(opts), newKeysMintCmd(opts))
	return cmd
}

func newKeysBootstrapCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap",
		Short: "Ensure the permanent bootstrap key exists and print it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := openRuntime(ctx, opts.cfg, opts.logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			k, _, err := rt.svc.Bootstrap(ctx)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), k.Token)
			return err
		},
	}
}

func newKeysMintCmd(opts *rootOptions) *cobra.Command {
	var minutes int

	cmd := &cobra.Command{
		Use:   "mint",
		Short: "Mint a time-limited key from the bootstrap key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := openRuntime(ctx, opts.cfg, opts.logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			root, _, err := rt.svc.Bootstrap(ctx)
			if err != nil {
				return err
			}
			k, err := rt.svc.RotateKey(ctx, root.Token, minutes)
			if err != nil {
				return fmt.Errorf("mint key (minutes must be 60, 1440 or 10080): %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\texpires %s\n", k.Token, k.ExpiresAt.UTC().Format(time.RFC3339))
			return err
		},
	}
	cmd.Flags().IntVar(&minutes, "minutes", 60, "key lifetime in minutes")
	return cmd
}

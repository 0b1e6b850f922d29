package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aquamarinepk/vstore/internal/app"
	"github.com/aquamarinepk/vstore/version"
)

func newBranchCmd(flags *rootFlags) *cobra.Command {
	var (
		name      string
		versionID string
		scope     string
	)
	cmd := &cobra.Command{
		Use:   "branch <entity> <id>",
		Short: "Copy a live row and its owned children into a draft version",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.withApp(cmd.Context(), func(a *app.App) error {
				if err := a.Seed(cmd.Context()); err != nil {
					return fmt.Errorf("seed: %w", err)
				}
				def, ok := a.Manager.Registry().Get(args[0])
				if !ok {
					return fmt.Errorf("unknown entity %q", args[0])
				}
				id, err := a.Manager.CreateVersion(cmd.Context(), def, args[1], version.LiveContext(scope), name, version.ID(versionID))
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]version.ID{"version_id": id})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "human readable branch name")
	cmd.Flags().StringVar(&versionID, "version-id", "", "branch id to use or extend, generated when empty")
	cmd.Flags().StringVar(&scope, "scope", "", "scope recorded on the change events")
	return cmd
}

func newMergeCmd(flags *rootFlags) *cobra.Command {
	var scope string
	cmd := &cobra.Command{
		Use:   "merge <versionID>",
		Short: "Fold a draft version into live",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.withApp(cmd.Context(), func(a *app.App) error {
				cs, err := a.Manager.Merge(cmd.Context(), version.ID(args[0]), version.LiveContext(scope))
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), cs)
			})
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "", "scope recorded on the change events")
	return cmd
}

package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leonunix/floe/internal/floe"
)

func newIndicesCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "indices",
		Short: "List the concrete indices of the family",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.withClient(func(c *floe.Client) error {
				names, err := c.Indices(cmd.Context(), root.readOptions()...)
				if err != nil {
					return err
				}
				for _, name := range names {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			})
		},
	}
}

func newDeleteIndexCmd(root *rootOptions) *cobra.Command {
	var family, yes bool

	cmd := &cobra.Command{
		Use:   "delete-index [name]",
		Short: "Delete one index, or the whole family with --family",
		Long: `Delete a single concrete index by name, or every member of the family
with --family. Deleting a family requires --yes.

Examples:
  floe delete-index events-2024.01.01
  floe delete-index --family --yes --index scratch`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case family && len(args) > 0:
				return errors.New("--family takes no index name")
			case family && !yes:
				return errors.New("refusing to delete a whole family without --yes")
			case !family && len(args) == 0:
				return errors.New("an index name is required")
			}
			return root.withClient(func(c *floe.Client) error {
				if !family {
					if err := c.DeleteIndex(cmd.Context(), args[0]); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
					return nil
				}
				deleted, err := c.DeleteFamily(cmd.Context(), root.readOptions()...)
				for _, name := range deleted {
					fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", name)
				}
				return err
			})
		},
	}

	cmd.Flags().BoolVar(&family, "family", false, "Delete every index of the family")
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm deleting a whole family")

	return cmd
}

package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/leonunix/floe/internal/floe"
)

// listOptions holds CLI flags for list.
type listOptions struct {
	field     string
	value     string
	lastDay   bool
	lastWeek  bool
	lastMonth bool
	lastHours int
	lastDays  int
}

func newListCmd(root *rootOptions) *cobra.Command {
	var opts listOptions

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print every matching document as NDJSON",
		Long: `Enumerate the index family through a scroll cursor.

At most one time window may be given; conflicting windows print nothing.

Examples:
  floe list
  floe list --field level --value error --last-hours 6`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := floe.Filter{
				Field:     opts.field,
				Value:     opts.value,
				LastDay:   opts.lastDay,
				LastWeek:  opts.lastWeek,
				LastMonth: opts.lastMonth,
				LastHours: opts.lastHours,
				LastDays:  opts.lastDays,
			}
			return root.withClient(func(c *floe.Client) error {
				docs, err := floe.List[floe.Doc](cmd.Context(), c, filter, root.readOptions()...)
				if perr := printDocs(cmd.OutOrStdout(), docs); perr != nil {
					return perr
				}
				return err
			})
		},
	}

	cmd.Flags().StringVar(&opts.field, "field", "", "Field to match")
	cmd.Flags().StringVar(&opts.value, "value", "", "Value the field must match")
	cmd.Flags().BoolVar(&opts.lastDay, "last-day", false, "Only the last 24 hours")
	cmd.Flags().BoolVar(&opts.lastWeek, "last-week", false, "Only the last 7 days")
	cmd.Flags().BoolVar(&opts.lastMonth, "last-month", false, "Only the last 31 days")
	cmd.Flags().IntVar(&opts.lastHours, "last-hours", 0, "Only the last N hours")
	cmd.Flags().IntVar(&opts.lastDays, "last-days", 0, "Only the last N days")

	return cmd
}

func newSearchCmd(root *rootOptions) *cobra.Command {
	var lastDay bool

	cmd := &cobra.Command{
		Use:   "search <field> <value>",
		Short: "Run a single match query",
		Long: `Run one match query and print up to search.max_size documents.

With --last-day the field predicate is ignored and the last 24 hours are returned.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := root.readOptions()
			if lastDay {
				opts = append(opts, floe.LastDayOnly())
			}
			return root.withClient(func(c *floe.Client) error {
				docs, err := floe.Search[floe.Doc](cmd.Context(), c, args[0], args[1], opts...)
				if err != nil {
					return err
				}
				return printDocs(cmd.OutOrStdout(), docs)
			})
		},
	}

	cmd.Flags().BoolVar(&lastDay, "last-day", false, "Return the last 24 hours instead of matching")

	return cmd
}

func newGetCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Print the document with the given ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.withClient(func(c *floe.Client) error {
				doc, found, err := floe.FindByID[floe.Doc](cmd.Context(), c, args[0], root.readOptions()...)
				if err != nil {
					return err
				}
				if !found {
					return fmt.Errorf("document %q not found", args[0])
				}
				return printDocs(cmd.OutOrStdout(), []floe.Doc{doc})
			})
		},
	}
}

func newCountCmd(root *rootOptions) *cobra.Command {
	var field, value string

	cmd := &cobra.Command{
		Use:   "count",
		Short: "Count documents in the index family",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.withClient(func(c *floe.Client) error {
				var n int64
				var err error
				if field != "" {
					n, err = c.CountMatching(cmd.Context(), field, value, root.readOptions()...)
				} else {
					n, err = c.Count(cmd.Context(), root.readOptions()...)
				}
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), n)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&field, "field", "", "Count only documents whose field matches --value")
	cmd.Flags().StringVar(&value, "value", "", "Value to match")

	return cmd
}

// printDocs writes one {"_id","_source"} object per line.
func printDocs(w io.Writer, docs []floe.Doc) error {
	enc := json.NewEncoder(w)
	for _, d := range docs {
		if err := enc.Encode(map[string]interface{}{"_id": d.ID, "_source": d.Source}); err != nil {
			return err
		}
	}
	return nil
}

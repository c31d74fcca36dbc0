package cmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/leonunix/floe/internal/floe"
)

// ingestOptions holds CLI flags for ingest.
type ingestOptions struct {
	idField         string
	allowDuplicates bool
}

func newIngestCmd(root *rootOptions) *cobra.Command {
	var opts ingestOptions

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Write newline-delimited JSON documents from stdin",
		Long: `Read one JSON object per line from stdin and write each through the
bulk buffer. Remaining documents are flushed before exit.

Examples:
  floe ingest < events.ndjson
  floe ingest --id-field request_id --index audit < audit.ndjson`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var writeOpts []floe.WriteOption
			if root.index != "" {
				writeOpts = append(writeOpts, floe.ToIndex(root.index))
			}
			if opts.allowDuplicates {
				writeOpts = append(writeOpts, floe.AllowDuplicates())
			}
			return root.withClient(func(c *floe.Client) error {
				n, err := ingest(cmd.Context(), c, cmd.InOrStdin(), opts.idField, writeOpts)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "ingested %d documents\n", n)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&opts.idField, "id-field", "", "Top-level field whose value becomes the document ID")
	cmd.Flags().BoolVar(&opts.allowDuplicates, "allow-duplicates", false, "Submit identical documents separately")

	return cmd
}

func ingest(ctx context.Context, c *floe.Client, r io.Reader, idField string, opts []floe.WriteOption) (int, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16<<20)

	n, line := 0, 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		if !json.Valid(raw) {
			return n, fmt.Errorf("line %d: invalid JSON", line)
		}
		doc := floe.Doc{Source: append(json.RawMessage(nil), raw...)}
		if idField != "" {
			id, err := extractID(raw, idField)
			if err != nil {
				return n, fmt.Errorf("line %d: %w", line, err)
			}
			doc.ID = id
		}
		if err := c.Write(ctx, doc, opts...); err != nil {
			return n, err
		}
		n++
	}
	if err := sc.Err(); err != nil {
		return n, fmt.Errorf("reading input: %w", err)
	}
	if err := c.FlushRemaining(ctx, opts...); err != nil {
		return n, err
	}
	return n, nil
}

// extractID returns the string or number stored in field.
func extractID(raw []byte, field string) (string, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", fmt.Errorf("document is not an object: %w", err)
	}
	v, ok := obj[field]
	if !ok {
		return "", fmt.Errorf("missing id field %q", field)
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s, nil
	}
	var num json.Number
	if err := json.Unmarshal(v, &num); err == nil {
		return num.String(), nil
	}
	return "", fmt.Errorf("id field %q must be a string or number", field)
}

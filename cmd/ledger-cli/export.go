package main

import (
	"fmt"
	"os"
	"strings"

	"lendledger/core/events"
	"lendledger/integrations/exports"
	"lendledger/services/ledgerd/client"
)

const exportPageSize = 500

func (c *cli) runExport(args []string) int {
	fs := c.newFlagSet("export")
	var q client.EventQuery
	var format, out string
	c.eventFlags(fs, &q)
	fs.StringVar(&format, "format", "csv", "export format: csv or jsonl")
	fs.StringVar(&out, "out", "", "write the export to this file instead of stdout")
	if !c.parse(fs, args) {
		return 1
	}
	format = strings.ToLower(strings.TrimSpace(format))
	if format != "csv" && format != "jsonl" {
		fmt.Fprintf(c.stderr, "Error: unsupported format %q\n", format)
		return 1
	}

	api, err := c.apiClient(false)
	if err != nil {
		return c.fail(err)
	}
	records, err := c.collectEvents(api, q)
	if err != nil {
		return c.fail(err)
	}

	var (
		data     []byte
		checksum string
	)
	if format == "jsonl" {
		data, checksum, err = exports.EventsJSONL(records)
	} else {
		data, checksum, err = exports.EventsCSV(records)
	}
	if err != nil {
		return c.fail(fmt.Errorf("export: %w", err))
	}

	if out = strings.TrimSpace(out); out != "" {
		if err := os.WriteFile(out, data, 0o644); err != nil {
			return c.fail(fmt.Errorf("write export: %w", err))
		}
	} else if _, err := c.stdout.Write(data); err != nil {
		return c.fail(err)
	}
	fmt.Fprintf(c.stderr, "exported %d events, sha256=%s\n", len(records), checksum)
	return 0
}

// collectEvents pages through the journal until a short page is returned or
// the caller's limit is reached.
func (c *cli) collectEvents(api *client.Client, q client.EventQuery) ([]events.Record, error) {
	remaining := q.Limit
	var out []events.Record
	for {
		page := q
		page.Limit = exportPageSize
		if remaining > 0 && remaining < page.Limit {
			page.Limit = remaining
		}
		ctx, cancel := c.requestContext()
		view, err := api.Events(ctx, page)
		cancel()
		if err != nil {
			return nil, err
		}
		out = append(out, view.Events...)
		if remaining > 0 {
			remaining -= len(view.Events)
			if remaining <= 0 {
				return out, nil
			}
		}
		if len(view.Events) < page.Limit {
			return out, nil
		}
		q.After = view.Events[len(view.Events)-1].Sequence
	}
}

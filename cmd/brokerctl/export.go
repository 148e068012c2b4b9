package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"brokerchain/indexer"
	"brokerchain/integrations/exports"
	"brokerchain/storage"
)

const exportPage = 500

func newExportCmd(opts *globalOptions) *cobra.Command {
	var (
		format  string
		out     string
		from    uint64
		driver  string
		dsn     string
		evtType string
		account string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export published events as csv, jsonl or parquet",
		Long: "csv and jsonl read the journal over RPC. parquet reads an indexer database " +
			"given by --driver and --dsn.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" {
				return fmt.Errorf("--out is required")
			}
			switch format {
			case "parquet":
				if dsn == "" {
					return fmt.Errorf("--dsn is required for parquet exports")
				}
				db, err := indexer.Open(driver, dsn)
				if err != nil {
					return err
				}
				n, err := indexer.New(db, nil).ExportParquet(context.Background(), out, indexer.Filter{
					Type:     evtType,
					Account:  account,
					AfterSeq: saturatingPrev(from),
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(opts.out, "wrote %d events to %s\n", n, out)
				return nil
			case "csv", "jsonl":
				entries, err := fetchJournal(newClient(opts), from)
				if err != nil {
					return err
				}
				var data []byte
				var checksum string
				if format == "csv" {
					data, checksum, err = exports.EventsCSV(entries)
				} else {
					data, checksum, err = exports.EventsJSONL(entries)
				}
				if err != nil {
					return err
				}
				if err := os.WriteFile(out, data, 0o644); err != nil {
					return err
				}
				fmt.Fprintf(opts.out, "wrote %d events to %s sha256=%s\n", len(entries), out, checksum)
				return nil
			default:
				return fmt.Errorf("unknown format %q", format)
			}
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&format, "format", "csv", "csv, jsonl or parquet")
	flags.StringVarP(&out, "out", "o", "", "output file")
	flags.Uint64Var(&from, "from", 1, "first sequence number")
	flags.StringVar(&driver, "driver", "sqlite", "indexer driver for parquet exports")
	flags.StringVar(&dsn, "dsn", "", "indexer DSN for parquet exports")
	flags.StringVar(&evtType, "type", "", "event type filter for parquet exports")
	flags.StringVar(&account, "account", "", "account filter for parquet exports")
	return cmd
}

func saturatingPrev(seq uint64) uint64 {
	if seq == 0 {
		return 0
	}
	return seq - 1
}

type eventsPage struct {
	Head   uint64                 `json:"head"`
	Events []storage.JournalEntry `json:"events"`
}

// fetchJournal pages through broker_events until the head captured by the
// first page.
func fetchJournal(c *client, from uint64) ([]storage.JournalEntry, error) {
	if from == 0 {
		from = 1
	}
	var (
		out  []storage.JournalEntry
		head uint64
	)
	for {
		params, err := parseArgs([]string{fmt.Sprint(from), fmt.Sprint(exportPage)})
		if err != nil {
			return nil, err
		}
		raw, err := c.query("broker_events", params)
		if err != nil {
			return nil, err
		}
		var page eventsPage
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, fmt.Errorf("decode events page: %w", err)
		}
		if head == 0 {
			head = page.Head
		}
		for _, entry := range page.Events {
			if entry.Seq > head {
				return out, nil
			}
			out = append(out, entry)
			from = entry.Seq + 1
		}
		if len(page.Events) < exportPage || from > head {
			return out, nil
		}
	}
}

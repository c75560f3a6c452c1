package main

import (
	"fmt"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/brojonat/memofeed/service/feed"
	"github.com/urfave/cli/v2"
)

// newLoader builds the feed loader for a command. Tests replace it.
var newLoader = func(c *cli.Context, logger *slog.Logger) (feed.Loader, error) {
	ledger, err := newLedger(c, logger)
	if err != nil {
		return nil, err
	}
	id, err := programID(c)
	if err != nil {
		return nil, err
	}
	return feed.NewAssembler(ledger, ledger, id, c.Int("signature-limit"), nil, logger), nil
}

func feedListCommand() *cli.Command {
	return &cli.Command{
		Name:      "list",
		Usage:     "Print one filtered page of an account's memos",
		Aliases:   []string{"ls"},
		ArgsUsage: "<address>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "search",
				Aliases: []string{"s"},
				Usage:   "Case-insensitive substring to match in memo content",
			},
			&cli.StringFlag{
				Name:  "start",
				Usage: "Earliest block time (YYYY-MM-DD or RFC3339)",
			},
			&cli.StringFlag{
				Name:  "end",
				Usage: "Latest block time (YYYY-MM-DD or RFC3339)",
			},
			&cli.IntFlag{
				Name:  "page",
				Usage: "Page number (1-based)",
				Value: 1,
			},
			&cli.IntFlag{
				Name:  "page-size",
				Usage: "Memos per page",
				Value: feed.DefaultPageSize,
			},
			&cli.StringSliceFlag{
				Name:  "must-jq",
				Usage: "jq filter a memo must satisfy (repeatable)",
			},
		},
		Action: func(c *cli.Context) error {
			account, err := parseAccount(c)
			if err != nil {
				return err
			}
			dates, err := feed.ParseDateRange(c.String("start"), c.String("end"))
			if err != nil {
				return err
			}
			match, err := feed.CompileJQ(c.StringSlice("must-jq"))
			if err != nil {
				return err
			}
			if c.Int("page-size") < 1 {
				return fmt.Errorf("page-size must be at least 1")
			}

			logger := newLogger(c)
			loader, err := newLoader(c, logger)
			if err != nil {
				return err
			}

			memos, err := loader.Assemble(c.Context, account)
			if err != nil {
				return fmt.Errorf("failed to load feed: %s", feed.Message(err))
			}

			q := feed.Query{
				SearchTerm: c.String("search"),
				DateRange:  dates,
				Page:       c.Int("page"),
				PageSize:   c.Int("page-size"),
				Match:      match,
			}
			total := feed.TotalPages(len(feed.Filter(memos, q)), q.PageSize)
			if q.Page < 1 || q.Page > total {
				return fmt.Errorf("page %d out of range (1-%d)", q.Page, total)
			}
			page := feed.Derive(memos, q)

			out := c.App.Writer
			if c.Bool("json") {
				return outputJSON(out, page)
			}

			if len(page.Memos) == 0 {
				fmt.Fprintln(out, "No memos found.")
				return nil
			}

			// Pretty table output
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "BLOCK TIME\tSIGNATURE\tMEMO")
			for _, m := range page.Memos {
				fmt.Fprintf(w, "%s\t%s\t%s\n",
					m.Time().UTC().Format(time.RFC3339),
					shortSignature(m.ID),
					m.Content,
				)
			}
			w.Flush()

			fmt.Fprintf(c.App.ErrWriter, "\nPage %d of %d (%d matching memos)\n", page.CurrentPage, page.TotalPages, page.Total)
			return nil
		},
	}
}

func feedBrowseCommand() *cli.Command {
	return &cli.Command{
		Name:      "browse",
		Usage:     "Interactively search and page through an account's memos",
		ArgsUsage: "<address>",
		Description: `Loads the feed once and then reads commands from stdin:

  /TERM      search memo content (a bare / clears the search)
  from DATE  only memos on or after DATE (no DATE clears)
  to DATE    only memos on or before DATE (no DATE clears)
  n, p       next or previous page
  g N        go to page N
  r          reload the feed
  q          quit`,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "page-size",
				Usage: "Memos per page",
				Value: feed.DefaultPageSize,
			},
			&cli.DurationFlag{
				Name:  "debounce",
				Usage: "Quiet period before a search term applies",
				Value: feed.DefaultSearchDebounce,
			},
			&cli.BoolFlag{
				Name:  "reset-page",
				Usage: "Return to page one whenever a filter changes",
			},
		},
		Action: func(c *cli.Context) error {
			account, err := parseAccount(c)
			if err != nil {
				return err
			}
			logger := newLogger(c)
			loader, err := newLoader(c, logger)
			if err != nil {
				return err
			}

			b := newBrowser(loader, feed.SessionOptions{
				PageSize:                c.Int("page-size"),
				SearchDebounce:          c.Duration("debounce"),
				ResetPageOnFilterChange: c.Bool("reset-page"),
			}, c.String("network"), c.App.Writer, logger)
			defer b.session.Close()

			return b.run(c.Context, account, c.App.Reader)
		},
	}
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/brojonat/memofeed/client"
	natspkg "github.com/brojonat/memofeed/service/nats"
	"github.com/urfave/cli/v2"
)

func clientCommands() *cli.Command {
	return &cli.Command{
		Name:  "client",
		Usage: "HTTP client commands for interacting with the memofeed server",
		Subcommands: []*cli.Command{
			clientListCommand(),
			clientRefreshCommand(),
			clientSubmitCommand(),
			clientStreamCommand(),
			clientAwaitCommand(),
		},
	}
}

func newHTTPClient(c *cli.Context, timeout time.Duration) *client.Client {
	return client.NewClient(c.String("server-url"), &http.Client{Timeout: timeout}, newLogger(c))
}

func clientListCommand() *cli.Command {
	return &cli.Command{
		Name:      "list",
		Usage:     "Fetch one page of an account's feed from the server",
		Aliases:   []string{"ls"},
		ArgsUsage: "<address>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "search", Aliases: []string{"s"}, Usage: "Case-insensitive content search"},
			&cli.StringFlag{Name: "start", Usage: "Earliest block time (YYYY-MM-DD or RFC3339)"},
			&cli.StringFlag{Name: "end", Usage: "Latest block time (YYYY-MM-DD or RFC3339)"},
			&cli.IntFlag{Name: "page", Usage: "Page number (1-based)"},
			&cli.IntFlag{Name: "page-size", Usage: "Memos per page (server default when unset)"},
			&cli.StringSliceFlag{Name: "must-jq", Usage: "jq filter a memo must satisfy (repeatable)"},
			&cli.DurationFlag{
				Name:  "poll",
				Usage: "How often to retry while the server is still loading the feed",
				Value: time.Second,
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Usage:   "How long to wait for the feed",
				Value:   2 * time.Minute,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: account address")
			}
			address := c.Args().First()

			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()

			cl := newHTTPClient(c, 30*time.Second)
			page, err := cl.WaitFeed(ctx, address, client.FeedQuery{
				Search:   c.String("search"),
				Start:    c.String("start"),
				End:      c.String("end"),
				Page:     c.Int("page"),
				PageSize: c.Int("page-size"),
				JQ:       c.StringSlice("must-jq"),
			}, c.Duration("poll"))
			if err != nil {
				return fmt.Errorf("failed to fetch feed: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, page)
			}

			if len(page.Memos) == 0 {
				fmt.Fprintln(c.App.Writer, "No memos found.")
				return nil
			}

			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "BLOCK TIME\tSIGNATURE\tMEMO")
			for _, m := range page.Memos {
				fmt.Fprintf(w, "%s\t%s\t%s\n", m.BlockTime.Format(time.RFC3339), shortSignature(m.Signature), m.Content)
			}
			w.Flush()

			fmt.Fprintf(c.App.ErrWriter, "\nPage %d of %d (%d matching memos)\n", page.CurrentPage, page.TotalPages, page.Total)
			return nil
		},
	}
}

func clientRefreshCommand() *cli.Command {
	return &cli.Command{
		Name:      "refresh",
		Usage:     "Ask the server to reload an account's feed",
		ArgsUsage: "<address>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: account address")
			}
			address := c.Args().First()
			if err := newHTTPClient(c, 10*time.Second).Refresh(c.Context, address); err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "✓ Refresh started for %s\n", address)
			return nil
		},
	}
}

func clientSubmitCommand() *cli.Command {
	return &cli.Command{
		Name:      "submit",
		Usage:     "Submit a memo with the server's wallet",
		ArgsUsage: "<memo text>",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Usage:   "How long to wait for confirmation",
				Value:   2 * time.Minute,
			},
		},
		Action: func(c *cli.Context) error {
			text := strings.Join(c.Args().Slice(), " ")

			// Add buffer beyond the server's own confirmation wait
			cl := newHTTPClient(c, c.Duration("timeout")+30*time.Second)
			result, err := cl.SubmitMemo(c.Context, text)
			if errors.Is(err, client.ErrSubmissionPending) {
				return fmt.Errorf("the server is already submitting a memo, try again shortly")
			}
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, result)
			}
			fmt.Fprintf(c.App.Writer, "✓ Memo confirmed\n")
			fmt.Fprintf(c.App.Writer, "  Signature: %s\n", result.Signature)
			fmt.Fprintf(c.App.Writer, "  Explorer:  %s\n", result.ExplorerURL)
			return nil
		},
	}
}

func clientStreamCommand() *cli.Command {
	return &cli.Command{
		Name:      "stream",
		Usage:     "Stream memo events via SSE (HTTP)",
		ArgsUsage: "[address]",
		Action: func(c *cli.Context) error {
			address := c.Args().First()
			jsonOutput := c.Bool("json")

			ctx, cancel := interruptContext(c.Context)
			defer cancel()

			if !jsonOutput {
				if address != "" {
					fmt.Fprintf(c.App.ErrWriter, "Streaming memos for %s... (Ctrl+C to stop)\n\n", address)
				} else {
					fmt.Fprintf(c.App.ErrWriter, "Streaming memos for all accounts... (Ctrl+C to stop)\n\n")
				}
			}

			// No timeout for streaming
			cl := client.NewClient(c.String("server-url"), &http.Client{}, newLogger(c))
			err := cl.Stream(ctx, address, func(ev *natspkg.MemoEvent) error {
				return printEvent(c.App.Writer, ev, jsonOutput)
			})
			if err != nil && ctx.Err() != nil {
				if !jsonOutput {
					fmt.Fprintf(c.App.ErrWriter, "\nDisconnected\n")
				}
				return nil
			}
			return err
		},
	}
}

func clientAwaitCommand() *cli.Command {
	return &cli.Command{
		Name:      "await",
		Usage:     "Block until a memo matching criteria arrives for an account",
		ArgsUsage: "<address>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "contains",
				Usage: "Substring the memo content must contain",
			},
			&cli.StringFlag{
				Name:  "signature",
				Usage: "Exact transaction signature",
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Value:   5 * time.Minute,
				Usage:   "How long to wait for the memo",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: account address")
			}
			address := c.Args().First()
			contains := c.String("contains")
			signature := c.String("signature")
			if contains == "" && signature == "" {
				return fmt.Errorf("must specify --contains or --signature")
			}

			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()

			if !c.Bool("json") {
				fmt.Fprintf(c.App.ErrWriter, "Waiting for memo on %s (timeout %s)...\n", address, c.Duration("timeout"))
			}

			cl := client.NewClient(c.String("server-url"), &http.Client{}, newLogger(c))
			ev, err := cl.Await(ctx, address, func(ev *natspkg.MemoEvent) bool {
				if signature != "" && ev.Signature != signature {
					return false
				}
				return contains == "" || strings.Contains(ev.Content, contains)
			})
			if err != nil {
				if ctx.Err() != nil {
					return fmt.Errorf("timed out waiting for memo")
				}
				return err
			}
			return printEvent(c.App.Writer, ev, c.Bool("json"))
		},
	}
}

// interruptContext is cancelled on Ctrl+C or SIGTERM.
func interruptContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()
	return ctx, cancel
}

func printEvent(w io.Writer, ev *natspkg.MemoEvent, jsonOutput bool) error {
	if jsonOutput {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, string(data))
		return nil
	}
	fmt.Fprintln(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Fprintf(w, "Signature:  %s\n", ev.Signature)
	fmt.Fprintf(w, "Account:    %s\n", ev.Account)
	fmt.Fprintf(w, "Memo:       %s\n", ev.Content)
	if ev.Timestamp > 0 {
		fmt.Fprintf(w, "Block Time: %s\n", time.Unix(ev.Timestamp, 0).UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(w, "Source:     %s (%s)\n", ev.Source, ev.Network)
	fmt.Fprintf(w, "Published:  %s\n", ev.PublishedAt.Format(time.RFC3339))
	fmt.Fprintln(w)
	return nil
}

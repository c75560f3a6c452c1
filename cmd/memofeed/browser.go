package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/memofeed/service/feed"
	"github.com/brojonat/memofeed/service/solana"
	solanago "github.com/gagliardetto/solana-go"
)

const browseHelp = `Commands:
  /TERM      search memo content (a bare / clears the search)
  from DATE  only memos on or after DATE (no DATE clears)
  to DATE    only memos on or before DATE (no DATE clears)
  n, p       next or previous page
  g N        go to page N
  r          reload the feed
  q          quit
`

// browser drives a feed session from line-oriented input.
type browser struct {
	session *feed.Session
	changed chan struct{}
	network string
	out     io.Writer

	start, end string
}

func newBrowser(loader feed.Loader, opts feed.SessionOptions, network string, out io.Writer, logger *slog.Logger) *browser {
	b := &browser{
		changed: make(chan struct{}, 1),
		network: network,
		out:     out,
	}
	opts.OnChange = func(feed.Snapshot) {
		select {
		case b.changed <- struct{}{}:
		default:
		}
	}
	b.session = feed.NewSession(loader, opts, logger)
	return b
}

// run loads the account's feed and then executes one command per input
// line until q, end of input, or ctx is done.
func (b *browser) run(ctx context.Context, account solanago.PublicKey, in io.Reader) error {
	b.load(ctx, account)
	b.render()

	scanner := bufio.NewScanner(in)
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		fmt.Fprint(b.out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(b.out)
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "q", "quit", "exit":
			return nil
		case "h", "help", "?":
			fmt.Fprint(b.out, browseHelp)
			continue
		}

		if err := b.exec(ctx, account, line); err != nil {
			fmt.Fprintf(b.out, "Error: %v\n", err)
			continue
		}
		b.render()
	}
}

func (b *browser) exec(ctx context.Context, account solanago.PublicKey, line string) error {
	if strings.HasPrefix(line, "/") {
		return b.search(ctx, strings.TrimSpace(line[1:]))
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "":
		return nil
	case "n", "next":
		if !b.session.NextPage() {
			return fmt.Errorf("already on the last page")
		}
	case "p", "prev":
		if !b.session.PrevPage() {
			return fmt.Errorf("already on the first page")
		}
	case "g", "goto":
		n, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("invalid page number %q", arg)
		}
		if err := b.session.SetPage(n); err != nil {
			return fmt.Errorf("page %d out of range (1-%d)", n, b.session.Snapshot().Page.TotalPages)
		}
	case "from":
		return b.setDates(arg, b.end)
	case "to":
		return b.setDates(b.start, arg)
	case "r", "reload":
		b.load(ctx, account)
	default:
		return fmt.Errorf("unknown command %q (h for help)", cmd)
	}
	return nil
}

// search sets the term and waits for the debounced filter to pick it up.
func (b *browser) search(ctx context.Context, term string) error {
	b.session.SetSearchTerm(term)
	for b.session.Snapshot().SearchTerm != term {
		select {
		case <-b.changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (b *browser) setDates(start, end string) error {
	r, err := feed.ParseDateRange(start, end)
	if err != nil {
		return err
	}
	b.start, b.end = start, end
	b.session.SetDateRange(r)
	return nil
}

func (b *browser) load(ctx context.Context, account solanago.PublicKey) {
	fmt.Fprintf(b.out, "Loading memos for %s...\n", account)
	// The session keeps the error for render.
	_ = b.session.Load(ctx, account)
}

func (b *browser) render() {
	snap := b.session.Snapshot()
	switch snap.Status {
	case feed.StatusError:
		fmt.Fprintf(b.out, "Error: %s\n", snap.Error)
		return
	case feed.StatusIdle, feed.StatusLoading:
		fmt.Fprintln(b.out, "Loading...")
		return
	}

	fmt.Fprintf(b.out, "\nPage %d of %d (%d memos)", snap.Page.CurrentPage, snap.Page.TotalPages, snap.Page.Total)
	var filters []string
	if snap.SearchTerm != "" {
		filters = append(filters, fmt.Sprintf("search %q", snap.SearchTerm))
	}
	if b.start != "" {
		filters = append(filters, "from "+b.start)
	}
	if b.end != "" {
		filters = append(filters, "to "+b.end)
	}
	if len(filters) > 0 {
		fmt.Fprintf(b.out, " [%s]", strings.Join(filters, ", "))
	}
	fmt.Fprintln(b.out)

	if len(snap.Page.Memos) == 0 {
		fmt.Fprintln(b.out, "No memos found.")
		return
	}
	for _, m := range snap.Page.Memos {
		fmt.Fprintf(b.out, "%s  %s\n", m.Time().UTC().Format(time.RFC3339), m.Content)
		fmt.Fprintf(b.out, "    %s\n", solana.ExplorerURL(m.ID, b.network))
	}
}

package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/brojonat/memofeed/service/db"
	"github.com/brojonat/memofeed/service/temporal"
	"github.com/urfave/cli/v2"
)

func archiveListCommand() *cli.Command {
	return &cli.Command{
		Name:      "list",
		Usage:     "List archived memos for an account",
		Aliases:   []string{"ls"},
		ArgsUsage: "<address>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"l"},
				Usage:   "Maximum number of memos to show",
				Value:   20,
			},
			&cli.IntFlag{
				Name:  "offset",
				Usage: "Number of memos to skip",
			},
		},
		Action: func(c *cli.Context) error {
			account, err := parseAccount(c)
			if err != nil {
				return err
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			ctx := context.Background()
			network := c.String("network")
			memos, err := store.ListMemos(ctx, account.String(), network, int32(c.Int("limit")), int32(c.Int("offset")))
			if err != nil {
				return fmt.Errorf("failed to list memos: %w", err)
			}
			total, err := store.CountMemos(ctx, account.String(), network)
			if err != nil {
				return fmt.Errorf("failed to count memos: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, memos)
			}

			// Pretty table output
			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "BLOCK TIME\tSIGNATURE\tMEMO\tARCHIVED")
			for _, m := range memos {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					m.Time().UTC().Format(time.RFC3339),
					shortSignature(m.ID),
					m.Content,
					m.ArchivedAt.Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Fprintf(c.App.ErrWriter, "\nShowing %d of %d archived memos\n", len(memos), total)
			return nil
		},
	}
}

func archiveScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:      "schedule",
		Usage:     "Create, update or delete the periodic archive schedule for an account",
		ArgsUsage: "<address>",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:    "interval",
				Aliases: []string{"i"},
				Usage:   "How often to archive the account's feed",
				Value:   5 * time.Minute,
			},
			&cli.BoolFlag{
				Name:  "delete",
				Usage: "Delete the schedule instead of creating it",
			},
		},
		Action: func(c *cli.Context) error {
			account, err := parseAccount(c)
			if err != nil {
				return err
			}
			interval := c.Duration("interval")
			if interval < time.Minute || interval > 24*time.Hour {
				return fmt.Errorf("interval must be between 1m and 24h, got %s", interval)
			}

			temporalClient, err := temporal.NewClient(
				c.String("temporal-host"),
				c.String("temporal-namespace"),
				c.String("temporal-task-queue"),
				newLogger(c),
			)
			if err != nil {
				return fmt.Errorf("failed to connect to temporal: %w", err)
			}
			defer temporalClient.Close()

			ctx := context.Background()
			network := c.String("network")
			if c.Bool("delete") {
				if err := temporalClient.DeleteArchiveSchedule(ctx, account.String(), network); err != nil {
					return err
				}
				fmt.Fprintf(c.App.Writer, "✓ Deleted archive schedule for %s (%s)\n", account, network)
				return nil
			}

			if err := temporalClient.UpsertArchiveSchedule(ctx, account.String(), network, interval); err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "✓ Archiving %s (%s) every %s\n", account, network, interval)
			return nil
		},
	}
}

// Helper function to connect to database
func getStore(c *cli.Context) (*db.Store, func(), error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		// Try environment variable directly if flag not found
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	pool, err := db.Open(context.Background(), dbURL)
	if err != nil {
		return nil, nil, err
	}

	store := db.NewStore(pool, nil)
	closer := func() { pool.Close() }

	return store, closer, nil
}


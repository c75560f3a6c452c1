package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	natspkg "github.com/brojonat/memofeed/service/nats"
	"github.com/brojonat/memofeed/service/solana"
	"github.com/brojonat/memofeed/service/submit"
	"github.com/brojonat/memofeed/service/wallet"
	"github.com/urfave/cli/v2"
)

// newSubmitLedger builds the ledger memo submissions go through. Tests replace it.
var newSubmitLedger = func(c *cli.Context, logger *slog.Logger) (submit.Ledger, error) {
	ledger, err := newLedger(c, logger)
	if err != nil {
		return nil, err
	}
	return ledger.WithConfirmPollInterval(c.Duration("confirm-poll-interval")), nil
}

func memoSubmitCommand() *cli.Command {
	return &cli.Command{
		Name:      "submit",
		Usage:     "Sign and send a memo, then wait for confirmation",
		ArgsUsage: "<memo text>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "keypair",
				Aliases:  []string{"k"},
				Usage:    "Path to a solana-keygen JSON keypair",
				EnvVars:  []string{"WALLET_KEYPAIR_PATH"},
				Required: true,
			},
			&cli.DurationFlag{
				Name:    "confirm-poll-interval",
				Usage:   "How often to poll for confirmation",
				EnvVars: []string{"CONFIRM_POLL_INTERVAL"},
				Value:   time.Second,
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Give up waiting after this long",
				Value: 2 * time.Minute,
			},
			&cli.BoolFlag{
				Name:  "publish",
				Usage: "Publish the confirmed memo to NATS",
			},
		},
		Action: func(c *cli.Context) error {
			text := strings.Join(c.Args().Slice(), " ")
			logger := newLogger(c)

			w, err := wallet.LoadKeypair(c.String("keypair"))
			if err != nil {
				return err
			}
			ledger, err := newSubmitLedger(c, logger)
			if err != nil {
				return err
			}
			id, err := programID(c)
			if err != nil {
				return err
			}

			network := c.String("network")
			pipeline := submit.NewPipeline(ledger, w, id, network, nil, logger)

			if c.Bool("publish") {
				publisher, err := natspkg.NewPublisher(c.String("nats-url"), nil, logger)
				if err != nil {
					return fmt.Errorf("failed to connect to NATS: %w", err)
				}
				defer publisher.Close()
				pipeline.OnConfirmed(func(ctx context.Context, r submit.Receipt) {
					event := natspkg.FromMemo(r.Account, r.Network, natspkg.SourceSubmitted, solana.Memo{
						ID:        r.Signature,
						Content:   r.Content,
						Timestamp: r.ConfirmedAt.Unix(),
					})
					if err := publisher.PublishMemo(ctx, event); err != nil {
						logger.Warn("failed to publish memo", "signature", r.Signature, "error", err)
					}
				})
			}

			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()

			if _, err := pipeline.Submit(ctx, text); err != nil {
				return fmt.Errorf("failed to submit memo: %s", submit.Message(err))
			}

			snap := pipeline.Snapshot()
			if c.Bool("json") {
				return outputJSON(c.App.Writer, snap)
			}
			fmt.Fprintf(c.App.Writer, "✓ Memo confirmed\n")
			fmt.Fprintf(c.App.Writer, "  Signature: %s\n", snap.TxSignature)
			fmt.Fprintf(c.App.Writer, "  Explorer:  %s\n", snap.ExplorerURL)
			return nil
		},
	}
}

func memoLinkCommand() *cli.Command {
	return &cli.Command{
		Name:      "link",
		Usage:     "Print the explorer URL for a transaction signature",
		ArgsUsage: "<signature>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: transaction signature")
			}
			link := solana.ExplorerURL(c.Args().First(), c.String("network"))
			if link == "" {
				return fmt.Errorf("signature is required")
			}
			fmt.Fprintln(c.App.Writer, link)
			return nil
		},
	}
}

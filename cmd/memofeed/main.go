package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/brojonat/memofeed/service/solana"
	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "memofeed",
		Usage: "Solana memo feed and submission CLI",
		Description: `A command-line tool for reading and writing Solana memos.

Use this CLI to browse an account's memo feed straight from RPC, submit memos,
talk to a running memofeed server, and inspect the archive.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			// Feed commands (direct RPC)
			{
				Name:  "feed",
				Usage: "Read an account's memo feed from RPC",
				Subcommands: []*cli.Command{
					feedListCommand(),
					feedBrowseCommand(),
				},
			},
			// Memo submission commands
			{
				Name:  "memo",
				Usage: "Submit memos and build explorer links",
				Subcommands: []*cli.Command{
					memoSubmitCommand(),
					memoLinkCommand(),
				},
			},
			// Client commands (HTTP API)
			clientCommands(),
			// Archive inspection and scheduling commands
			{
				Name:  "archive",
				Usage: "Archive inspection and scheduling commands",
				Subcommands: []*cli.Command{
					archiveListCommand(),
					archiveScheduleCommand(),
				},
			},
			// NATS memo event commands
			{
				Name:  "events",
				Usage: "NATS memo event commands",
				Subcommands: []*cli.Command{
					subscribeCommand(),
					inspectStreamCommand(),
				},
			},
			// Server utility commands
			{
				Name:  "server",
				Usage: "Server utility commands",
				Subcommands: []*cli.Command{
					healthCommand(),
					versionCommand(),
				},
			},
		},
		// Global flags available to all commands
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "rpc-url",
				Usage:   "Solana RPC URL (defaults to the network's public endpoint)",
				EnvVars: []string{"SOLANA_RPC_URL"},
			},
			&cli.StringFlag{
				Name:    "network",
				Usage:   "Solana network (mainnet-beta, devnet, testnet, localnet)",
				EnvVars: []string{"SOLANA_NETWORK"},
				Value:   solana.NetworkDevnet,
			},
			&cli.StringFlag{
				Name:    "program-id",
				Usage:   "Memo program ID",
				EnvVars: []string{"MEMO_PROGRAM_ID"},
				Value:   solana.MemoProgramIDSPL.String(),
			},
			&cli.IntFlag{
				Name:    "signature-limit",
				Usage:   "Number of recent signatures to scan",
				EnvVars: []string{"SIGNATURE_LIMIT"},
				Value:   solana.DefaultSignatureLimit,
			},
			&cli.DurationFlag{
				Name:    "fetch-delay",
				Usage:   "Delay between transaction fetches",
				EnvVars: []string{"FETCH_DELAY"},
				Value:   400 * time.Millisecond,
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL",
				EnvVars: []string{"DATABASE_URL"},
			},
			&cli.StringFlag{
				Name:    "temporal-host",
				Usage:   "Temporal server address",
				EnvVars: []string{"TEMPORAL_HOST"},
				Value:   "localhost:7233",
			},
			&cli.StringFlag{
				Name:    "temporal-namespace",
				Usage:   "Temporal namespace",
				EnvVars: []string{"TEMPORAL_NAMESPACE"},
				Value:   "default",
			},
			&cli.StringFlag{
				Name:    "temporal-task-queue",
				Usage:   "Temporal task queue for archive workflows",
				EnvVars: []string{"TEMPORAL_TASK_QUEUE"},
				Value:   "memofeed-archive",
			},
			&cli.StringFlag{
				Name:    "server-url",
				Usage:   "memofeed server URL",
				EnvVars: []string{"MEMOFEED_SERVER_URL", "SERVER_URL"},
				Value:   "http://localhost:8080",
			},
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL",
				EnvVars: []string{"NATS_URL"},
				Value:   "nats://localhost:4222",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"LOG_LEVEL"},
				Value:   "error",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
		},
	}
}

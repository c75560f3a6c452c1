package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/brojonat/memofeed/service/config"
	"github.com/brojonat/memofeed/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/urfave/cli/v2"
)

// newLogger writes human-readable logs to stderr so stdout stays clean for output.
func newLogger(c *cli.Context) *slog.Logger {
	level, err := config.ParseLogLevel(c.String("log-level"))
	if err != nil {
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// newLedger connects to the configured RPC endpoint.
func newLedger(c *cli.Context, logger *slog.Logger) (*solana.Client, error) {
	rpcURL := c.String("rpc-url")
	if rpcURL == "" {
		clusterURL, ok := solana.ClusterRPCURL(c.String("network"))
		if !ok {
			return nil, fmt.Errorf("unknown network %q (set --rpc-url for custom clusters)", c.String("network"))
		}
		rpcURL = clusterURL
	}
	client := solana.NewClient(solana.NewRPCClient(rpcURL), solana.EndpointLabel(rpcURL), nil, logger).
		WithFetchDelay(c.Duration("fetch-delay"))
	return client, nil
}

func programID(c *cli.Context) (solanago.PublicKey, error) {
	id, err := solana.ParseProgramID(c.String("program-id"))
	if err != nil {
		return solanago.PublicKey{}, fmt.Errorf("invalid program-id: %w", err)
	}
	return id, nil
}

func parseAccount(c *cli.Context) (solanago.PublicKey, error) {
	if c.NArg() != 1 {
		return solanago.PublicKey{}, fmt.Errorf("requires exactly one argument: account address")
	}
	account, err := solanago.PublicKeyFromBase58(c.Args().First())
	if err != nil {
		return solanago.PublicKey{}, fmt.Errorf("invalid account address %q: %w", c.Args().First(), err)
	}
	return account, nil
}

// Helper function to output JSON
func outputJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// shortSignature keeps table rows readable.
func shortSignature(sig string) string {
	if len(sig) <= 16 {
		return sig
	}
	return sig[:8] + "…" + sig[len(sig)-8:]
}

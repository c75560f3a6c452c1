package solana

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"math/big"
	"net/url"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// realRPCClient adapts the actual solana-go RPC client to our RPCClient interface.
// This adapter allows us to control the interface and makes testing easier.
type realRPCClient struct {
	client *rpc.Client
}

// NewRPCClient creates a new RPCClient that wraps the solana-go RPC client.
// For premium RPC endpoints that require API keys, include the key in the URL:
// - Helius: https://mainnet.helius-rpc.com/?api-key=YOUR-KEY
// - QuickNode: https://YOUR-ENDPOINT.quiknode.pro/YOUR-KEY/
func NewRPCClient(rpcURL string) RPCClient {
	return &realRPCClient{
		client: rpc.New(rpcURL),
	}
}

// SelectRandomEndpoint picks one endpoint from the configured list so that
// multiple processes spread their load across providers.
func SelectRandomEndpoint(endpoints []string) (string, error) {
	if len(endpoints) == 0 {
		return "", errors.New("no RPC endpoints configured")
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(endpoints))))
	if err != nil {
		return "", err
	}
	return endpoints[n.Int64()], nil
}

// EndpointLabel reduces an RPC URL to a short metrics label: the provider
// for well-known hosted RPCs, the cluster for public endpoints, otherwise
// the host. API keys in paths or queries never reach the label.
func EndpointLabel(rpcURL string) string {
	parsed, err := url.Parse(rpcURL)
	if err != nil || parsed.Hostname() == "" {
		return "unknown"
	}
	host := parsed.Hostname()

	for _, provider := range []string{"helius", "quiknode", "alchemy", "triton", "rpcpool"} {
		if strings.Contains(host, provider) {
			return provider
		}
	}
	for _, cluster := range []string{NetworkMainnetBeta, "mainnet", NetworkDevnet, NetworkTestnet} {
		if strings.Contains(host, cluster) {
			return cluster
		}
	}
	if host == "localhost" || host == "127.0.0.1" {
		return NetworkLocalnet
	}
	return host
}

func (r *realRPCClient) GetSignaturesForAddress(
	ctx context.Context,
	address solana.PublicKey,
	opts *rpc.GetSignaturesForAddressOpts,
) ([]*rpc.TransactionSignature, error) {
	return r.client.GetSignaturesForAddressWithOpts(ctx, address, opts)
}

// parsedTransactionResponse mirrors the jsonParsed getTransaction response.
// The typed solana-go result folds object payloads into a fixed
// {info,type} shape, so the instruction payload is kept raw here.
type parsedTransactionResponse struct {
	Slot      uint64 `json:"slot"`
	BlockTime *int64 `json:"blockTime"`
	Meta      *struct {
		Err interface{} `json:"err"`
	} `json:"meta"`
	Transaction struct {
		Signatures []string `json:"signatures"`
		Message    struct {
			Instructions []struct {
				ProgramID string          `json:"programId"`
				Program   string          `json:"program"`
				Parsed    json.RawMessage `json:"parsed"`
				Data      string          `json:"data"`
			} `json:"instructions"`
		} `json:"message"`
	} `json:"transaction"`
}

func (r *realRPCClient) GetParsedTransaction(
	ctx context.Context,
	signature solana.Signature,
) (*ParsedTransaction, error) {
	maxVersion := uint64(0)
	params := []interface{}{
		signature.String(),
		map[string]interface{}{
			"encoding":                       "jsonParsed",
			"commitment":                     rpc.CommitmentConfirmed,
			"maxSupportedTransactionVersion": maxVersion,
		},
	}

	var out *parsedTransactionResponse
	if err := r.client.RPCCallForInto(ctx, &out, "getTransaction", params); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, nil
	}

	txn := &ParsedTransaction{
		Signature: signature.String(),
		Slot:      out.Slot,
		BlockTime: out.BlockTime,
	}
	if out.Meta != nil {
		txn.Err = out.Meta.Err
	}
	for _, ix := range out.Transaction.Message.Instructions {
		txn.Instructions = append(txn.Instructions, ParsedInstruction{
			ProgramID: ix.ProgramID,
			Program:   ix.Program,
			Parsed:    ix.Parsed,
			Data:      ix.Data,
		})
	}
	return txn, nil
}

func (r *realRPCClient) GetLatestBlockhash(
	ctx context.Context,
	commitment rpc.CommitmentType,
) (*BlockReference, error) {
	out, err := r.client.GetLatestBlockhash(ctx, commitment)
	if err != nil {
		return nil, err
	}
	if out == nil || out.Value == nil {
		return nil, errors.New("empty getLatestBlockhash response")
	}
	return &BlockReference{
		Blockhash:            out.Value.Blockhash.String(),
		LastValidBlockHeight: out.Value.LastValidBlockHeight,
	}, nil
}

func (r *realRPCClient) SendTransaction(
	ctx context.Context,
	tx *solana.Transaction,
	opts rpc.TransactionOpts,
) (solana.Signature, error) {
	return r.client.SendTransactionWithOpts(ctx, tx, opts)
}

func (r *realRPCClient) GetSignatureStatus(
	ctx context.Context,
	signature solana.Signature,
) (*rpc.SignatureStatusesResult, error) {
	out, err := r.client.GetSignatureStatuses(ctx, false, signature)
	if err != nil {
		return nil, err
	}
	if out == nil || len(out.Value) == 0 {
		return nil, nil
	}
	return out.Value[0], nil
}

func (r *realRPCClient) GetBlockHeight(
	ctx context.Context,
	commitment rpc.CommitmentType,
) (uint64, error) {
	return r.client.GetBlockHeight(ctx, commitment)
}

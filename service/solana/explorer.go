package solana

import "net/url"

// ExplorerBaseURL is the Solana Explorer the UI links transactions to.
const ExplorerBaseURL = "https://explorer.solana.com"

// Cluster names as the explorer and wallet adapters spell them.
const (
	NetworkMainnetBeta = "mainnet-beta"
	NetworkDevnet      = "devnet"
	NetworkTestnet     = "testnet"
	NetworkLocalnet    = "localnet"
)

// ClusterRPCURL returns the public RPC endpoint for a cluster name.
func ClusterRPCURL(network string) (string, bool) {
	switch network {
	case NetworkMainnetBeta:
		return "https://api.mainnet-beta.solana.com", true
	case NetworkDevnet:
		return "https://api.devnet.solana.com", true
	case NetworkTestnet:
		return "https://api.testnet.solana.com", true
	case NetworkLocalnet:
		return "http://127.0.0.1:8899", true
	}
	return "", false
}

// ExplorerURL links a transaction signature on the explorer. Mainnet and
// unspecified networks carry no cluster parameter. An empty signature yields an empty string.
func ExplorerURL(signature, network string) string {
	if signature == "" {
		return ""
	}
	link := ExplorerBaseURL + "/tx/" + url.PathEscape(signature)
	if network != "" && network != NetworkMainnetBeta {
		link += "?cluster=" + url.QueryEscape(network)
	}
	return link
}

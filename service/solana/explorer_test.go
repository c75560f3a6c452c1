package solana

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExplorerURL(t *testing.T) {
	tests := []struct {
		name      string
		signature string
		network   string
		want      string
	}{
		{"devnet", "5abc", NetworkDevnet, "https://explorer.solana.com/tx/5abc?cluster=devnet"},
		{"testnet", "5abc", NetworkTestnet, "https://explorer.solana.com/tx/5abc?cluster=testnet"},
		{"mainnet has no cluster", "5abc", NetworkMainnetBeta, "https://explorer.solana.com/tx/5abc"},
		{"empty network has no cluster", "5abc", "", "https://explorer.solana.com/tx/5abc"},
		{"empty signature", "", NetworkDevnet, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExplorerURL(tt.signature, tt.network))
		})
	}
}

func TestClusterRPCURL(t *testing.T) {
	url, ok := ClusterRPCURL(NetworkDevnet)
	assert.True(t, ok)
	assert.Equal(t, "https://api.devnet.solana.com", url)

	_, ok = ClusterRPCURL("moonnet")
	assert.False(t, ok)
}

// Package config defines the options used to construct a node manager:
// network selection, optional mnemonic override, chain/gossip endpoint
// overrides, and the LSP list. It mirrors the validation shape of the
// teacher's config.go, generalized away from a single-chain go-flags
// struct since the node manager is a library, not a standalone daemon.
package config

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
)

// DefaultWebsocketProxyAddr is used by browser deployments when no
// override is supplied.
const DefaultWebsocketProxyAddr = "wss://p.mutinywallet.com"

// Config carries the options accepted at Manager construction, per
// SPEC_FULL.md §6.
type Config struct {
	// Network selects the Bitcoin network. Defaults to Signet when the
	// zero value ("") is supplied.
	Network string

	// Mnemonic optionally overrides the mnemonic loaded from storage. If
	// set, it is written into storage (overwriting any prior value).
	Mnemonic string

	// UserEsploraURL optionally overrides the default chain endpoint.
	UserEsploraURL string

	// UserRGSURL optionally overrides the default rapid-gossip-sync
	// endpoint.
	UserRGSURL string

	// LspURL is a comma-separated list of LSP endpoints. The endpoints
	// are not contacted or checked at startup; each new node is assigned
	// one of them at random.
	LspURL string

	// WebsocketProxyAddr is only consulted by browser deployments.
	WebsocketProxyAddr string
}

// Validate rejects configurations the teacher's config.go would also
// refuse to start with: an unrecognized network name.
func (c Config) Validate() error {
	switch strings.ToLower(c.Network) {
	case "", "mainnet", "bitcoin", "testnet", "testnet3", "regtest", "signet":
		return nil
	default:
		return fmt.Errorf("config: unknown network %q", c.Network)
	}
}

// NetParams resolves the configured network name to chain parameters,
// defaulting to Signet the way the spec requires.
func (c Config) NetParams() *chaincfg.Params {
	switch strings.ToLower(c.Network) {
	case "mainnet", "bitcoin":
		return &chaincfg.MainNetParams
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params
	case "regtest":
		return &chaincfg.RegressionNetParams
	case "signet", "":
		return &chaincfg.SigNetParams
	default:
		return &chaincfg.SigNetParams
	}
}

// LspURLs splits the comma-separated LspURL option into a clean slice,
// dropping empty entries.
func (c Config) LspURLs() []string {
	if c.LspURL == "" {
		return nil
	}
	parts := strings.Split(c.LspURL, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// WebsocketProxy returns the configured proxy address, or the default.
func (c Config) WebsocketProxy() string {
	if c.WebsocketProxyAddr == "" {
		return DefaultWebsocketProxyAddr
	}
	return c.WebsocketProxyAddr
}

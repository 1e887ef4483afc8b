package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLibConfigTranslatesFlags(t *testing.T) {
	cfg := defaultConfig()
	cfg.Network = "testnet"
	cfg.Mnemonic = "abandon abandon abandon"
	cfg.LspURL = "https://lsp.example.com, https://lsp2.example.com"

	lib := cfg.libConfig()
	require.Equal(t, "testnet", lib.Network)
	require.Equal(t, cfg.Mnemonic, lib.Mnemonic)
	require.NoError(t, lib.Validate())
	require.Equal(t, []string{"https://lsp.example.com", "https://lsp2.example.com"}, lib.LspURLs())
}

func TestDefaultConfigHasSaneRPCAddresses(t *testing.T) {
	cfg := defaultConfig()
	require.Equal(t, defaultRPCListen, cfg.RPCListen)
	require.Equal(t, defaultRESTListen, cfg.RESTListen)
	require.Equal(t, 10, cfg.RedshiftMaxAttempts)
}

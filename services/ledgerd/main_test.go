package main

import (
	"context"
	"testing"

	"lendledger/core"
	"lendledger/core/genesis"
	"lendledger/services/ledgerd/config"
	"lendledger/storage"
)

func TestShippedConfigLoads(t *testing.T) {
	t.Setenv("LEDGERD_HMAC_SECRET", "")
	t.Setenv("LEDGERD_WEBHOOK_SECRET", "")
	cfg, err := config.Load("config.yaml")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.TLS.Enabled() || !cfg.TLS.AllowInsecure {
		t.Fatalf("expected plaintext dev listener")
	}
	if cfg.Quota.MaxCallsPerMinute == 0 {
		t.Fatalf("expected quota to be configured")
	}
	if cfg.MaxConnections != 256 {
		t.Fatalf("expected connection cap 256, got %d", cfg.MaxConnections)
	}
}

func TestShippedGenesisBootstraps(t *testing.T) {
	spec, err := genesis.Load("genesis.toml")
	if err != nil {
		t.Fatalf("load genesis: %v", err)
	}
	host, err := core.NewHost(storage.NewMemDB(), core.Options{})
	if err != nil {
		t.Fatalf("new host: %v", err)
	}
	receipt, err := host.Bootstrap(context.Background(), spec)
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if receipt == nil {
		t.Fatalf("expected bootstrap receipt")
	}
	collaterals, err := host.AcceptedCollaterals()
	if err != nil {
		t.Fatalf("collaterals: %v", err)
	}
	if len(collaterals) != 1 || collaterals[0].Ticker != "USDC" {
		t.Fatalf("expected the USDC collateral, got %+v", collaterals)
	}
}

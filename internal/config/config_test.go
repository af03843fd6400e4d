package config

import (
	"testing"
	"time"

	"petitions/internal/retry"
)

const testContract = "0x5FbDB2315678afecb367f032d93F642f64180aa3"

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONTRACT_ADDRESS", testContract)

	cfg := Load()

	if cfg.IPFSGateway != "https://ipfs.io" {
		t.Errorf("Expected default gateway, got: %s", cfg.IPFSGateway)
	}
	if cfg.MetadataFetchTimeout != 10*time.Second {
		t.Errorf("Expected 10s metadata timeout, got: %v", cfg.MetadataFetchTimeout)
	}
	if cfg.TxEventTimeout != 30*time.Second {
		t.Errorf("Expected 30s event timeout, got: %v", cfg.TxEventTimeout)
	}
	if cfg.ReconcileRetry != retry.DefaultConfig() {
		t.Errorf("Expected default reconcile retry, got: %+v", cfg.ReconcileRetry)
	}
	if !cfg.ReadOnly() {
		t.Error("Expected read-only config without a signer key")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected valid config, got: %v", err)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("CONTRACT_ADDRESS", testContract)
	t.Setenv("IPFS_GATEWAY", "https://gateway.example/")
	t.Setenv("TX_EVENT_TIMEOUT", "45")
	t.Setenv("METADATA_FETCH_TIMEOUT", "1500ms")
	t.Setenv("READER_CONCURRENCY", "not-a-number")
	t.Setenv("PINPROXY_GATEWAYS", "https://a.example, ,https://b.example")
	t.Setenv("RECONCILE_ON_START", "false")
	t.Setenv("RECONCILE_RETRY_MAX_RETRIES", "3")
	t.Setenv("RECONCILE_RETRY_INITIAL_DELAY", "500ms")
	t.Setenv("RECONCILE_RETRY_MAX_DELAY", "10")

	cfg := Load()

	if cfg.IPFSGateway != "https://gateway.example" {
		t.Errorf("Expected trailing slash trimmed, got: %s", cfg.IPFSGateway)
	}
	if cfg.TxEventTimeout != 45*time.Second {
		t.Errorf("Expected 45s, got: %v", cfg.TxEventTimeout)
	}
	if cfg.MetadataFetchTimeout != 1500*time.Millisecond {
		t.Errorf("Expected 1.5s, got: %v", cfg.MetadataFetchTimeout)
	}
	if cfg.ReaderConcurrency != 8 {
		t.Errorf("Expected default concurrency on bad input, got: %d", cfg.ReaderConcurrency)
	}
	if len(cfg.PinProxy.Gateways) != 2 {
		t.Errorf("Expected 2 gateways, got: %v", cfg.PinProxy.Gateways)
	}
	if cfg.ReconcileOnStart {
		t.Error("Expected ReconcileOnStart=false")
	}
	want := retry.Config{Enabled: true, MaxRetries: 3, InitialDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second}
	if cfg.ReconcileRetry != want {
		t.Errorf("Expected %+v, got: %+v", want, cfg.ReconcileRetry)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing rpc", func(c *Config) { c.RPCURL = "" }, true},
		{"bad contract", func(c *Config) { c.ContractAddress = "0x123" }, true},
		{"bad viewer", func(c *Config) { c.ViewerAddress = "alice" }, true},
		{"zero event timeout", func(c *Config) { c.TxEventTimeout = 0 }, true},
		{"zero concurrency", func(c *Config) { c.ReaderConcurrency = 0 }, true},
		{"bad reconcile backoff", func(c *Config) { c.ReconcileRetry.InitialDelay = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CONTRACT_ADDRESS", testContract)
			cfg := Load()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

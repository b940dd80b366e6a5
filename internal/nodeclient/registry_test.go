package nodeclient

import (
	"testing"

	"github.com/Fantasim/btcwalletsync/internal/config"
)

func TestNewRegistry_Electrum(t *testing.T) {
	cfg := &config.Config{
		Network:  "mainnet",
		NodeType: config.NodeTypeElectrum,
		NodeHost: "electrum.example.com",
		NodePort: 50002,
		NodeSSL:  true,
	}
	reg, err := NewRegistry(cfg)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	client, err := reg.For("mainnet")
	if err != nil {
		t.Fatalf("For() error = %v", err)
	}
	if _, ok := client.(*ElectrumClient); !ok {
		t.Fatalf("For() returned %T, want *ElectrumClient", client)
	}
}

func TestNewRegistry_Core(t *testing.T) {
	cfg := &config.Config{
		Network:     "testnet",
		NodeType:    config.NodeTypeCore,
		NodeHost:    "127.0.0.1",
		NodePort:    8332,
		NodeUser:    "rpcuser",
		NodePassword: "rpcpass",
	}
	reg, err := NewRegistry(cfg)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	client, err := reg.For("testnet")
	if err != nil {
		t.Fatalf("For() error = %v", err)
	}
	if _, ok := client.(*CoreClient); !ok {
		t.Fatalf("For() returned %T, want *CoreClient", client)
	}
}

func TestNewRegistry_UnknownNodeType(t *testing.T) {
	cfg := &config.Config{Network: "mainnet", NodeType: "unknown"}
	if _, err := NewRegistry(cfg); err == nil {
		t.Fatalf("NewRegistry() expected error for unknown node type, got nil")
	}
}

func TestRegistry_ForUnconfiguredNetwork(t *testing.T) {
	cfg := &config.Config{Network: "mainnet", NodeType: config.NodeTypeElectrum, NodeHost: "h", NodePort: 1}
	reg, err := NewRegistry(cfg)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	if _, err := reg.For("testnet"); err == nil {
		t.Fatalf("For() expected error for unconfigured network, got nil")
	}
}

func TestRegistry_Register(t *testing.T) {
	cfg := &config.Config{Network: "mainnet", NodeType: config.NodeTypeElectrum, NodeHost: "h", NodePort: 1}
	reg, err := NewRegistry(cfg)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	extra := NewElectrumClient("other.example.com", 50001, false, "signet")
	reg.Register("signet", extra)

	got, err := reg.For("signet")
	if err != nil {
		t.Fatalf("For() error = %v", err)
	}
	if got != extra {
		t.Fatalf("For() returned a different client than the one registered")
	}
}

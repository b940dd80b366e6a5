package nodeclient

import (
	"fmt"

	"github.com/Fantasim/btcwalletsync/internal/config"
)

// Registry resolves the configured remote node Client for each network the
// daemon serves. A production deployment of this pipeline talks to exactly
// one node per network (unlike a multi-provider indexer), so there is no
// round-robin rotation here — only construction and lookup.
type Registry struct {
	clients map[string]Client
}

// NewRegistry builds the single configured Client for cfg.Network, keyed
// for lookup alongside any others added with Register (tests wire in extra
// networks directly).
func NewRegistry(cfg *config.Config) (*Registry, error) {
	client, err := newClientFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	r := &Registry{clients: make(map[string]Client)}
	r.clients[cfg.Network] = client
	return r, nil
}

func newClientFromConfig(cfg *config.Config) (Client, error) {
	switch cfg.NodeType {
	case config.NodeTypeElectrum:
		return NewElectrumClient(cfg.NodeHost, cfg.NodePort, cfg.NodeSSL, cfg.Network), nil
	case config.NodeTypeCore:
		url := fmt.Sprintf("http://%s:%d", cfg.NodeHost, cfg.NodePort)
		return NewCoreClient(url, cfg.NodeUser, cfg.NodePassword), nil
	default:
		return nil, fmt.Errorf("%w: unknown node type %q", config.ErrInvalidConfig, cfg.NodeType)
	}
}

// Register wires an additional network's client into the registry, used by
// tests and by multi-network deployments layered on top of this daemon.
func (r *Registry) Register(network string, client Client) {
	r.clients[network] = client
}

// For returns the client for a network, or an error if none is configured.
func (r *Registry) For(network string) (Client, error) {
	client, ok := r.clients[network]
	if !ok {
		return nil, fmt.Errorf("no node client configured for network %q", network)
	}
	return client, nil
}

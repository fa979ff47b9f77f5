package interfaces

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// Network identifies a ledger deployment.
type Network string

const (
	// Mainnet is the production network. Funding requests are never allowed on it.
	Mainnet Network = "mainnet"
	// Devnet is the public development network.
	Devnet Network = "devnet"
	// Localnet is a validator running on the operator's machine.
	Localnet Network = "localnet"
	// Custom is any other endpoint supplied by the operator.
	Custom Network = "custom"
)

var defaultEndpoints = map[Network]string{
	Mainnet:  "https://api.mainnet-beta.solana.com",
	Devnet:   "https://api.devnet.solana.com",
	Localnet: "http://127.0.0.1:8899",
}

// ParseNetwork converts a network name into a Network.
func ParseNetwork(name string) (Network, error) {
	switch n := Network(strings.ToLower(strings.TrimSpace(name))); n {
	case Mainnet, Devnet, Localnet, Custom:
		return n, nil
	case "mainnet-beta":
		return Mainnet, nil
	default:
		return "", fmt.Errorf("%w: unknown network %q", ErrInvalidParams, name)
	}
}

// String returns the network name.
func (n Network) String() string {
	return string(n)
}

// IsProduction reports whether operations on the network spend real value.
func (n Network) IsProduction() bool {
	return n == Mainnet
}

// NetworkTarget is a network together with the RPC endpoint used to reach it.
type NetworkTarget struct {
	Network  Network
	Endpoint string
}

// NewNetworkTarget resolves the endpoint for a network. The endpoint argument
// overrides the default for named networks and is mandatory for Custom.
func NewNetworkTarget(network Network, endpoint string) (NetworkTarget, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		def, ok := defaultEndpoints[network]
		if !ok {
			return NetworkTarget{}, fmt.Errorf("%w: network %s requires an endpoint", ErrInvalidParams, network)
		}
		endpoint = def
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return NetworkTarget{}, fmt.Errorf("%w: invalid endpoint: %v", ErrInvalidParams, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return NetworkTarget{}, fmt.Errorf("%w: unsupported endpoint scheme %q", ErrInvalidParams, u.Scheme)
	}

	return NetworkTarget{Network: network, Endpoint: endpoint}, nil
}

// Discriminator returns the network component of a state key. Custom
// endpoints are distinguished by a short keccak256 digest of the endpoint so
// two different custom endpoints never share a record.
func (t NetworkTarget) Discriminator() string {
	if t.Network != Custom {
		return t.Network.String()
	}
	digest := crypto.Keccak256([]byte(strings.TrimRight(t.Endpoint, "/")))
	return "custom-" + hex.EncodeToString(digest[:4])
}

// Validate checks that the target is usable.
func (t NetworkTarget) Validate() error {
	if t.Network == "" {
		return errors.New("network not set")
	}
	if t.Endpoint == "" {
		return errors.New("endpoint not set")
	}
	return nil
}

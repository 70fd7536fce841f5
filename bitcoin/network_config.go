package bitcoin

import (
	"log"
	"os"

	"github.com/btcsuite/btcd/chaincfg"
)

// NetworkConfig holds configuration for the supported Bitcoin Cash networks
type NetworkConfig struct {
	Name           string
	Network        string
	CashAddrPrefix string
	Params         *chaincfg.Params
	ElectrumURL    string
	ExplorerURL    string
	FaucetURL      string
}

// GetNetworkConfig returns configuration for the specified network
func GetNetworkConfig(network string) *NetworkConfig {
	switch network {
	case "testnet", "chipnet":
		return &NetworkConfig{
			Name:           "Bitcoin Cash Chipnet",
			Network:        "testnet",
			CashAddrPrefix: "bchtest",
			Params:         &chaincfg.TestNet3Params,
			ElectrumURL:    "ssl://chipnet.imaginary.cash:50002",
			ExplorerURL:    "https://chipnet.chaingraph.cash",
			FaucetURL:      "https://tbch.googol.cash/",
		}
	case "regtest":
		return &NetworkConfig{
			Name:           "Bitcoin Cash Regtest",
			Network:        "regtest",
			CashAddrPrefix: "bchreg",
			Params:         &chaincfg.RegressionNetParams,
			ElectrumURL:    "tcp://127.0.0.1:60001",
		}
	case "mainnet":
		return &NetworkConfig{
			Name:           "Bitcoin Cash Mainnet",
			Network:        "mainnet",
			CashAddrPrefix: "bitcoincash",
			Params:         &chaincfg.MainNetParams,
			ElectrumURL:    "ssl://bch.imaginary.cash:50002",
			ExplorerURL:    "https://blockchair.com/bitcoin-cash",
		}
	default:
		log.Printf("Unknown network '%s', defaulting to mainnet", network)
		return GetNetworkConfig("mainnet")
	}
}

// NetworkForPrefix maps a CashAddr prefix back to a network name.
func NetworkForPrefix(prefix string) (string, bool) {
	switch prefix {
	case "bitcoincash":
		return "mainnet", true
	case "bchtest":
		return "testnet", true
	case "bchreg":
		return "regtest", true
	}
	return "", false
}

// GetCurrentNetwork returns the current network from environment variable
func GetCurrentNetwork() string {
	network := os.Getenv("NETWORK")
	if network == "" {
		network = "mainnet"
	}
	return network
}

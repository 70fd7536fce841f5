package bitcoin

import (
	"encoding/hex"
	"fmt"

	"bch-mcp-server/cashaddr"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
)

// Wallet is a single-key P2PKH wallet.
type Wallet struct {
	Network      string `json:"network"`
	Address      string `json:"address"`
	TokenAddress string `json:"token_address"`
	PublicKey    string `json:"public_key"`
	WIF          string `json:"wif,omitempty"`

	priv *btcec.PrivateKey
}

// AddressInfo describes a validated address.
type AddressInfo struct {
	Address         string `json:"address"`
	Valid           bool   `json:"valid"`
	Type            string `json:"type,omitempty"`
	Network         string `json:"network,omitempty"`
	TokenAware      bool   `json:"token_aware"`
	LockingBytecode string `json:"locking_bytecode,omitempty"`
	Error           string `json:"error,omitempty"`
}

// NewWallet generates a fresh key for the given network.
func NewWallet(network string) (*Wallet, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	cfg := GetNetworkConfig(network)
	wif, err := btcutil.NewWIF(priv, cfg.Params, true)
	if err != nil {
		return nil, fmt.Errorf("encode wif: %w", err)
	}
	return walletFromKey(priv, wif.String(), cfg)
}

// WalletFromWIF restores a wallet from a WIF private key. When network is
// empty it is inferred from the WIF version byte; regtest and testnet share
// a version byte, so testnet wins.
func WalletFromWIF(wifStr, network string) (*Wallet, error) {
	wif, err := btcutil.DecodeWIF(wifStr)
	if err != nil {
		return nil, fmt.Errorf("decode wif: %w", err)
	}
	if network == "" {
		network = "testnet"
		if wif.IsForNet(&chaincfg.MainNetParams) {
			network = "mainnet"
		}
	}
	cfg := GetNetworkConfig(network)
	if !wif.IsForNet(cfg.Params) {
		return nil, fmt.Errorf("wif is not for network %s", cfg.Network)
	}
	return walletFromKey(wif.PrivKey, wifStr, cfg)
}

func walletFromKey(priv *btcec.PrivateKey, wif string, cfg *NetworkConfig) (*Wallet, error) {
	pub := priv.PubKey().SerializeCompressed()
	hash := btcutil.Hash160(pub)
	addr, err := cashaddr.Encode(cfg.CashAddrPrefix, cashaddr.P2PKH, hash)
	if err != nil {
		return nil, err
	}
	tokenAddr, err := cashaddr.Encode(cfg.CashAddrPrefix, cashaddr.P2PKHWithTokens, hash)
	if err != nil {
		return nil, err
	}
	return &Wallet{
		Network:      cfg.Network,
		Address:      addr,
		TokenAddress: tokenAddr,
		PublicKey:    hex.EncodeToString(pub),
		WIF:          wif,
		priv:         priv,
	}, nil
}

// PrivateKey returns the signing key.
func (w *Wallet) PrivateKey() *btcec.PrivateKey { return w.priv }

// PubKeyHash returns hash160 of the compressed public key.
func (w *Wallet) PubKeyHash() []byte {
	return btcutil.Hash160(w.priv.PubKey().SerializeCompressed())
}

// Public returns a copy without the private key material.
func (w *Wallet) Public() *Wallet {
	return &Wallet{
		Network:      w.Network,
		Address:      w.Address,
		TokenAddress: w.TokenAddress,
		PublicKey:    w.PublicKey,
	}
}

// DecodeAddress parses a CashAddr and checks it belongs to network. A bare
// address without prefix is read with the network's prefix.
func DecodeAddress(address, network string) (*cashaddr.Address, error) {
	cfg := GetNetworkConfig(network)
	addr, err := cashaddr.Decode(address, cfg.CashAddrPrefix)
	if err != nil {
		return nil, err
	}
	if addr.Prefix != cfg.CashAddrPrefix {
		return nil, fmt.Errorf("address prefix %q does not match network %s", addr.Prefix, cfg.Network)
	}
	return addr, nil
}

// ValidateAddress reports what an address is without failing on bad input.
func ValidateAddress(address string) *AddressInfo {
	info := &AddressInfo{Address: address}
	addr, err := cashaddr.Decode(address, "bitcoincash")
	if err != nil {
		info.Error = err.Error()
		return info
	}
	network, ok := NetworkForPrefix(addr.Prefix)
	if !ok {
		info.Error = fmt.Sprintf("unknown prefix %q", addr.Prefix)
		return info
	}
	info.Valid = true
	info.Address = addr.String()
	info.Type = addr.Type.String()
	info.Network = network
	info.TokenAware = addr.TokenAware()
	info.LockingBytecode = hex.EncodeToString(addr.LockingBytecode())
	return info
}

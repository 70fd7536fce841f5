package bitcoin

import (
	"bytes"
	"encoding/base64"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

const messageMagic = "Bitcoin Signed Message:\n"

// HashMessage is the double sha256 digest signed by signmessage-compatible wallets.
func HashMessage(message string) []byte {
	var buf bytes.Buffer
	_ = wire.WriteVarString(&buf, 0, messageMagic)
	_ = wire.WriteVarString(&buf, 0, message)
	return chainhash.DoubleHashB(buf.Bytes())
}

// SignMessage produces a base64 compact recoverable signature over the
// compressed public key.
func (w *Wallet) SignMessage(message string) string {
	sig := ecdsa.SignCompact(w.priv, HashMessage(message), true)
	return base64.StdEncoding.EncodeToString(sig)
}

// VerifyMessage checks a compact signature against a P2PKH CashAddr.
func VerifyMessage(address, message, signatureB64 string) (bool, error) {
	info := ValidateAddress(address)
	if !info.Valid {
		return false, fmt.Errorf("invalid address: %s", info.Error)
	}
	addr, err := DecodeAddress(address, info.Network)
	if err != nil {
		return false, err
	}
	if addr.IsScriptHash() {
		return false, fmt.Errorf("message verification requires a p2pkh address")
	}

	sigBytes, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return false, fmt.Errorf("decode signature: %w", err)
	}
	if len(sigBytes) != 65 {
		return false, fmt.Errorf("invalid signature length")
	}

	pubKey, wasCompressed, err := ecdsa.RecoverCompact(sigBytes, HashMessage(message))
	if err != nil {
		return false, nil
	}
	serialized := pubKey.SerializeUncompressed()
	if wasCompressed {
		serialized = pubKey.SerializeCompressed()
	}
	return bytes.Equal(btcutil.Hash160(serialized), addr.Hash), nil
}

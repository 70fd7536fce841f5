package smart_contract

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"bch-mcp-server/bitcoin"
	"bch-mcp-server/cashaddr"
	"bch-mcp-server/electrum"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
)

const (
	// EscrowMaxFee is the most the unlocking transaction may spend on fees.
	EscrowMaxFee int64 = 1000
	// DustLimit is the smallest output the network relays.
	DustLimit int64 = 546

	descriptorScheme = "escrow"

	// Native introspection opcodes (CHIP-2021-02).
	opOutputValue    = 0xcc
	opOutputBytecode = 0xcd
)

// Escrow branches.
const (
	BranchRelease = "release"
	BranchRefund  = "refund"
)

var (
	ErrInvalidDescriptor = errors.New("invalid escrow descriptor")
	ErrNotAuthorized     = errors.New("key is not authorized for this escrow branch")
)

// EscrowConfig holds the inputs an escrow is derived from. The same config
// always yields the same contract.
type EscrowConfig struct {
	Network    string `json:"network"`
	Buyer      string `json:"buyer"`
	Seller     string `json:"seller"`
	Arbiter    string `json:"arbiter"`
	AmountSats int64  `json:"amount"`
	Nonce      int64  `json:"nonce"`
}

// EscrowContract is a derived escrow.
type EscrowContract struct {
	ContractID      string `json:"contract_id"`
	Network         string `json:"network"`
	Buyer           string `json:"buyer"`
	Seller          string `json:"seller"`
	Arbiter         string `json:"arbiter"`
	AmountSats      int64  `json:"amount"`
	Nonce           int64  `json:"nonce"`
	MinPayoutSats   int64  `json:"min_payout"`
	ScriptHex       string `json:"redeem_script"`
	Address         string `json:"deposit_address"`
	TokenAddress    string `json:"deposit_token_address"`
	Descriptor      string `json:"escrow"`
	LockingBytecode string `json:"locking_bytecode"`

	buyer, seller, arbiter *cashaddr.Address
	deposit                *cashaddr.Address
}

// BalanceSource answers script hash balance queries.
type BalanceSource interface {
	GetBalance(ctx context.Context, scripthash string) (*electrum.Balance, error)
}

// EscrowManager derives escrow contracts and drives their unlock through
// the signing service.
type EscrowManager struct {
	signer *bitcoin.SignerClient
}

// NewEscrowManager creates a new escrow manager
func NewEscrowManager(signer *bitcoin.SignerClient) *EscrowManager {
	return &EscrowManager{signer: signer}
}

// CreateEscrow derives the escrow contract for config.
func (em *EscrowManager) CreateEscrow(config EscrowConfig) (*EscrowContract, error) {
	return BuildEscrow(config)
}

// BuildEscrow validates config and derives the redeem script and deposit address.
func BuildEscrow(config EscrowConfig) (*EscrowContract, error) {
	if config.Network == "" {
		config.Network = "mainnet"
	}
	if config.AmountSats < EscrowMaxFee+DustLimit {
		return nil, fmt.Errorf("amount must be at least %d satoshis", EscrowMaxFee+DustLimit)
	}
	if config.Nonce < 0 {
		return nil, fmt.Errorf("nonce must not be negative")
	}

	parties := make([]*cashaddr.Address, 3)
	for i, addr := range []string{config.Buyer, config.Seller, config.Arbiter} {
		a, err := bitcoin.DecodeAddress(addr, config.Network)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", []string{"buyer", "seller", "arbiter"}[i], err)
		}
		if a.IsScriptHash() || len(a.Hash) != 20 {
			return nil, fmt.Errorf("%s must be a p2pkh address", []string{"buyer", "seller", "arbiter"}[i])
		}
		parties[i] = a.WithTokens(false)
	}
	buyer, seller, arbiter := parties[0], parties[1], parties[2]
	config.Buyer, config.Seller, config.Arbiter = buyer.String(), seller.String(), arbiter.String()

	minPayout := config.AmountSats - EscrowMaxFee
	script, err := escrowScript(buyer, seller, arbiter, minPayout, config.Nonce)
	if err != nil {
		return nil, fmt.Errorf("failed to generate escrow script: %v", err)
	}

	deposit := &cashaddr.Address{
		Prefix: buyer.Prefix,
		Type:   cashaddr.P2SH,
		Hash:   btcutil.Hash160(script),
	}
	descriptor, err := EncodeDescriptor(config)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(script)

	return &EscrowContract{
		ContractID:      hex.EncodeToString(sum[:16]),
		Network:         config.Network,
		Buyer:           buyer.String(),
		Seller:          seller.String(),
		Arbiter:         arbiter.String(),
		AmountSats:      config.AmountSats,
		Nonce:           config.Nonce,
		MinPayoutSats:   minPayout,
		ScriptHex:       hex.EncodeToString(script),
		Address:         deposit.String(),
		TokenAddress:    deposit.WithTokens(true).String(),
		Descriptor:      descriptor,
		LockingBytecode: hex.EncodeToString(deposit.LockingBytecode()),
		buyer:           buyer,
		seller:          seller,
		arbiter:         arbiter,
		deposit:         deposit,
	}, nil
}

// escrowScript builds the redeem script. The unlocking data is
// <sig> <pubkey> <1 for release | 0 for refund>. Release pays the seller and
// needs the buyer or arbiter key; refund pays the buyer and needs the seller
// or arbiter key. Output 0 must pay the beneficiary at least minPayout.
func escrowScript(buyer, seller, arbiter *cashaddr.Address, minPayout, nonce int64) ([]byte, error) {
	b := txscript.NewScriptBuilder()
	b.AddInt64(nonce).AddOp(txscript.OP_DROP)
	b.AddOp(txscript.OP_IF)
	authorize(b, buyer.Hash, arbiter.Hash)
	b.AddData(seller.LockingBytecode())
	b.AddOp(txscript.OP_ELSE)
	authorize(b, seller.Hash, arbiter.Hash)
	b.AddData(buyer.LockingBytecode())
	b.AddOp(txscript.OP_ENDIF)
	b.AddOp(txscript.OP_0).AddOp(opOutputBytecode).AddOp(txscript.OP_EQUALVERIFY)
	b.AddOp(txscript.OP_0).AddOp(opOutputValue).AddInt64(minPayout)
	b.AddOp(txscript.OP_GREATERTHANOREQUAL).AddOp(txscript.OP_VERIFY)
	b.AddOp(txscript.OP_CHECKSIG)
	return b.Script()
}

// authorize leaves the pubkey on the stack if its hash matches either key.
func authorize(b *txscript.ScriptBuilder, first, second []byte) {
	b.AddOp(txscript.OP_DUP).AddOp(txscript.OP_HASH160).AddOp(txscript.OP_DUP)
	b.AddData(first).AddOp(txscript.OP_EQUAL)
	b.AddOp(txscript.OP_SWAP)
	b.AddData(second).AddOp(txscript.OP_EQUAL)
	b.AddOp(txscript.OP_BOOLOR).AddOp(txscript.OP_VERIFY)
}

// EncodeDescriptor renders config as escrow:<network>:<base64url json>.
func EncodeDescriptor(config EscrowConfig) (string, error) {
	raw, err := json.Marshal(config)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%s:%s", descriptorScheme, config.Network, base64.RawURLEncoding.EncodeToString(raw)), nil
}

// DecodeDescriptor parses a descriptor and rebuilds its contract.
func DecodeDescriptor(descriptor string) (*EscrowContract, error) {
	parts := strings.SplitN(strings.TrimSpace(descriptor), ":", 3)
	if len(parts) != 3 || parts[0] != descriptorScheme {
		return nil, ErrInvalidDescriptor
	}
	raw, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}
	var config EscrowConfig
	if err := json.Unmarshal(raw, &config); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}
	if config.Network != parts[1] {
		return nil, fmt.Errorf("%w: network mismatch", ErrInvalidDescriptor)
	}
	return BuildEscrow(config)
}

// GetEscrowBalance returns the deposit address balance.
func (em *EscrowManager) GetEscrowBalance(ctx context.Context, src BalanceSource, contract *EscrowContract) (*electrum.Balance, error) {
	return src.GetBalance(ctx, contract.deposit.ScriptHash())
}

// ReleaseEscrow pays the seller. The key must belong to the buyer or arbiter.
func (em *EscrowManager) ReleaseEscrow(ctx context.Context, contract *EscrowContract, wif string) (*bitcoin.SendResponse, error) {
	return em.unlock(ctx, contract, wif, BranchRelease)
}

// RefundEscrow pays the buyer back. The key must belong to the seller or arbiter.
func (em *EscrowManager) RefundEscrow(ctx context.Context, contract *EscrowContract, wif string) (*bitcoin.SendResponse, error) {
	return em.unlock(ctx, contract, wif, BranchRefund)
}

func (em *EscrowManager) unlock(ctx context.Context, contract *EscrowContract, wif, branch string) (*bitcoin.SendResponse, error) {
	wallet, err := bitcoin.WalletFromWIF(wif, contract.Network)
	if err != nil {
		return nil, err
	}

	var allowed []*cashaddr.Address
	var beneficiary *cashaddr.Address
	switch branch {
	case BranchRelease:
		allowed, beneficiary = []*cashaddr.Address{contract.buyer, contract.arbiter}, contract.seller
	case BranchRefund:
		allowed, beneficiary = []*cashaddr.Address{contract.seller, contract.arbiter}, contract.buyer
	default:
		return nil, fmt.Errorf("unknown escrow branch %q", branch)
	}
	pkh := wallet.PubKeyHash()
	authorized := false
	for _, a := range allowed {
		if bytes.Equal(a.Hash, pkh) {
			authorized = true
			break
		}
	}
	if !authorized {
		return nil, ErrNotAuthorized
	}

	log.Printf("Escrow %s: %s to %s requested by %s", contract.ContractID, branch, beneficiary.String(), wallet.Address)
	return em.signer.EscrowUnlock(ctx, bitcoin.EscrowUnlockRequest{
		WalletID:       bitcoin.WalletID(contract.Network, wif),
		Branch:         branch,
		RedeemScript:   contract.ScriptHex,
		DepositAddress: contract.Address,
		Cashaddr:       beneficiary.String(),
		MinimumValue:   contract.MinPayoutSats,
	})
}

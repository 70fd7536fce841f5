package mcp

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"bch-mcp-server/bitcoin"
	"bch-mcp-server/cashaddr"
	"bch-mcp-server/core/smart_contract"
	"bch-mcp-server/electrum"
	"bch-mcp-server/services"
	"bch-mcp-server/session"

	"github.com/mark3labs/mcp-go/mcp"
)

// PriceSource quotes one BCH in a fiat currency.
type PriceSource interface {
	Price(ctx context.Context, currency string) (float64, error)
}

// Backend holds the collaborators shared by all sessions. Nothing here is
// per-client; per-session resources live in SessionState.
type Backend struct {
	Network string
	Prices  PriceSource
	Signer  *bitcoin.SignerClient
	Escrow  *smart_contract.EscrowManager
	QR      *services.QRCodeService
}

func (b *Backend) network() string {
	if b.Network == "" {
		return "mainnet"
	}
	return b.Network
}

// address decodes a CashAddr that must belong to the served network.
func (b *Backend) address(tool, field, value string) (*cashaddr.Address, error) {
	addr, err := bitcoin.DecodeAddress(value, b.network())
	if err != nil {
		return nil, NewInvalidFieldError(tool, field, value, fmt.Sprintf("invalid address: %v", err))
	}
	return addr, nil
}

// wallet restores a key. The WIF itself never appears in errors.
func (b *Backend) wallet(tool, wif string) (*bitcoin.Wallet, error) {
	w, err := bitcoin.WalletFromWIF(wif, b.network())
	if err != nil {
		return nil, NewInvalidFieldError(tool, "wif", nil, "invalid WIF private key for network "+b.network())
	}
	return w, nil
}

func (b *Backend) usdPrice(ctx context.Context, units ...string) (float64, error) {
	for _, u := range units {
		if u == bitcoin.UnitUSD {
			if b.Prices == nil {
				return 0, errors.New("price feed not configured")
			}
			return b.Prices.Price(ctx, "usd")
		}
	}
	return 0, nil
}

func signerError(tool string, err error) error {
	if errors.Is(err, bitcoin.ErrSignerNotConfigured) {
		return NewServiceUnavailableError(tool, "signing")
	}
	return err
}

func chainError(tool string, err error) error {
	if errors.Is(err, errNoChain) {
		return NewServiceUnavailableError(tool, "electrum")
	}
	return err
}

func hexField(tool, field, value string, size int) error {
	raw, err := hex.DecodeString(value)
	if err != nil || (size > 0 && len(raw) != size) {
		msg := "must be hex encoded"
		if size > 0 {
			msg = fmt.Sprintf("must be %d hex characters", size*2)
		}
		return NewInvalidFieldError(tool, field, value, msg)
	}
	return nil
}

func tokenAmount(tool, field string, args Args) (*big.Int, error) {
	if !args.Has(field) {
		return new(big.Int), nil
	}
	n, err := ParseBigInt(args.String(field))
	if err != nil || n.Sign() < 0 {
		return nil, NewInvalidFieldError(tool, field, args.String(field), "must be a non-negative decimal integer")
	}
	return n, nil
}

func amountString(n *big.Int) string {
	if n.Sign() == 0 {
		return ""
	}
	return n.String()
}

func inUnit(sats int64, unit string, price float64) (any, error) {
	if unit == bitcoin.UnitSat {
		return sats, nil
	}
	return bitcoin.FromSatoshis(sats, unit, price)
}

func sendResult(resp *bitcoin.SendResponse, extra map[string]any) map[string]any {
	out := map[string]any{"txid": resp.TxID}
	if len(resp.TokenIDs) > 0 {
		out["token_ids"] = resp.TokenIDs
	}
	if resp.Balance != nil {
		out["balance_sats"] = resp.Balance.Sat
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// Key management

func (b *Backend) createWallet(ctx context.Context, args Args) (any, error) {
	return bitcoin.NewWallet(args.String("network"))
}

func (b *Backend) getWalletInfo(ctx context.Context, args Args) (any, error) {
	w, err := bitcoin.WalletFromWIF(args.String("wif"), "")
	if err != nil {
		return nil, NewInvalidFieldError("get_wallet_info", "wif", nil, "invalid WIF private key")
	}
	return w.Public(), nil
}

func (b *Backend) validateAddress(ctx context.Context, args Args) (any, error) {
	return bitcoin.ValidateAddress(args.String("address")), nil
}

// Chain queries

func (b *Backend) getBalance(ctx context.Context, args Args) (any, error) {
	const tool = "get_balance"
	addr, err := b.address(tool, "address", args.String("address"))
	if err != nil {
		return nil, err
	}
	unit := args.String("unit")
	price, err := b.usdPrice(ctx, unit)
	if err != nil {
		return nil, err
	}
	chain, err := chainFromContext(ctx)
	if err != nil {
		return nil, chainError(tool, err)
	}
	bal, err := chain.GetBalance(ctx, addr.ScriptHash())
	if err != nil {
		return nil, err
	}

	out := map[string]any{"address": addr.String(), "unit": unit}
	for key, sats := range map[string]int64{
		"confirmed":   bal.Confirmed,
		"unconfirmed": bal.Unconfirmed,
		"total":       bal.Total(),
	} {
		v, err := inUnit(sats, unit, price)
		if err != nil {
			return nil, err
		}
		out[key] = v
	}
	return out, nil
}

func (b *Backend) getUTXOs(ctx context.Context, args Args) (any, error) {
	const tool = "get_utxos"
	addr, err := b.address(tool, "address", args.String("address"))
	if err != nil {
		return nil, err
	}
	chain, err := chainFromContext(ctx)
	if err != nil {
		return nil, chainError(tool, err)
	}
	utxos, err := chain.ListUnspent(ctx, addr.ScriptHash())
	if err != nil {
		return nil, err
	}
	if utxos == nil {
		utxos = []electrum.UTXO{}
	}
	return map[string]any{"address": addr.String(), "utxos": utxos, "count": len(utxos)}, nil
}

func (b *Backend) getHistory(ctx context.Context, args Args) (any, error) {
	const tool = "get_history"
	addr, err := b.address(tool, "address", args.String("address"))
	if err != nil {
		return nil, err
	}
	chain, err := chainFromContext(ctx)
	if err != nil {
		return nil, chainError(tool, err)
	}
	history, err := chain.GetHistory(ctx, addr.ScriptHash())
	if err != nil {
		return nil, err
	}
	total := len(history)
	if limit := int(args.Int("limit")); limit > 0 && limit < len(history) {
		history = history[len(history)-limit:]
	}
	if history == nil {
		history = []electrum.HistoryItem{}
	}
	return map[string]any{"address": addr.String(), "history": history, "total": total}, nil
}

func (b *Backend) getBlockHeight(ctx context.Context, args Args) (any, error) {
	chain, err := chainFromContext(ctx)
	if err != nil {
		return nil, chainError("get_block_height", err)
	}
	tip, _, cancel, err := chain.SubscribeHeaders(ctx)
	if err != nil {
		return nil, err
	}
	cancel()
	return map[string]any{"height": tip.Height, "network": b.network()}, nil
}

func (b *Backend) getTransaction(ctx context.Context, args Args) (any, error) {
	const tool = "get_transaction"
	txid := strings.ToLower(args.String("txid"))
	if err := hexField(tool, "txid", txid, 32); err != nil {
		return nil, err
	}
	chain, err := chainFromContext(ctx)
	if err != nil {
		return nil, chainError(tool, err)
	}
	raw, err := chain.GetTransaction(ctx, txid)
	if err != nil {
		return nil, err
	}
	return map[string]any{"txid": txid, "hex": raw}, nil
}

func (b *Backend) broadcastTransaction(ctx context.Context, args Args) (any, error) {
	const tool = "broadcast_transaction"
	raw := args.String("raw_hex")
	if err := hexField(tool, "raw_hex", raw, 0); err != nil {
		return nil, err
	}
	chain, err := chainFromContext(ctx)
	if err != nil {
		return nil, chainError(tool, err)
	}
	txid, err := chain.Broadcast(ctx, raw)
	if err != nil {
		return nil, err
	}
	return map[string]any{"txid": txid}, nil
}

// tokenBalance aggregates the token outputs of one category.
type tokenBalance struct {
	Category string   `json:"category"`
	Amount   *big.Int `json:"amount"`
	NFTs     int      `json:"nft_count"`
}

func tokenBalances(utxos []electrum.UTXO) map[string]*tokenBalance {
	out := make(map[string]*tokenBalance)
	for _, u := range utxos {
		if u.TokenData == nil {
			continue
		}
		tb, ok := out[u.TokenData.Category]
		if !ok {
			tb = &tokenBalance{Category: u.TokenData.Category, Amount: new(big.Int)}
			out[u.TokenData.Category] = tb
		}
		if u.TokenData.Amount != nil {
			tb.Amount.Add(tb.Amount, u.TokenData.Amount)
		}
		if u.TokenData.NFT != nil {
			tb.NFTs++
		}
	}
	return out
}

func (b *Backend) tokenUTXOs(ctx context.Context, tool string, args Args) (*cashaddr.Address, []electrum.UTXO, error) {
	addr, err := b.address(tool, "address", args.String("address"))
	if err != nil {
		return nil, nil, err
	}
	chain, err := chainFromContext(ctx)
	if err != nil {
		return nil, nil, chainError(tool, err)
	}
	utxos, err := chain.ListUnspent(ctx, addr.ScriptHash())
	if err != nil {
		return nil, nil, err
	}
	return addr, utxos, nil
}

func (b *Backend) getTokenBalance(ctx context.Context, args Args) (any, error) {
	const tool = "get_token_balance"
	category := strings.ToLower(args.String("category"))
	if err := hexField(tool, "category", category, 32); err != nil {
		return nil, err
	}
	addr, utxos, err := b.tokenUTXOs(ctx, tool, args)
	if err != nil {
		return nil, err
	}
	tb, ok := tokenBalances(utxos)[category]
	if !ok {
		tb = &tokenBalance{Category: category, Amount: new(big.Int)}
	}
	return map[string]any{
		"address":   addr.String(),
		"category":  tb.Category,
		"amount":    tb.Amount,
		"nft_count": tb.NFTs,
	}, nil
}

func (b *Backend) getAllTokenBalances(ctx context.Context, args Args) (any, error) {
	addr, utxos, err := b.tokenUTXOs(ctx, "get_all_token_balances", args)
	if err != nil {
		return nil, err
	}
	balances := tokenBalances(utxos)
	tokens := make(map[string]*big.Int, len(balances))
	nfts := make(map[string]int)
	for category, tb := range balances {
		tokens[category] = tb.Amount
		if tb.NFTs > 0 {
			nfts[category] = tb.NFTs
		}
	}
	return map[string]any{"address": addr.String(), "tokens": tokens, "nfts": nfts}, nil
}

func waitTimeout(args Args) time.Duration {
	return time.Duration(args.Int("timeout_seconds")) * time.Second
}

func (b *Backend) waitForTransaction(ctx context.Context, args Args) (any, error) {
	const tool = "wait_for_transaction"
	addr, err := b.address(tool, "address", args.String("address"))
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, waitTimeout(args))
	defer cancel()

	chain, err := chainFromContext(ctx)
	if err != nil {
		return nil, chainError(tool, err)
	}
	sh := addr.ScriptHash()
	_, updates, unsubscribe, err := chain.SubscribeScripthash(ctx, sh)
	if err != nil {
		return nil, err
	}
	defer unsubscribe()

	history, err := chain.GetHistory(ctx, sh)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(history))
	for _, h := range history {
		seen[h.TxHash] = true
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case _, ok := <-updates:
			if !ok {
				return nil, errors.New("electrum connection closed while waiting")
			}
			history, err := chain.GetHistory(ctx, sh)
			if err != nil {
				return nil, err
			}
			for _, h := range history {
				if !seen[h.TxHash] {
					return map[string]any{"address": addr.String(), "txid": h.TxHash, "height": h.Height}, nil
				}
			}
		}
	}
}

func (b *Backend) waitForBalance(ctx context.Context, args Args) (any, error) {
	const tool = "wait_for_balance"
	addr, err := b.address(tool, "address", args.String("address"))
	if err != nil {
		return nil, err
	}
	unit := args.String("unit")
	price, err := b.usdPrice(ctx, unit)
	if err != nil {
		return nil, err
	}
	target, err := bitcoin.ToSatoshis(args.Float("target"), unit, price)
	if err != nil {
		return nil, NewInvalidFieldError(tool, "target", args.Float("target"), err.Error())
	}
	ctx, cancel := context.WithTimeout(ctx, waitTimeout(args))
	defer cancel()

	chain, err := chainFromContext(ctx)
	if err != nil {
		return nil, chainError(tool, err)
	}
	sh := addr.ScriptHash()
	_, updates, unsubscribe, err := chain.SubscribeScripthash(ctx, sh)
	if err != nil {
		return nil, err
	}
	defer unsubscribe()

	for {
		bal, err := chain.GetBalance(ctx, sh)
		if err != nil {
			return nil, err
		}
		if bal.Total() >= target {
			total, err := inUnit(bal.Total(), unit, price)
			if err != nil {
				return nil, err
			}
			return map[string]any{"address": addr.String(), "unit": unit, "balance": total, "balance_sats": bal.Total()}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case _, ok := <-updates:
			if !ok {
				return nil, errors.New("electrum connection closed while waiting")
			}
		}
	}
}

// Transactions

func (b *Backend) send(ctx context.Context, args Args) (any, error) {
	const tool = "send"
	w, err := b.wallet(tool, args.String("wif"))
	if err != nil {
		return nil, err
	}
	to, err := b.address(tool, "to", args.String("to"))
	if err != nil {
		return nil, err
	}
	unit := args.String("unit")
	price, err := b.usdPrice(ctx, unit)
	if err != nil {
		return nil, err
	}
	sats, err := bitcoin.ToSatoshis(args.Float("amount"), unit, price)
	if err != nil {
		return nil, NewInvalidFieldError(tool, "amount", args.Float("amount"), err.Error())
	}
	if sats < smart_contract.DustLimit {
		return nil, NewInvalidFieldError(tool, "amount", args.Float("amount"),
			fmt.Sprintf("amount is below the %d satoshi dust limit", smart_contract.DustLimit))
	}
	resp, err := b.Signer.Send(ctx, bitcoin.WalletID(w.Network, w.WIF), []bitcoin.SendOutput{
		{Cashaddr: to.String(), Value: sats, Unit: bitcoin.UnitSat},
	})
	if err != nil {
		return nil, signerError(tool, err)
	}
	return sendResult(resp, map[string]any{"from": w.Address, "to": to.String(), "amount_sats": sats}), nil
}

func (b *Backend) sendMax(ctx context.Context, args Args) (any, error) {
	const tool = "send_max"
	w, err := b.wallet(tool, args.String("wif"))
	if err != nil {
		return nil, err
	}
	to, err := b.address(tool, "to", args.String("to"))
	if err != nil {
		return nil, err
	}
	resp, err := b.Signer.SendMax(ctx, bitcoin.WalletID(w.Network, w.WIF), to.String())
	if err != nil {
		return nil, signerError(tool, err)
	}
	return sendResult(resp, map[string]any{"from": w.Address, "to": to.String()}), nil
}

// CashTokens

// tokenRecipient returns the token-aware form of the optional "to" field,
// defaulting to the wallet's own token address.
func (b *Backend) tokenRecipient(tool string, w *bitcoin.Wallet, args Args) (string, error) {
	if !args.Has("to") {
		return w.TokenAddress, nil
	}
	to, err := b.address(tool, "to", args.String("to"))
	if err != nil {
		return "", err
	}
	return to.WithTokens(true).String(), nil
}

func (b *Backend) tokenGenesis(ctx context.Context, args Args) (any, error) {
	const tool = "token_genesis"
	w, err := b.wallet(tool, args.String("wif"))
	if err != nil {
		return nil, err
	}
	amount, err := tokenAmount(tool, "amount", args)
	if err != nil {
		return nil, err
	}
	capability, commitment := args.String("capability"), args.String("commitment")
	if commitment != "" {
		if err := hexField(tool, "commitment", commitment, 0); err != nil {
			return nil, err
		}
	}
	if amount.Sign() <= 0 && capability == "" {
		return nil, NewInvalidFieldError(tool, "amount", nil, "genesis needs a fungible amount or an NFT capability")
	}
	to, err := b.tokenRecipient(tool, w, args)
	if err != nil {
		return nil, err
	}
	resp, err := b.Signer.TokenGenesis(ctx, bitcoin.TokenGenesisRequest{
		WalletID:   bitcoin.WalletID(w.Network, w.WIF),
		Cashaddr:   to,
		Amount:     amountString(amount),
		Commitment: commitment,
		Capability: capability,
	})
	if err != nil {
		return nil, signerError(tool, err)
	}
	extra := map[string]any{"to": to}
	if len(resp.TokenIDs) > 0 {
		extra["category"] = resp.TokenIDs[0]
	}
	return sendResult(resp, extra), nil
}

func (b *Backend) tokenMint(ctx context.Context, args Args) (any, error) {
	const tool = "token_mint"
	w, err := b.wallet(tool, args.String("wif"))
	if err != nil {
		return nil, err
	}
	category := strings.ToLower(args.String("category"))
	if err := hexField(tool, "category", category, 32); err != nil {
		return nil, err
	}
	commitment := args.String("commitment")
	if commitment != "" {
		if err := hexField(tool, "commitment", commitment, 0); err != nil {
			return nil, err
		}
	}
	to, err := b.tokenRecipient(tool, w, args)
	if err != nil {
		return nil, err
	}
	count := int(args.Int("count"))
	requests := make([]bitcoin.TokenMintOutput, count)
	for i := range requests {
		requests[i] = bitcoin.TokenMintOutput{
			Cashaddr:   to,
			Commitment: commitment,
			Capability: args.String("capability"),
		}
	}
	resp, err := b.Signer.TokenMint(ctx, bitcoin.TokenMintRequest{
		WalletID: bitcoin.WalletID(w.Network, w.WIF),
		TokenID:  category,
		Requests: requests,
	})
	if err != nil {
		return nil, signerError(tool, err)
	}
	return sendResult(resp, map[string]any{"category": category, "minted": count, "to": to}), nil
}

func (b *Backend) tokenBurn(ctx context.Context, args Args) (any, error) {
	const tool = "token_burn"
	w, err := b.wallet(tool, args.String("wif"))
	if err != nil {
		return nil, err
	}
	category := strings.ToLower(args.String("category"))
	if err := hexField(tool, "category", category, 32); err != nil {
		return nil, err
	}
	amount, err := tokenAmount(tool, "amount", args)
	if err != nil {
		return nil, err
	}
	if amount.Sign() <= 0 && !args.Has("commitment") && !args.Has("capability") {
		return nil, NewInvalidFieldError(tool, "amount", nil, "burn needs a fungible amount or an NFT to destroy")
	}
	resp, err := b.Signer.TokenBurn(ctx, bitcoin.TokenBurnRequest{
		WalletID:   bitcoin.WalletID(w.Network, w.WIF),
		TokenID:    category,
		Amount:     amountString(amount),
		Commitment: args.String("commitment"),
		Capability: args.String("capability"),
		Message:    args.String("message"),
	})
	if err != nil {
		return nil, signerError(tool, err)
	}
	return sendResult(resp, map[string]any{"category": category, "burned": amount}), nil
}

func (b *Backend) tokenSend(ctx context.Context, args Args) (any, error) {
	const tool = "token_send"
	w, err := b.wallet(tool, args.String("wif"))
	if err != nil {
		return nil, err
	}
	to, err := b.address(tool, "to", args.String("to"))
	if err != nil {
		return nil, err
	}
	category := strings.ToLower(args.String("category"))
	if err := hexField(tool, "category", category, 32); err != nil {
		return nil, err
	}
	amount, err := tokenAmount(tool, "amount", args)
	if err != nil {
		return nil, err
	}
	if amount.Sign() <= 0 && !args.Has("commitment") && !args.Has("capability") {
		return nil, NewInvalidFieldError(tool, "amount", nil, "send needs a fungible amount or an NFT")
	}
	recipient := to.WithTokens(true).String()
	resp, err := b.Signer.Send(ctx, bitcoin.WalletID(w.Network, w.WIF), []bitcoin.SendOutput{{
		Cashaddr:   recipient,
		TokenID:    category,
		Amount:     amountString(amount),
		Commitment: args.String("commitment"),
		Capability: args.String("capability"),
	}})
	if err != nil {
		return nil, signerError(tool, err)
	}
	return sendResult(resp, map[string]any{"category": category, "to": recipient, "amount": amount}), nil
}

// Escrow

func (b *Backend) escrowCreate(ctx context.Context, args Args) (any, error) {
	const tool = "escrow_create"
	network := b.network()
	for _, field := range []string{"buyer", "seller", "arbiter"} {
		addr, err := b.address(tool, field, args.String(field))
		if err != nil {
			return nil, err
		}
		if addr.IsScriptHash() {
			return nil, NewInvalidFieldError(tool, field, args.String(field), "escrow parties must use p2pkh addresses")
		}
	}
	contract, err := b.Escrow.CreateEscrow(smart_contract.EscrowConfig{
		Network:    network,
		Buyer:      args.String("buyer"),
		Seller:     args.String("seller"),
		Arbiter:    args.String("arbiter"),
		AmountSats: args.Int("amount"),
		Nonce:      args.Int("nonce"),
	})
	if err != nil {
		return nil, NewInvalidFieldError(tool, "", nil, err.Error())
	}
	return contract, nil
}

func (b *Backend) escrowContract(tool string, args Args) (*smart_contract.EscrowContract, error) {
	contract, err := smart_contract.DecodeDescriptor(args.String("escrow"))
	if err != nil {
		return nil, NewInvalidFieldError(tool, "escrow", nil, err.Error())
	}
	if contract.Network != b.network() {
		return nil, NewInvalidFieldError(tool, "escrow", nil, "escrow belongs to network "+contract.Network)
	}
	return contract, nil
}

func (b *Backend) escrowGetBalance(ctx context.Context, args Args) (any, error) {
	const tool = "escrow_get_balance"
	contract, err := b.escrowContract(tool, args)
	if err != nil {
		return nil, err
	}
	chain, err := chainFromContext(ctx)
	if err != nil {
		return nil, chainError(tool, err)
	}
	bal, err := b.Escrow.GetEscrowBalance(ctx, chain, contract)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"contract_id":     contract.ContractID,
		"deposit_address": contract.Address,
		"confirmed":       bal.Confirmed,
		"unconfirmed":     bal.Unconfirmed,
		"total":           bal.Total(),
		"funded":          bal.Total() >= contract.AmountSats,
	}, nil
}

func (b *Backend) escrowUnlock(tool, branch string) HandlerFunc {
	return func(ctx context.Context, args Args) (any, error) {
		contract, err := b.escrowContract(tool, args)
		if err != nil {
			return nil, err
		}
		wif := args.String("wif")
		if _, err := b.wallet(tool, wif); err != nil {
			return nil, err
		}
		unlock := b.Escrow.ReleaseEscrow
		if branch == smart_contract.BranchRefund {
			unlock = b.Escrow.RefundEscrow
		}
		resp, err := unlock(ctx, contract, wif)
		if errors.Is(err, smart_contract.ErrNotAuthorized) {
			return nil, NewInvalidFieldError(tool, "wif", nil, err.Error())
		}
		if err != nil {
			return nil, signerError(tool, err)
		}
		return sendResult(resp, map[string]any{"contract_id": contract.ContractID, "branch": branch}), nil
	}
}

// Messages

func (b *Backend) signMessage(ctx context.Context, args Args) (any, error) {
	w, err := bitcoin.WalletFromWIF(args.String("wif"), "")
	if err != nil {
		return nil, NewInvalidFieldError("sign_message", "wif", nil, "invalid WIF private key")
	}
	sig := w.SignMessage(args.String("message"))
	return map[string]any{"address": w.Address, "message": args.String("message"), "signature": sig}, nil
}

func (b *Backend) verifyMessage(ctx context.Context, args Args) (any, error) {
	const tool = "verify_message"
	address := args.String("address")
	if info := bitcoin.ValidateAddress(address); !info.Valid {
		return nil, NewInvalidFieldError(tool, "address", address, "invalid address: "+info.Error)
	}
	valid, err := bitcoin.VerifyMessage(address, args.String("message"), args.String("signature"))
	out := map[string]any{"address": address, "valid": valid}
	if err != nil {
		out["error"] = err.Error()
	}
	return out, nil
}

// Conversion

func (b *Backend) getBCHPrice(ctx context.Context, args Args) (any, error) {
	if b.Prices == nil {
		return nil, NewServiceUnavailableError("get_bch_price", "price")
	}
	currency := args.String("currency")
	price, err := b.Prices.Price(ctx, currency)
	if err != nil {
		return nil, err
	}
	return map[string]any{"currency": currency, "price": price}, nil
}

func (b *Backend) convert(ctx context.Context, args Args) (any, error) {
	const tool = "convert"
	from, to := args.String("from"), args.String("to")
	price, err := b.usdPrice(ctx, from, to)
	if err != nil {
		return nil, err
	}
	sats, err := bitcoin.ToSatoshis(args.Float("value"), from, price)
	if err != nil {
		return nil, NewInvalidFieldError(tool, "value", args.Float("value"), err.Error())
	}
	result, err := inUnit(sats, to, price)
	if err != nil {
		return nil, err
	}
	out := map[string]any{"value": args.Float("value"), "from": from, "to": to, "result": result, "satoshis": sats}
	if price > 0 {
		out["usd_price"] = price
	}
	return out, nil
}

// QR

func (b *Backend) generateQR(ctx context.Context, args Args) (any, error) {
	const tool = "generate_qr"
	info := bitcoin.ValidateAddress(args.String("address"))
	if !info.Valid {
		return nil, NewInvalidFieldError(tool, "address", args.String("address"), "invalid address: "+info.Error)
	}
	uri := services.PaymentURI(info.Address, args.Float("amount"), args.String("label"))
	size := int(args.Int("size"))
	png, err := b.QR.GenerateQRCode(uri, size)
	if err != nil {
		return nil, err
	}
	return &Output{
		Blocks: []mcp.Content{
			mcp.NewImageContent(base64.StdEncoding.EncodeToString(png), "image/png"),
			mcp.NewTextContent(uri),
		},
		Value: map[string]any{"uri": uri, "size": size, "mime_type": "image/png"},
	}, nil
}

// Session

func (b *Backend) getSessionInfo(ctx context.Context, args Args) (any, error) {
	s, ok := session.FromContext(ctx)
	if !ok {
		return nil, NewInternalError("get_session_info", "call is not bound to a session")
	}
	return map[string]any{
		"session_id":  s.ID,
		"created_at":  s.CreatedAt.UTC().Format(time.RFC3339),
		"last_access": s.LastAccess().UTC().Format(time.RFC3339),
		"calls":       s.Calls(),
		"network":     b.network(),
	}, nil
}

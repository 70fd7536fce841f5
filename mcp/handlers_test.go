package mcp

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"bch-mcp-server/bitcoin"
	"bch-mcp-server/electrum"

	"github.com/mark3labs/mcp-go/mcp"
)

const testCategory = "8b2f4cbf6e1d1a0bbb9ae6a46e0b2dbd1dfe6a1fb4d6b3fd7c3cc9a2e5dcd0a1"

func TestCreateAndInspectWallet(t *testing.T) {
	h := newHarness(t)

	created := h.ok("create_wallet", nil)
	if created["network"] != "mainnet" {
		t.Fatalf("network = %v, want mainnet default", created["network"])
	}
	if !strings.HasPrefix(created["address"].(string), "bitcoincash:q") {
		t.Fatalf("address = %v", created["address"])
	}
	if !strings.HasPrefix(created["token_address"].(string), "bitcoincash:z") {
		t.Fatalf("token_address = %v", created["token_address"])
	}

	info := h.ok("get_wallet_info", map[string]any{"wif": created["wif"]})
	if info["address"] != created["address"] || info["public_key"] != created["public_key"] {
		t.Fatalf("info = %v, created = %v", info, created)
	}
	if _, leaked := info["wif"]; leaked {
		t.Fatal("get_wallet_info echoed the private key")
	}

	testnet := h.ok("create_wallet", map[string]any{"network": "testnet"})
	if !strings.HasPrefix(testnet["address"].(string), "bchtest:") {
		t.Fatalf("testnet address = %v", testnet["address"])
	}
	h.fails("create_wallet", map[string]any{"network": "dogecoin"}, ErrCodeInvalidValue)
}

func TestInvalidWIFIsNotEchoed(t *testing.T) {
	h := newHarness(t)
	secret := "not-a-real-wif-but-still-secret"
	te := h.fails("get_wallet_info", map[string]any{"wif": secret}, ErrCodeInvalidValue)
	payload, _ := json.Marshal(te)
	if strings.Contains(string(payload), secret) {
		t.Fatalf("error leaks the key: %s", payload)
	}
}

func TestValidateAddress(t *testing.T) {
	h := newHarness(t)
	w := newWallet(t, "testnet")

	got := h.ok("validate_address", map[string]any{"address": w.Address})
	if got["valid"] != true || got["network"] != "testnet" || got["type"] != "p2pkh" {
		t.Fatalf("validate = %v", got)
	}
	bad := h.ok("validate_address", map[string]any{"address": "bitcoincash:qqqqqqq"})
	if bad["valid"] != false || bad["error"] == "" {
		t.Fatalf("invalid address result = %v", bad)
	}
}

func TestGetBalanceUnits(t *testing.T) {
	h := newHarness(t)
	w := newWallet(t, "mainnet")
	h.chain.setBalance(scriptHash(t, w.Address), 150_000_000, 50_000_000)

	sats := h.ok("get_balance", map[string]any{"address": w.Address})
	if sats["unit"] != "sat" || sats["total"] != int64(200_000_000) || sats["confirmed"] != int64(150_000_000) {
		t.Fatalf("sat balance = %v", sats)
	}

	bch := h.ok("get_balance", map[string]any{"address": w.Address, "unit": "bch"})
	if bch["total"] != 2.0 || bch["unconfirmed"] != 0.5 {
		t.Fatalf("bch balance = %v", bch)
	}

	usd := h.ok("get_balance", map[string]any{"address": w.Address, "unit": "usd"})
	if usd["total"] != 800.0 {
		t.Fatalf("usd balance = %v", usd)
	}

	te := h.fails("get_balance", map[string]any{"address": w.Address, "unit": "eur"}, ErrCodeInvalidValue)
	if te.Field != "unit" {
		t.Fatalf("field = %q, want unit", te.Field)
	}
}

func TestAddressMustMatchNetwork(t *testing.T) {
	h := newHarness(t)
	w := newWallet(t, "testnet")
	te := h.fails("get_balance", map[string]any{"address": w.Address}, ErrCodeInvalidValue)
	if te.Field != "address" {
		t.Fatalf("field = %q, want address", te.Field)
	}
}

func TestUTXOsAndHistory(t *testing.T) {
	h := newHarness(t)
	w := newWallet(t, "mainnet")
	sh := scriptHash(t, w.Address)

	empty := h.ok("get_utxos", map[string]any{"address": w.Address})
	if empty["count"] != 0 {
		t.Fatalf("count = %v", empty["count"])
	}
	if utxos, ok := empty["utxos"].([]any); !ok || len(utxos) != 0 {
		t.Fatalf("utxos = %#v, want empty list", empty["utxos"])
	}

	h.chain.addHistory(sh,
		electrum.HistoryItem{TxHash: "aa", Height: 100},
		electrum.HistoryItem{TxHash: "bb", Height: 101},
		electrum.HistoryItem{TxHash: "cc", Height: 0},
	)
	got := h.ok("get_history", map[string]any{"address": w.Address, "limit": 2.0})
	history := got["history"].([]any)
	if got["total"] != 3 || len(history) != 2 {
		t.Fatalf("history = %v", got)
	}
	if last := history[1].(map[string]any); last["tx_hash"] != "cc" {
		t.Fatalf("last entry = %v, want most recent", last)
	}
	h.fails("get_history", map[string]any{"address": w.Address, "limit": 1.5}, ErrCodeInvalidType)
}

func TestBlockHeightAndTransactions(t *testing.T) {
	h := newHarness(t)
	got := h.ok("get_block_height", nil)
	if got["height"] != int64(840000) {
		t.Fatalf("height = %v", got)
	}

	txid := strings.Repeat("ab", 32)
	h.chain.txs[txid] = "0200000001"
	tx := h.ok("get_transaction", map[string]any{"txid": strings.ToUpper(txid)})
	if tx["hex"] != "0200000001" || tx["txid"] != txid {
		t.Fatalf("tx = %v", tx)
	}
	h.fails("get_transaction", map[string]any{"txid": strings.Repeat("zz", 32)}, ErrCodeInvalidValue)
	h.fails("get_transaction", map[string]any{"txid": strings.Repeat("00", 32)}, ErrCodeDelegatedFailure)

	sent := h.ok("broadcast_transaction", map[string]any{"raw_hex": "0100"})
	if len(sent["txid"].(string)) != 64 || len(h.chain.sent) != 1 {
		t.Fatalf("broadcast = %v", sent)
	}
	h.fails("broadcast_transaction", map[string]any{"raw_hex": "xyz"}, ErrCodeInvalidValue)
}

func TestTokenBalances(t *testing.T) {
	h := newHarness(t)
	w := newWallet(t, "mainnet")
	huge, _ := new(big.Int).SetString("18446744073709551617", 10)
	other := strings.Repeat("11", 32)
	h.chain.utxos[scriptHash(t, w.Address)] = []electrum.UTXO{
		{TxHash: "a", Value: 1000, TokenData: &electrum.TokenData{Category: testCategory, Amount: huge}},
		{TxHash: "b", Value: 1000, TokenData: &electrum.TokenData{Category: testCategory, Amount: big.NewInt(5)}},
		{TxHash: "c", Value: 1000, TokenData: &electrum.TokenData{Category: other, Amount: new(big.Int), NFT: &electrum.NFT{Capability: "none", Commitment: "01"}}},
		{TxHash: "d", Value: 5000},
	}

	one := h.ok("get_token_balance", map[string]any{"address": w.Address, "category": testCategory})
	if one["amount"] != "18446744073709551622" || one["nft_count"] != 0 {
		t.Fatalf("token balance = %v", one)
	}

	all := h.ok("get_all_token_balances", map[string]any{"address": w.Address})
	tokens := all["tokens"].(map[string]any)
	if tokens[testCategory] != "18446744073709551622" || tokens[other] != "0" {
		t.Fatalf("tokens = %v", tokens)
	}
	if nfts := all["nfts"].(map[string]any); nfts[other] != 1 {
		t.Fatalf("nfts = %v", nfts)
	}

	h.fails("get_token_balance", map[string]any{"address": w.Address, "category": strings.Repeat("g", 64)}, ErrCodeInvalidValue)
}

func TestWaitForTransaction(t *testing.T) {
	h := newHarness(t)
	w := newWallet(t, "mainnet")
	sh := scriptHash(t, w.Address)
	h.chain.addHistory(sh, electrum.HistoryItem{TxHash: "old", Height: 10})

	done := make(chan Result, 1)
	go func() { done <- h.call("wait_for_transaction", map[string]any{"address": w.Address, "timeout_seconds": 10.0}) }()

	h.chain.waitFor(t, "SubscribeScripthash")
	h.chain.waitFor(t, "GetHistory")
	h.chain.addHistory(sh, electrum.HistoryItem{TxHash: "new", Height: 0})
	h.chain.notify(sh)

	select {
	case res := <-done:
		if res.Err != nil {
			t.Fatalf("wait failed: %v", res.Err)
		}
		if got := res.Value.(map[string]any); got["txid"] != "new" {
			t.Fatalf("txid = %v, want new", got["txid"])
		}
	case <-time.After(5 * time.Second):
		t.Fatal("wait_for_transaction did not return")
	}
}

func TestWaitForTransactionTimesOut(t *testing.T) {
	h := newHarness(t)
	w := newWallet(t, "mainnet")
	te := h.fails("wait_for_transaction", map[string]any{"address": w.Address, "timeout_seconds": 1.0}, ErrCodeTimeout)
	if te.Tool != "wait_for_transaction" {
		t.Fatalf("tool = %q", te.Tool)
	}
	h.fails("wait_for_transaction", map[string]any{"address": w.Address, "timeout_seconds": 0.0}, ErrCodeInvalidValue)
}

func TestWaitForBalance(t *testing.T) {
	h := newHarness(t)
	w := newWallet(t, "mainnet")
	sh := scriptHash(t, w.Address)
	h.chain.setBalance(sh, 1000, 0)

	done := make(chan Result, 1)
	go func() {
		done <- h.call("wait_for_balance", map[string]any{"address": w.Address, "target": 0.0001, "unit": "bch"})
	}()

	h.chain.waitFor(t, "SubscribeScripthash")
	h.chain.waitFor(t, "GetBalance")
	h.chain.setBalance(sh, 1000, 9000)
	h.chain.notify(sh)

	select {
	case res := <-done:
		if res.Err != nil {
			t.Fatalf("wait failed: %v", res.Err)
		}
		if got := res.Value.(map[string]any); got["balance_sats"] != int64(10000) {
			t.Fatalf("balance = %v", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("wait_for_balance did not return")
	}
}

func TestChainUnavailable(t *testing.T) {
	h := newHarnessWith(t, &Backend{Network: "mainnet"}, nil, nil)
	w := newWallet(t, "mainnet")
	te := h.fails("get_balance", map[string]any{"address": w.Address}, ErrCodeServiceUnavailable)
	if !strings.Contains(te.Message, "electrum") {
		t.Fatalf("message = %q", te.Message)
	}
}

func TestSendWithoutSigner(t *testing.T) {
	h := newHarness(t)
	from, to := newWallet(t, "mainnet"), newWallet(t, "mainnet")
	h.fails("send", map[string]any{"wif": from.WIF, "to": to.Address, "amount": 1000.0}, ErrCodeServiceUnavailable)
	te := h.fails("send", map[string]any{"wif": from.WIF, "to": to.Address, "amount": 100.0}, ErrCodeInvalidValue)
	if te.Field != "amount" {
		t.Fatalf("dust error field = %q", te.Field)
	}
	h.fails("send", map[string]any{"wif": from.WIF, "to": to.Address, "amount": 10.5}, ErrCodeInvalidValue)
}

// signerStub records the requests a fake signing service receives.
type signerStub struct {
	mu       sync.Mutex
	paths    []string
	bodies   []map[string]any
	response string
}

func (s *signerStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	s.mu.Lock()
	s.paths = append(s.paths, r.URL.Path)
	s.bodies = append(s.bodies, body)
	s.mu.Unlock()
	if r.Header.Get("Authorization") != "Bearer test-token" {
		http.Error(w, `{"message":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(s.response))
}

func (s *signerStub) last() (string, map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.paths) == 0 {
		return "", nil
	}
	return s.paths[len(s.paths)-1], s.bodies[len(s.bodies)-1]
}

func newSignerHarness(t *testing.T, response string) (*harness, *signerStub) {
	t.Helper()
	stub := &signerStub{response: response}
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)
	chain := newFakeChain()
	backend := &Backend{
		Network: "mainnet",
		Prices:  fakePrices{"usd": 400},
		Signer:  bitcoin.NewSignerClient(srv.URL, "test-token", 5*time.Second),
	}
	return newHarnessWith(t, backend, func(context.Context) (ChainClient, error) { return chain, nil }, chain), stub
}

func TestSendThroughSigner(t *testing.T) {
	h, stub := newSignerHarness(t, `{"txId":"`+strings.Repeat("cd", 32)+`","balance":{"sat":4000}}`)
	from, to := newWallet(t, "mainnet"), newWallet(t, "mainnet")

	got := h.ok("send", map[string]any{"wif": from.WIF, "to": to.Address, "amount": 1.0, "unit": "usd"})
	if got["txid"] != strings.Repeat("cd", 32) || got["balance_sats"] != int64(4000) {
		t.Fatalf("send = %v", got)
	}
	if got["amount_sats"] != int64(250000) {
		t.Fatalf("amount_sats = %v, want 250000 at $400", got["amount_sats"])
	}
	path, body := stub.last()
	if path != "/wallet/send" {
		t.Fatalf("path = %s", path)
	}
	outputs := body["to"].([]any)
	if out := outputs[0].(map[string]any); out["cashaddr"] != to.Address || out["value"] != 250000.0 {
		t.Fatalf("output = %v", out)
	}
}

func TestTokenOperations(t *testing.T) {
	h, stub := newSignerHarness(t, `{"txId":"`+strings.Repeat("ef", 32)+`","tokenIds":["`+testCategory+`"]}`)
	w := newWallet(t, "mainnet")
	to := newWallet(t, "mainnet")

	genesis := h.ok("token_genesis", map[string]any{"wif": w.WIF, "amount": "21000000000000000000"})
	if genesis["category"] != testCategory || genesis["to"] != w.TokenAddress {
		t.Fatalf("genesis = %v", genesis)
	}
	if _, body := stub.last(); body["amount"] != "21000000000000000000" {
		t.Fatalf("genesis amount sent as %v", body["amount"])
	}
	h.fails("token_genesis", map[string]any{"wif": w.WIF}, ErrCodeInvalidValue)
	h.fails("token_genesis", map[string]any{"wif": w.WIF, "amount": "-5"}, ErrCodeInvalidValue)

	minted := h.ok("token_mint", map[string]any{"wif": w.WIF, "category": testCategory, "commitment": "beef", "count": 3.0})
	if minted["minted"] != 3 {
		t.Fatalf("mint = %v", minted)
	}
	if _, body := stub.last(); len(body["requests"].([]any)) != 3 {
		t.Fatalf("mint requests = %v", body["requests"])
	}

	burned := h.ok("token_burn", map[string]any{"wif": w.WIF, "category": testCategory, "amount": "100"})
	if burned["burned"] != "100" {
		t.Fatalf("burn = %v", burned)
	}
	h.fails("token_burn", map[string]any{"wif": w.WIF, "category": testCategory}, ErrCodeInvalidValue)

	sent := h.ok("token_send", map[string]any{"wif": w.WIF, "to": to.Address, "category": testCategory, "amount": "7"})
	if sent["to"] != to.TokenAddress || sent["amount"] != "7" {
		t.Fatalf("token_send = %v", sent)
	}
	if path, _ := stub.last(); path != "/wallet/send" {
		t.Fatalf("token_send path = %s", path)
	}
}

func TestEscrowLifecycle(t *testing.T) {
	h, stub := newSignerHarness(t, `{"txId":"`+strings.Repeat("12", 32)+`"}`)
	buyer, seller, arbiter := newWallet(t, "mainnet"), newWallet(t, "mainnet"), newWallet(t, "mainnet")
	args := map[string]any{
		"buyer":   buyer.Address,
		"seller":  seller.Address,
		"arbiter": arbiter.Address,
		"amount":  100000.0,
	}

	first := h.ok("escrow_create", args)
	second := h.ok("escrow_create", args)
	if first["contract_id"] != second["contract_id"] || first["deposit_address"] != second["deposit_address"] {
		t.Fatal("escrow derivation is not deterministic")
	}
	if !strings.HasPrefix(first["deposit_address"].(string), "bitcoincash:p") {
		t.Fatalf("deposit = %v, want p2sh", first["deposit_address"])
	}
	args["nonce"] = 1.0
	if third := h.ok("escrow_create", args); third["contract_id"] == first["contract_id"] {
		t.Fatal("nonce does not change the contract")
	}
	args["amount"] = 1000.0
	h.fails("escrow_create", args, ErrCodeInvalidValue)

	descriptor := first["escrow"].(string)
	h.chain.setBalance(scriptHash(t, first["deposit_address"].(string)), 100000, 0)
	bal := h.ok("escrow_get_balance", map[string]any{"escrow": descriptor})
	if bal["funded"] != true || bal["total"] != int64(100000) {
		t.Fatalf("escrow balance = %v", bal)
	}

	stranger := newWallet(t, "mainnet")
	te := h.fails("escrow_release", map[string]any{"escrow": descriptor, "wif": stranger.WIF}, ErrCodeInvalidValue)
	if te.Field != "wif" {
		t.Fatalf("field = %q", te.Field)
	}
	h.fails("escrow_refund", map[string]any{"escrow": descriptor, "wif": buyer.WIF}, ErrCodeInvalidValue)

	released := h.ok("escrow_release", map[string]any{"escrow": descriptor, "wif": buyer.WIF})
	if released["branch"] != "release" || released["txid"] != strings.Repeat("12", 32) {
		t.Fatalf("release = %v", released)
	}
	if path, body := stub.last(); path != "/contract/escrow/unlock" || body["branch"] != "release" {
		t.Fatalf("unlock = %s %v", path, body)
	}

	h.fails("escrow_get_balance", map[string]any{"escrow": "escrow:mainnet:@@@"}, ErrCodeInvalidValue)
}

func TestSignAndVerifyMessage(t *testing.T) {
	h := newHarness(t)
	w := newWallet(t, "mainnet")

	signed := h.ok("sign_message", map[string]any{"wif": w.WIF, "message": "hello cash"})
	if signed["address"] != w.Address {
		t.Fatalf("signed by %v", signed["address"])
	}

	good := h.ok("verify_message", map[string]any{"address": w.Address, "message": "hello cash", "signature": signed["signature"]})
	if good["valid"] != true {
		t.Fatalf("verify = %v", good)
	}
	tampered := h.ok("verify_message", map[string]any{"address": w.Address, "message": "hello cash!", "signature": signed["signature"]})
	if tampered["valid"] != false {
		t.Fatalf("tampered verify = %v", tampered)
	}
	h.fails("verify_message", map[string]any{"address": "nope", "message": "m", "signature": "c2ln"}, ErrCodeInvalidValue)
}

func TestPriceAndConvert(t *testing.T) {
	h := newHarness(t)

	price := h.ok("get_bch_price", nil)
	if price["currency"] != "usd" || price["price"] != 400.0 {
		t.Fatalf("price = %v", price)
	}
	if eur := h.ok("get_bch_price", map[string]any{"currency": "eur"}); eur["price"] != 370.0 {
		t.Fatalf("eur = %v", eur)
	}
	h.fails("get_bch_price", map[string]any{"currency": "btc"}, ErrCodeInvalidValue)

	bch := h.ok("convert", map[string]any{"value": 150000000.0, "from": "sat", "to": "bch"})
	if bch["result"] != 1.5 {
		t.Fatalf("sat->bch = %v", bch)
	}
	usd := h.ok("convert", map[string]any{"value": 0.5, "from": "bch", "to": "usd"})
	if usd["result"] != 200.0 || usd["usd_price"] != 400.0 {
		t.Fatalf("bch->usd = %v", usd)
	}
	sats := h.ok("convert", map[string]any{"value": 4.0, "from": "usd", "to": "sat"})
	if sats["result"] != int64(1000000) {
		t.Fatalf("usd->sat = %v", sats)
	}
	h.fails("convert", map[string]any{"value": 1.0, "from": "sat", "to": "eur"}, ErrCodeInvalidValue)

	noFeed := newHarnessWith(t, &Backend{}, nil, nil)
	noFeed.fails("get_bch_price", nil, ErrCodeServiceUnavailable)
}

func TestGenerateQR(t *testing.T) {
	h := newHarness(t)
	w := newWallet(t, "mainnet")
	res := h.call("generate_qr", map[string]any{"address": w.Address, "amount": 0.01, "label": "coffee"})
	if res.Err != nil {
		t.Fatalf("generate_qr: %v", res.Err)
	}
	if len(res.Content) != 2 {
		t.Fatalf("content blocks = %d", len(res.Content))
	}
	img, ok := res.Content[0].(mcp.ImageContent)
	if !ok || img.MIMEType != "image/png" || img.Data == "" {
		t.Fatalf("first block = %#v", res.Content[0])
	}
	value := res.Value.(map[string]any)
	if !strings.HasPrefix(value["uri"].(string), w.Address+"?amount=0.01") || value["size"] != 256 {
		t.Fatalf("value = %v", value)
	}
	h.fails("generate_qr", map[string]any{"address": w.Address, "size": 32.0}, ErrCodeInvalidValue)
}

func TestSessionInfoCountsCalls(t *testing.T) {
	h := newHarness(t)
	first := h.ok("get_session_info", nil)
	if first["session_id"] != h.session.ID || first["network"] != "mainnet" {
		t.Fatalf("info = %v", first)
	}
	if first["calls"] != int64(0) {
		t.Fatalf("calls = %v before any admitted call", first["calls"])
	}

	for i := 0; i < 2; i++ {
		release, err := h.session.Acquire(context.Background())
		if err != nil {
			t.Fatalf("acquire: %v", err)
		}
		release()
	}
	if got := h.ok("get_session_info", nil); got["calls"] != int64(2) {
		t.Fatalf("calls = %v, want 2", got["calls"])
	}
}

package mcp

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"bch-mcp-server/bitcoin"
	"bch-mcp-server/core/smart_contract"
	"bch-mcp-server/electrum"
	"bch-mcp-server/services"
	"bch-mcp-server/session"
)

// fakeChain is an in-memory ChainClient. Every method call is reported on
// calls so tests can sequence notifications after a handler's reads.
type fakeChain struct {
	mu       sync.Mutex
	balances map[string]electrum.Balance
	utxos    map[string][]electrum.UTXO
	history  map[string][]electrum.HistoryItem
	txs      map[string]string
	height   int64
	sent     []string
	subs     map[string]chan string
	err      error

	calls     chan string
	done      chan struct{}
	closeOnce sync.Once
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		balances: make(map[string]electrum.Balance),
		utxos:    make(map[string][]electrum.UTXO),
		history:  make(map[string][]electrum.HistoryItem),
		txs:      make(map[string]string),
		height:   840000,
		subs:     make(map[string]chan string),
		calls:    make(chan string, 256),
		done:     make(chan struct{}),
	}
}

func (f *fakeChain) record(name string) {
	select {
	case f.calls <- name:
	default:
	}
}

// waitFor blocks until method name has been called.
func (f *fakeChain) waitFor(t *testing.T, name string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case got := <-f.calls:
			if got == name {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", name)
		}
	}
}

func (f *fakeChain) setBalance(sh string, confirmed, unconfirmed int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[sh] = electrum.Balance{Confirmed: confirmed, Unconfirmed: unconfirmed}
}

func (f *fakeChain) addHistory(sh string, items ...electrum.HistoryItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history[sh] = append(f.history[sh], items...)
}

// notify pushes a status change to the subscriber of sh.
func (f *fakeChain) notify(sh string) {
	f.mu.Lock()
	ch := f.subs[sh]
	f.mu.Unlock()
	if ch != nil {
		ch <- fmt.Sprintf("status-%d", time.Now().UnixNano())
	}
}

func (f *fakeChain) GetBalance(ctx context.Context, sh string) (*electrum.Balance, error) {
	f.mu.Lock()
	bal, err := f.balances[sh], f.err
	f.mu.Unlock()
	f.record("GetBalance")
	if err != nil {
		return nil, err
	}
	return &bal, nil
}

func (f *fakeChain) ListUnspent(ctx context.Context, sh string) ([]electrum.UTXO, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ListUnspent")
	return append([]electrum.UTXO(nil), f.utxos[sh]...), f.err
}

func (f *fakeChain) GetHistory(ctx context.Context, sh string) ([]electrum.HistoryItem, error) {
	f.mu.Lock()
	out := append([]electrum.HistoryItem(nil), f.history[sh]...)
	f.mu.Unlock()
	f.record("GetHistory")
	return out, nil
}

func (f *fakeChain) GetTransaction(ctx context.Context, txid string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.txs[txid]
	if !ok {
		return "", fmt.Errorf("No such mempool or blockchain transaction")
	}
	return raw, nil
}

func (f *fakeChain) Broadcast(ctx context.Context, rawHex string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, rawHex)
	return fmt.Sprintf("%064x", len(f.sent)), nil
}

func (f *fakeChain) SubscribeScripthash(ctx context.Context, sh string) (string, <-chan string, func(), error) {
	ch := make(chan string, 4)
	f.mu.Lock()
	f.subs[sh] = ch
	f.mu.Unlock()
	f.record("SubscribeScripthash")
	return "", ch, func() {
		f.mu.Lock()
		if f.subs[sh] == ch {
			delete(f.subs, sh)
		}
		f.mu.Unlock()
	}, nil
}

func (f *fakeChain) SubscribeHeaders(ctx context.Context) (*electrum.Header, <-chan electrum.Header, func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &electrum.Header{Height: f.height}, make(chan electrum.Header), func() {}, nil
}

func (f *fakeChain) Done() <-chan struct{} { return f.done }

func (f *fakeChain) Close() error {
	f.closeOnce.Do(func() { close(f.done) })
	return nil
}

type fakePrices map[string]float64

func (p fakePrices) Price(ctx context.Context, currency string) (float64, error) {
	price, ok := p[currency]
	if !ok {
		return 0, fmt.Errorf("no price for %s", currency)
	}
	return price, nil
}

// harness runs tools through a dispatcher inside one live session.
type harness struct {
	t          *testing.T
	backend    *Backend
	chain      *fakeChain
	dispatcher *Dispatcher
	sessions   *session.Manager
	session    *session.Session
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	chain := newFakeChain()
	backend := &Backend{
		Network: "mainnet",
		Prices:  fakePrices{"usd": 400, "eur": 370},
		Escrow:  smart_contract.NewEscrowManager(nil),
		QR:      services.NewQRCodeService(),
	}
	return newHarnessWith(t, backend, func(context.Context) (ChainClient, error) { return chain, nil }, chain)
}

func newHarnessWith(t *testing.T, backend *Backend, dial ChainDialer, chain *fakeChain) *harness {
	t.Helper()
	if backend.Escrow == nil {
		backend.Escrow = smart_contract.NewEscrowManager(backend.Signer)
	}
	mgr := session.NewManager(session.Options{NewState: NewSessionState(dial)})
	s, err := mgr.Create()
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	t.Cleanup(mgr.CloseAll)
	return &harness{
		t:          t,
		backend:    backend,
		chain:      chain,
		dispatcher: NewDispatcher(MustRegistry(backend.Operations()...), WithCallTimeout(5*time.Second)),
		sessions:   mgr,
		session:    s,
	}
}

func (h *harness) call(name string, args map[string]any) Result {
	h.t.Helper()
	ctx := session.WithSession(context.Background(), h.session)
	return h.dispatcher.Dispatch(ctx, Call{Name: name, Arguments: args})
}

// ok runs a call that must succeed and returns its structured value.
func (h *harness) ok(name string, args map[string]any) map[string]any {
	h.t.Helper()
	res := h.call(name, args)
	if res.Err != nil {
		h.t.Fatalf("%s failed: %v", name, res.Err)
	}
	m, ok := res.Value.(map[string]any)
	if !ok {
		h.t.Fatalf("%s value is %T, want map", name, res.Value)
	}
	return m
}

// fails runs a call that must fail with code and returns the error.
func (h *harness) fails(name string, args map[string]any, code string) *ToolError {
	h.t.Helper()
	res := h.call(name, args)
	if res.Err == nil {
		h.t.Fatalf("%s succeeded with %v, want %s", name, res.Value, code)
	}
	if res.Err.Code != code {
		h.t.Fatalf("%s code = %s (%s), want %s", name, res.Err.Code, res.Err.Message, code)
	}
	return res.Err
}

func newWallet(t *testing.T, network string) *bitcoin.Wallet {
	t.Helper()
	w, err := bitcoin.NewWallet(network)
	if err != nil {
		t.Fatalf("new wallet: %v", err)
	}
	return w
}

func scriptHash(t *testing.T, address string) string {
	t.Helper()
	addr, err := bitcoin.DecodeAddress(address, "mainnet")
	if err != nil {
		t.Fatalf("decode %s: %v", address, err)
	}
	return addr.ScriptHash()
}

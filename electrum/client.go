// Package electrum is a client for the Electrum Cash protocol as served by
// Fulcrum: newline-delimited JSON-RPC over TCP or TLS with server-pushed
// subscription notifications.
package electrum

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"
)

// ProtocolVersion is the Electrum Cash protocol version negotiated on connect.
const ProtocolVersion = "1.4"

// ErrClosed is returned for calls on a closed client.
var ErrClosed = errors.New("electrum: client closed")

// Client is a single multiplexed connection. It is safe for concurrent use.
type Client struct {
	conn net.Conn

	wmu sync.Mutex

	mu         sync.Mutex
	pending    map[uint64]chan *message
	subs       map[string]map[*subscription]struct{}
	headerSubs map[*headerSubscription]struct{}
	err        error

	nextID    atomic.Uint64
	closed    chan struct{}
	closeOnce sync.Once
}

type subscription struct {
	ch chan string
}

type headerSubscription struct {
	ch chan Header
}

// Dial connects to rawURL (tcp://host:port or ssl://host:port) and performs
// the server.version handshake.
func Dial(ctx context.Context, rawURL, clientName string) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("electrum: parse url: %w", err)
	}
	host := u.Host
	var conn net.Conn
	switch u.Scheme {
	case "tcp":
		if u.Port() == "" {
			host = net.JoinHostPort(u.Hostname(), "50001")
		}
		var d net.Dialer
		conn, err = d.DialContext(ctx, "tcp", host)
	case "ssl", "tls":
		if u.Port() == "" {
			host = net.JoinHostPort(u.Hostname(), "50002")
		}
		d := tls.Dialer{Config: &tls.Config{ServerName: u.Hostname(), MinVersion: tls.VersionTLS12}}
		conn, err = d.DialContext(ctx, "tcp", host)
	default:
		return nil, fmt.Errorf("electrum: unsupported scheme %q", u.Scheme)
	}
	if err != nil {
		return nil, fmt.Errorf("electrum: dial %s: %w", host, err)
	}

	c := NewClient(conn)
	if _, err := c.ServerVersion(ctx, clientName, ProtocolVersion); err != nil {
		c.Close()
		return nil, fmt.Errorf("electrum: handshake: %w", err)
	}
	return c, nil
}

// NewClient wraps an established connection and starts reading from it.
func NewClient(conn net.Conn) *Client {
	c := &Client{
		conn:       conn,
		pending:    make(map[uint64]chan *message),
		subs:       make(map[string]map[*subscription]struct{}),
		headerSubs: make(map[*headerSubscription]struct{}),
		closed:     make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} { return c.closed }

// Err reports why the client stopped, or nil while it is running.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close tears the connection down and fails outstanding calls.
func (c *Client) Close() error {
	c.shutdown(ErrClosed)
	return nil
}

func (c *Client) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = cause
		pending := c.pending
		c.pending = make(map[uint64]chan *message)
		subs := c.subs
		c.subs = make(map[string]map[*subscription]struct{})
		headerSubs := c.headerSubs
		c.headerSubs = make(map[*headerSubscription]struct{})
		c.mu.Unlock()

		close(c.closed)
		_ = c.conn.Close()
		for _, ch := range pending {
			close(ch)
		}
		for _, set := range subs {
			for s := range set {
				close(s.ch)
			}
		}
		for s := range headerSubs {
			close(s.ch)
		}
	})
}

func (c *Client) readLoop() {
	r := bufio.NewReaderSize(c.conn, 64*1024)
	for {
		line, err := r.ReadBytes('\n')
		if len(line) > 0 {
			c.handleLine(line)
		}
		if err != nil {
			c.shutdown(fmt.Errorf("electrum: connection lost: %w", err))
			return
		}
	}
}

func (c *Client) handleLine(line []byte) {
	var msg message
	if err := json.Unmarshal(line, &msg); err != nil {
		log.Printf("electrum: dropping malformed message: %v", err)
		return
	}
	if msg.ID != nil {
		c.mu.Lock()
		ch, ok := c.pending[*msg.ID]
		delete(c.pending, *msg.ID)
		c.mu.Unlock()
		if ok {
			ch <- &msg
		}
		return
	}

	switch msg.Method {
	case "blockchain.scripthash.subscribe":
		var params []json.RawMessage
		if err := json.Unmarshal(msg.Params, &params); err != nil || len(params) < 2 {
			return
		}
		var sh, status string
		_ = json.Unmarshal(params[0], &sh)
		_ = json.Unmarshal(params[1], &status)
		c.mu.Lock()
		for s := range c.subs[sh] {
			deliver(s.ch, status)
		}
		c.mu.Unlock()
	case "blockchain.headers.subscribe":
		var params []Header
		if err := json.Unmarshal(msg.Params, &params); err != nil || len(params) == 0 {
			return
		}
		c.mu.Lock()
		for s := range c.headerSubs {
			deliver(s.ch, params[0])
		}
		c.mu.Unlock()
	}
}

// deliver keeps only the latest value when the listener lags.
func deliver[T any](ch chan T, v T) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}

// Call sends one request and decodes its result into out (which may be nil).
func (c *Client) Call(ctx context.Context, method string, params []any, out any) error {
	if params == nil {
		params = []any{}
	}
	id := c.nextID.Add(1)
	ch := make(chan *message, 1)

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return err
	}
	c.pending[id] = ch
	c.mu.Unlock()

	payload, err := json.Marshal(request{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		c.forget(id)
		return err
	}
	payload = append(payload, '\n')

	c.wmu.Lock()
	if dl, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(dl)
	} else {
		_ = c.conn.SetWriteDeadline(time.Time{})
	}
	_, err = c.conn.Write(payload)
	c.wmu.Unlock()
	if err != nil {
		c.forget(id)
		c.shutdown(fmt.Errorf("electrum: write: %w", err))
		return fmt.Errorf("electrum: %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		c.forget(id)
		return ctx.Err()
	case msg, ok := <-ch:
		if !ok {
			return c.Err()
		}
		if msg.Error != nil {
			return fmt.Errorf("%s: %w", method, msg.Error)
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(msg.Result, out); err != nil {
			return fmt.Errorf("electrum: decode %s: %w", method, err)
		}
		return nil
	}
}

func (c *Client) forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// ServerVersion negotiates the protocol version.
func (c *Client) ServerVersion(ctx context.Context, clientName, protocol string) ([]string, error) {
	var out []string
	if err := c.Call(ctx, "server.version", []any{clientName, protocol}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.Call(ctx, "server.ping", nil, nil)
}

func (c *Client) GetBalance(ctx context.Context, scripthash string) (*Balance, error) {
	var out Balance
	if err := c.Call(ctx, "blockchain.scripthash.get_balance", []any{scripthash, "include_tokens"}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListUnspent(ctx context.Context, scripthash string) ([]UTXO, error) {
	var out []UTXO
	if err := c.Call(ctx, "blockchain.scripthash.listunspent", []any{scripthash, "include_tokens"}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetHistory(ctx context.Context, scripthash string) ([]HistoryItem, error) {
	var out []HistoryItem
	if err := c.Call(ctx, "blockchain.scripthash.get_history", []any{scripthash}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Broadcast submits a raw transaction and returns its txid.
func (c *Client) Broadcast(ctx context.Context, rawHex string) (string, error) {
	var txid string
	if err := c.Call(ctx, "blockchain.transaction.broadcast", []any{rawHex}, &txid); err != nil {
		return "", err
	}
	return txid, nil
}

// GetTransaction returns the raw transaction hex.
func (c *Client) GetTransaction(ctx context.Context, txid string) (string, error) {
	var raw string
	if err := c.Call(ctx, "blockchain.transaction.get", []any{txid, false}, &raw); err != nil {
		return "", err
	}
	return raw, nil
}

// SubscribeScripthash registers for status changes of a script hash. The
// returned channel receives new status hashes and is closed when cancel is
// called or the connection drops.
func (c *Client) SubscribeScripthash(ctx context.Context, scripthash string) (string, <-chan string, func(), error) {
	s := &subscription{ch: make(chan string, 1)}
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return "", nil, nil, err
	}
	set, ok := c.subs[scripthash]
	if !ok {
		set = make(map[*subscription]struct{})
		c.subs[scripthash] = set
	}
	set[s] = struct{}{}
	c.mu.Unlock()

	var status *string
	if err := c.Call(ctx, "blockchain.scripthash.subscribe", []any{scripthash}, &status); err != nil {
		c.removeSub(scripthash, s)
		return "", nil, nil, err
	}
	initial := ""
	if status != nil {
		initial = *status
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			if c.removeSub(scripthash, s) {
				ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
				defer done()
				_ = c.Call(ctx, "blockchain.scripthash.unsubscribe", []any{scripthash}, nil)
			}
		})
	}
	return initial, s.ch, cancel, nil
}

// removeSub reports whether s was the last listener for scripthash.
func (c *Client) removeSub(scripthash string, s *subscription) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.subs[scripthash]
	if !ok {
		return false
	}
	if _, ok := set[s]; !ok {
		return false
	}
	delete(set, s)
	close(s.ch)
	if len(set) == 0 {
		delete(c.subs, scripthash)
		return true
	}
	return false
}

// SubscribeHeaders returns the current tip and a channel of new tips.
func (c *Client) SubscribeHeaders(ctx context.Context) (*Header, <-chan Header, func(), error) {
	s := &headerSubscription{ch: make(chan Header, 1)}
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, nil, nil, err
	}
	c.headerSubs[s] = struct{}{}
	c.mu.Unlock()

	var tip Header
	if err := c.Call(ctx, "blockchain.headers.subscribe", nil, &tip); err != nil {
		c.removeHeaderSub(s)
		return nil, nil, nil, err
	}
	var once sync.Once
	return &tip, s.ch, func() { once.Do(func() { c.removeHeaderSub(s) }) }, nil
}

func (c *Client) removeHeaderSub(s *headerSubscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.headerSubs[s]; ok {
		delete(c.headerSubs, s)
		close(s.ch)
	}
}

package mcp

import (
	"context"
	"errors"
	"sync"

	"bch-mcp-server/electrum"
	"bch-mcp-server/session"
)

// ChainClient is the Electrum surface the tools use.
type ChainClient interface {
	GetBalance(ctx context.Context, scripthash string) (*electrum.Balance, error)
	ListUnspent(ctx context.Context, scripthash string) ([]electrum.UTXO, error)
	GetHistory(ctx context.Context, scripthash string) ([]electrum.HistoryItem, error)
	GetTransaction(ctx context.Context, txid string) (string, error)
	Broadcast(ctx context.Context, rawHex string) (string, error)
	SubscribeScripthash(ctx context.Context, scripthash string) (string, <-chan string, func(), error)
	SubscribeHeaders(ctx context.Context) (*electrum.Header, <-chan electrum.Header, func(), error)
	Done() <-chan struct{}
	Close() error
}

// ChainDialer opens a chain connection.
type ChainDialer func(ctx context.Context) (ChainClient, error)

var errNoChain = errors.New("no electrum server configured")

// SessionState holds the resources one session owns exclusively: its
// Electrum connection, dialled on first use and redialled if it drops.
type SessionState struct {
	dial ChainDialer

	mu     sync.Mutex
	client ChainClient
	closed bool
}

// NewSessionState returns a session.Manager state factory.
func NewSessionState(dial ChainDialer) func(*session.Session) session.State {
	return func(*session.Session) session.State {
		return &SessionState{dial: dial}
	}
}

// Chain returns the session's connection, dialling when needed.
func (st *SessionState) Chain(ctx context.Context) (ChainClient, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		return nil, session.ErrClosed
	}
	if st.client != nil {
		select {
		case <-st.client.Done():
			st.client = nil
		default:
			return st.client, nil
		}
	}
	if st.dial == nil {
		return nil, errNoChain
	}
	c, err := st.dial(ctx)
	if err != nil {
		return nil, err
	}
	st.client = c
	return c, nil
}

// Close drops the connection; further Chain calls fail.
func (st *SessionState) Close() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.closed = true
	if st.client == nil {
		return nil
	}
	err := st.client.Close()
	st.client = nil
	return err
}

func chainFromContext(ctx context.Context) (ChainClient, error) {
	s, ok := session.FromContext(ctx)
	if !ok {
		return nil, errors.New("call is not bound to a session")
	}
	st, ok := s.State().(*SessionState)
	if !ok {
		return nil, errNoChain
	}
	return st.Chain(ctx)
}

// ElectrumDialer adapts electrum.Dial to a ChainDialer.
func ElectrumDialer(url, clientName string) ChainDialer {
	if url == "" {
		return nil
	}
	return func(ctx context.Context) (ChainClient, error) {
		return electrum.Dial(ctx, url, clientName)
	}
}

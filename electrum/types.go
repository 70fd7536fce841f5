package electrum

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
)

// Balance is the blockchain.scripthash.get_balance result in satoshis.
type Balance struct {
	Confirmed   int64 `json:"confirmed"`
	Unconfirmed int64 `json:"unconfirmed"`
}

// Total is confirmed plus unconfirmed.
func (b Balance) Total() int64 { return b.Confirmed + b.Unconfirmed }

// UTXO is one blockchain.scripthash.listunspent entry.
type UTXO struct {
	TxHash    string     `json:"tx_hash"`
	TxPos     uint32     `json:"tx_pos"`
	Height    int64      `json:"height"`
	Value     int64      `json:"value"`
	TokenData *TokenData `json:"token_data,omitempty"`
}

// TokenData is the CashTokens payload attached to an output.
type TokenData struct {
	Category string   `json:"category"`
	Amount   *big.Int `json:"amount"`
	NFT      *NFT     `json:"nft,omitempty"`
}

// NFT is the non-fungible part of a token output.
type NFT struct {
	Capability string `json:"capability"`
	Commitment string `json:"commitment"`
}

// UnmarshalJSON accepts the amount as a JSON number or a decimal string.
func (t *TokenData) UnmarshalJSON(data []byte) error {
	var raw struct {
		Category string          `json:"category"`
		Amount   json.RawMessage `json:"amount"`
		NFT      *NFT            `json:"nft"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	t.Category = raw.Category
	t.NFT = raw.NFT
	t.Amount = new(big.Int)
	amt := bytes.Trim(bytes.TrimSpace(raw.Amount), `"`)
	if len(amt) == 0 || string(amt) == "null" {
		return nil
	}
	if _, ok := t.Amount.SetString(string(amt), 10); !ok {
		return fmt.Errorf("electrum: invalid token amount %q", amt)
	}
	return nil
}

// HistoryItem is one blockchain.scripthash.get_history entry. Height is 0
// or negative for mempool transactions.
type HistoryItem struct {
	TxHash string `json:"tx_hash"`
	Height int64  `json:"height"`
	Fee    int64  `json:"fee,omitempty"`
}

// Header is the blockchain.headers.subscribe payload.
type Header struct {
	Height int64  `json:"height"`
	Hex    string `json:"hex"`
}

// RPCError is an error object returned by the server.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("electrum error %d: %s", e.Code, e.Message)
}

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type message struct {
	ID     *uint64         `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

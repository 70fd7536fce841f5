package bitcoin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrSignerNotConfigured is returned by every SignerClient call when no
// signing service URL was configured.
var ErrSignerNotConfigured = errors.New("signing service not configured")

// SignerClient talks to the wallet signing service (a mainnet-js compatible
// REST wallet) that builds, signs and broadcasts transactions.
type SignerClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewSignerClient builds a client. An empty baseURL yields a client whose
// calls fail with ErrSignerNotConfigured.
func NewSignerClient(baseURL, token string, timeout time.Duration) *SignerClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &SignerClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// Configured reports whether a signing service is available.
func (c *SignerClient) Configured() bool { return c != nil && c.baseURL != "" }

// WalletID renders the signing service wallet reference for a WIF key.
func WalletID(network, wif string) string {
	return fmt.Sprintf("wif:%s:%s", network, wif)
}

// SendOutput is one payment. Token fields are set for CashToken transfers;
// token amounts travel as decimal strings.
type SendOutput struct {
	Cashaddr   string `json:"cashaddr"`
	Value      int64  `json:"value,omitempty"`
	Unit       string `json:"unit,omitempty"`
	TokenID    string `json:"tokenId,omitempty"`
	Amount     string `json:"amount,omitempty"`
	Commitment string `json:"commitment,omitempty"`
	Capability string `json:"capability,omitempty"`
}

// SendResponse is returned by every spending endpoint.
type SendResponse struct {
	TxID     string   `json:"txId"`
	TokenIDs []string `json:"tokenIds,omitempty"`
	Balance  *struct {
		Sat int64 `json:"sat"`
	} `json:"balance,omitempty"`
}

type sendRequest struct {
	WalletID string       `json:"walletId"`
	To       []SendOutput `json:"to"`
}

type sendMaxRequest struct {
	WalletID string `json:"walletId"`
	Cashaddr string `json:"cashaddr"`
}

// TokenGenesisRequest creates a new token category.
type TokenGenesisRequest struct {
	WalletID   string `json:"walletId"`
	Cashaddr   string `json:"cashaddr,omitempty"`
	Amount     string `json:"amount,omitempty"`
	Commitment string `json:"commitment,omitempty"`
	Capability string `json:"capability,omitempty"`
	Value      int64  `json:"value,omitempty"`
}

// TokenMintRequest mints NFTs from a minting baton.
type TokenMintRequest struct {
	WalletID          string            `json:"walletId"`
	TokenID           string            `json:"tokenId"`
	Requests          []TokenMintOutput `json:"requests"`
	DeductTokenAmount bool              `json:"deductTokenAmount,omitempty"`
}

// TokenMintOutput describes one minted NFT.
type TokenMintOutput struct {
	Cashaddr   string `json:"cashaddr,omitempty"`
	Commitment string `json:"commitment,omitempty"`
	Capability string `json:"capability,omitempty"`
	Value      int64  `json:"value,omitempty"`
}

// TokenBurnRequest burns fungible amount or an NFT.
type TokenBurnRequest struct {
	WalletID   string `json:"walletId"`
	TokenID    string `json:"tokenId"`
	Amount     string `json:"amount,omitempty"`
	Commitment string `json:"commitment,omitempty"`
	Capability string `json:"capability,omitempty"`
	Message    string `json:"message,omitempty"`
}

// EscrowUnlockRequest asks the signing service to spend an escrow deposit
// through one of its two branches.
type EscrowUnlockRequest struct {
	WalletID       string `json:"walletId"`
	Branch         string `json:"branch"`
	RedeemScript   string `json:"redeemScript"`
	DepositAddress string `json:"depositAddress"`
	Cashaddr       string `json:"cashaddr"`
	MinimumValue   int64  `json:"minimumValue"`
}

// Send pays one or more outputs.
func (c *SignerClient) Send(ctx context.Context, walletID string, outputs []SendOutput) (*SendResponse, error) {
	var out SendResponse
	if err := c.post(ctx, "/wallet/send", sendRequest{WalletID: walletID, To: outputs}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SendMax sweeps the whole balance to one address.
func (c *SignerClient) SendMax(ctx context.Context, walletID, to string) (*SendResponse, error) {
	var out SendResponse
	if err := c.post(ctx, "/wallet/send_max", sendMaxRequest{WalletID: walletID, Cashaddr: to}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *SignerClient) TokenGenesis(ctx context.Context, req TokenGenesisRequest) (*SendResponse, error) {
	var out SendResponse
	if err := c.post(ctx, "/wallet/token_genesis", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *SignerClient) TokenMint(ctx context.Context, req TokenMintRequest) (*SendResponse, error) {
	var out SendResponse
	if err := c.post(ctx, "/wallet/token_mint", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *SignerClient) TokenBurn(ctx context.Context, req TokenBurnRequest) (*SendResponse, error) {
	var out SendResponse
	if err := c.post(ctx, "/wallet/token_burn", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *SignerClient) EscrowUnlock(ctx context.Context, req EscrowUnlockRequest) (*SendResponse, error) {
	var out SendResponse
	if err := c.post(ctx, "/contract/escrow/unlock", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *SignerClient) post(ctx context.Context, path string, body, out any) error {
	if !c.Configured() {
		return ErrSignerNotConfigured
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("signer %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var apiErr struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &apiErr) == nil {
			if apiErr.Message != "" {
				msg = apiErr.Message
			} else if apiErr.Error != "" {
				msg = apiErr.Error
			}
		}
		return fmt.Errorf("signer %s: status %d: %s", path, resp.StatusCode, msg)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

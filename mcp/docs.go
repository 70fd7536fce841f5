package mcp

import (
	"strings"
)

const resourceScheme = "bch://docs/"

// Resource is a static documentation page.
type Resource struct {
	Name        string
	Title       string
	Description string
	Text        string
}

// URI is the resource address clients read.
func (r Resource) URI() string { return resourceScheme + r.Name }

// MIMEType of every page.
func (r Resource) MIMEType() string { return "text/markdown" }

var resources = []Resource{
	{
		Name:        "overview",
		Title:       "Server overview",
		Description: "What the server does and how sessions work",
		Text: `# Bitcoin Cash MCP server

Tools cover key management, balance and UTXO queries, payments, CashTokens,
a three-party escrow contract, message signing, price conversion and
payment QR codes.

## Sessions

The first POST to /mcp without an Mcp-Session-Id header opens a session.
The response carries the header; send it on every following request.
Each session owns its own Electrum connection and runs one tool call at a
time. Sessions close after a period of inactivity or on DELETE /mcp.
A request naming an unknown or expired session fails with
SESSION_NOT_FOUND; start over without the header.

## Keys

Private keys are passed as WIF strings on each call. The server never
stores them and never echoes them in errors or logs.
`,
	},
	{
		Name:        "units",
		Title:       "Units and amounts",
		Description: "sat, bch and usd amounts and how they convert",
		Text: `# Units

| unit | meaning |
|------|---------|
| sat  | satoshi, the smallest unit |
| bch  | 100,000,000 satoshis |
| usd  | converted at the current market price |

Satoshi amounts must be whole numbers. BCH and USD amounts are rounded to
the nearest satoshi before spending. USD results are rounded to cents.

Outputs below 546 satoshis are dust and cannot be sent.

Token amounts are arbitrary precision integers and always travel as
decimal strings, both in arguments and in results.
`,
	},
	{
		Name:        "cashtokens",
		Title:       "CashTokens",
		Description: "Fungible tokens and NFTs",
		Text: `# CashTokens

A token category is identified by a 64 character hex id (the txid of the
genesis input). A category may carry a fungible supply, NFTs, or both.

NFT capabilities:

- none: immutable NFT
- mutable: the holder may change the commitment once per spend
- minting: the holder may create new NFTs of the category

Tokens must be sent to token-aware addresses (prefix z or r on mainnet).
token_send converts the recipient for you; create_wallet returns both
forms.

Tools: token_genesis, token_mint, token_burn, token_send,
get_token_balance, get_all_token_balances.
`,
	},
	{
		Name:        "escrow",
		Title:       "Escrow contract",
		Description: "Buyer, seller and arbiter escrow lifecycle",
		Text: `# Escrow

escrow_create derives a P2SH contract from three p2pkh addresses, an
amount in satoshis and an optional nonce. The same inputs always produce
the same deposit address and descriptor. Keep the descriptor: every other
escrow tool takes it.

1. The buyer funds the deposit address with the escrowed amount.
2. escrow_get_balance shows whether the deposit is funded.
3. escrow_release pays the seller. The buyer or the arbiter signs.
4. escrow_refund pays the buyer. The seller or the arbiter signs.

The unlocking transaction may spend at most 1000 satoshis on fees, so the
amount must be at least 1546 satoshis.
`,
	},
	{
		Name:        "errors",
		Title:       "Error codes",
		Description: "Error codes returned by tool calls",
		Text: `# Errors

Tool failures are JSON-RPC errors whose data member holds
{code, message, tool, field, hint}.

| code | JSON-RPC | meaning |
|------|----------|---------|
| PARSE_ERROR | -32700 | body is not JSON |
| INVALID_REQUEST | -32600 | not a JSON-RPC 2.0 request |
| METHOD_NOT_FOUND | -32601 | unknown JSON-RPC method |
| UNKNOWN_OPERATION | -32601 | unknown tool name |
| MISSING_REQUIRED_FIELD | -32602 | a required argument is absent |
| INVALID_FIELD_TYPE | -32602 | an argument has the wrong type |
| INVALID_FIELD_VALUE | -32602 | an argument is out of range or malformed |
| INTERNAL_ERROR | -32603 | unexpected server failure |
| DELEGATED_FAILURE | -32000 | the chain, signing or price service failed |
| SERVICE_UNAVAILABLE | -32000 | a backing service is not configured |
| SESSION_NOT_FOUND | -32001 | unknown or expired session |
| SESSION_LIMIT | -32002 | too many open sessions |
| TIMEOUT | -32003 | the call exceeded its deadline |
| SESSION_CLOSED | -32004 | the session closed during the call |
`,
	},
}

// Resources lists the documentation pages.
func Resources() []Resource {
	return append([]Resource(nil), resources...)
}

// LookupResource finds a page by short name or full URI.
func LookupResource(name string) (Resource, bool) {
	name = strings.TrimPrefix(name, resourceScheme)
	for _, r := range resources {
		if r.Name == name {
			return r, true
		}
	}
	return Resource{}, false
}

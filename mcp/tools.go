package mcp

import (
	"time"

	"bch-mcp-server/core/smart_contract"

	"github.com/mark3labs/mcp-go/mcp"
)

var (
	networks   = []string{"mainnet", "testnet", "chipnet", "regtest"}
	units      = []string{"sat", "bch", "usd"}
	currencies = []string{"usd", "eur", "gbp", "jpy", "cny", "cad", "aud"}
	nftCaps    = []string{"none", "mutable", "minting"}
)

const maxWaitSeconds = 3600

func wifParam() mcp.ToolOption {
	return mcp.WithString("wif", mcp.Required(), mcp.MinLength(1),
		mcp.Description("WIF encoded private key. Never logged or echoed back."))
}

func addressParam(name, desc string) mcp.ToolOption {
	return mcp.WithString(name, mcp.Required(), mcp.MinLength(1), mcp.Description(desc))
}

func categoryParam() mcp.ToolOption {
	return mcp.WithString("category", mcp.Required(), mcp.MinLength(64),
		mcp.Description("Token category id (64 hex characters)"))
}

func timeoutParam() mcp.ToolOption {
	return mcp.WithNumber("timeout_seconds", integer(),
		mcp.DefaultNumber(60), mcp.Min(1), mcp.Max(maxWaitSeconds),
		mcp.Description("How long to wait before failing with TIMEOUT"))
}

func readOnly(tool mcp.Tool) mcp.Tool {
	mcp.WithReadOnlyHintAnnotation(true)(&tool)
	return tool
}

// Operations returns the full tool catalogue bound to b.
func (b *Backend) Operations() []Operation {
	noTimeout := time.Duration(-1)

	return []Operation{
		// Key management
		{
			Tool: mcp.NewTool("create_wallet",
				mcp.WithDescription("Generate a new single-key wallet. Returns the address, token-aware address, public key and WIF."),
				mcp.WithString("network", mcp.Enum(networks...), mcp.DefaultString(b.network()),
					mcp.Description("Network the key is encoded for")),
			),
			Handler: b.createWallet,
		},
		{
			Tool: readOnly(mcp.NewTool("get_wallet_info",
				mcp.WithDescription("Derive the addresses and public key of a WIF key"),
				wifParam(),
			)),
			Handler: b.getWalletInfo,
		},
		{
			Tool: readOnly(mcp.NewTool("validate_address",
				mcp.WithDescription("Check a CashAddr and report its type, network and token awareness"),
				addressParam("address", "CashAddr, with or without prefix"),
			)),
			Handler: b.validateAddress,
		},

		// Chain queries
		{
			Tool: readOnly(mcp.NewTool("get_balance",
				mcp.WithDescription("Confirmed and unconfirmed balance of an address"),
				addressParam("address", "Address to query"),
				mcp.WithString("unit", mcp.Enum(units...), mcp.DefaultString("sat"), mcp.Description("Unit of the reported amounts")),
			)),
			Handler: b.getBalance,
		},
		{
			Tool: readOnly(mcp.NewTool("get_utxos",
				mcp.WithDescription("Unspent outputs of an address, including CashToken data"),
				addressParam("address", "Address to query"),
			)),
			Handler: b.getUTXOs,
		},
		{
			Tool: readOnly(mcp.NewTool("get_history",
				mcp.WithDescription("Transaction history of an address, oldest first"),
				addressParam("address", "Address to query"),
				mcp.WithNumber("limit", integer(), mcp.Min(1), mcp.Description("Return only the most recent entries")),
			)),
			Handler: b.getHistory,
		},
		{
			Tool: readOnly(mcp.NewTool("get_block_height",
				mcp.WithDescription("Current chain tip height"),
			)),
			Handler: b.getBlockHeight,
		},
		{
			Tool: readOnly(mcp.NewTool("get_transaction",
				mcp.WithDescription("Raw transaction hex by id"),
				mcp.WithString("txid", mcp.Required(), mcp.MinLength(64), mcp.Description("Transaction id")),
			)),
			Handler: b.getTransaction,
		},
		{
			Tool: mcp.NewTool("broadcast_transaction",
				mcp.WithDescription("Broadcast a signed raw transaction"),
				mcp.WithString("raw_hex", mcp.Required(), mcp.MinLength(2), mcp.Description("Serialized transaction in hex")),
			),
			Handler: b.broadcastTransaction,
		},
		{
			Tool: readOnly(mcp.NewTool("get_token_balance",
				mcp.WithDescription("Fungible amount and NFT count an address holds for one token category"),
				addressParam("address", "Address to query"),
				categoryParam(),
			)),
			Handler: b.getTokenBalance,
		},
		{
			Tool: readOnly(mcp.NewTool("get_all_token_balances",
				mcp.WithDescription("Fungible amounts per token category held by an address"),
				addressParam("address", "Address to query"),
			)),
			Handler: b.getAllTokenBalances,
		},
		{
			Tool: readOnly(mcp.NewTool("wait_for_transaction",
				mcp.WithDescription("Block until a new transaction touches the address"),
				addressParam("address", "Address to watch"),
				timeoutParam(),
			)),
			Handler: b.waitForTransaction,
			Timeout: noTimeout,
		},
		{
			Tool: readOnly(mcp.NewTool("wait_for_balance",
				mcp.WithDescription("Block until the address balance reaches a target"),
				addressParam("address", "Address to watch"),
				mcp.WithNumber("target", mcp.Required(), mcp.Min(0), mcp.Description("Balance to wait for")),
				mcp.WithString("unit", mcp.Enum(units...), mcp.DefaultString("sat"), mcp.Description("Unit of target")),
				timeoutParam(),
			)),
			Handler: b.waitForBalance,
			Timeout: noTimeout,
		},

		// Transactions
		{
			Tool: mcp.NewTool("send",
				mcp.WithDescription("Pay an amount from a WIF wallet to an address"),
				wifParam(),
				addressParam("to", "Recipient address"),
				mcp.WithNumber("amount", mcp.Required(), mcp.Min(0), mcp.Description("Amount to send")),
				mcp.WithString("unit", mcp.Enum(units...), mcp.DefaultString("sat"), mcp.Description("Unit of amount")),
			),
			Handler: b.send,
		},
		{
			Tool: mcp.NewTool("send_max",
				mcp.WithDescription("Send the whole wallet balance to an address"),
				wifParam(),
				addressParam("to", "Recipient address"),
			),
			Handler: b.sendMax,
		},

		// CashTokens
		{
			Tool: mcp.NewTool("token_genesis",
				mcp.WithDescription("Create a new token category with a fungible supply, an NFT or both"),
				wifParam(),
				mcp.WithString("amount", mcp.Description("Fungible supply as a decimal integer string")),
				mcp.WithString("capability", mcp.Enum(nftCaps...), mcp.Description("Create an NFT with this capability")),
				mcp.WithString("commitment", mcp.Description("NFT commitment in hex")),
				mcp.WithString("to", mcp.Description("Recipient; defaults to the wallet token address")),
			),
			Handler: b.tokenGenesis,
		},
		{
			Tool: mcp.NewTool("token_mint",
				mcp.WithDescription("Mint NFTs using a minting baton the wallet holds"),
				wifParam(),
				categoryParam(),
				mcp.WithString("commitment", mcp.Description("Commitment of each minted NFT in hex")),
				mcp.WithString("capability", mcp.Enum(nftCaps...), mcp.DefaultString("none"), mcp.Description("Capability of each minted NFT")),
				mcp.WithNumber("count", integer(), mcp.DefaultNumber(1), mcp.Min(1), mcp.Max(100), mcp.Description("Number of NFTs to mint")),
				mcp.WithString("to", mcp.Description("Recipient; defaults to the wallet token address")),
			),
			Handler: b.tokenMint,
		},
		{
			Tool: mcp.NewTool("token_burn",
				mcp.WithDescription("Destroy fungible tokens or an NFT"),
				wifParam(),
				categoryParam(),
				mcp.WithString("amount", mcp.Description("Fungible amount to burn as a decimal integer string")),
				mcp.WithString("commitment", mcp.Description("Commitment of the NFT to burn")),
				mcp.WithString("capability", mcp.Enum(nftCaps...), mcp.Description("Capability of the NFT to burn")),
				mcp.WithString("message", mcp.Description("OP_RETURN message attached to the burn")),
			),
			Handler: b.tokenBurn,
		},
		{
			Tool: mcp.NewTool("token_send",
				mcp.WithDescription("Transfer fungible tokens or an NFT to an address"),
				wifParam(),
				addressParam("to", "Recipient address; converted to its token-aware form"),
				categoryParam(),
				mcp.WithString("amount", mcp.Description("Fungible amount as a decimal integer string")),
				mcp.WithString("commitment", mcp.Description("Commitment of the NFT to send")),
				mcp.WithString("capability", mcp.Enum(nftCaps...), mcp.Description("Capability of the NFT to send")),
			),
			Handler: b.tokenSend,
		},

		// Escrow
		{
			Tool: readOnly(mcp.NewTool("escrow_create",
				mcp.WithDescription("Derive a buyer/seller/arbiter escrow contract and its deposit address"),
				addressParam("buyer", "Buyer p2pkh address"),
				addressParam("seller", "Seller p2pkh address"),
				addressParam("arbiter", "Arbiter p2pkh address"),
				mcp.WithNumber("amount", mcp.Required(), integer(),
					mcp.Min(float64(smart_contract.EscrowMaxFee+smart_contract.DustLimit)),
					mcp.Description("Escrowed amount in satoshis")),
				mcp.WithNumber("nonce", integer(), mcp.DefaultNumber(0), mcp.Min(0),
					mcp.Description("Distinguishes escrows between the same parties")),
			)),
			Handler: b.escrowCreate,
		},
		{
			Tool: readOnly(mcp.NewTool("escrow_get_balance",
				mcp.WithDescription("Balance held by an escrow deposit address"),
				mcp.WithString("escrow", mcp.Required(), mcp.MinLength(1), mcp.Description("Escrow descriptor returned by escrow_create")),
			)),
			Handler: b.escrowGetBalance,
		},
		{
			Tool: mcp.NewTool("escrow_release",
				mcp.WithDescription("Pay the escrow to the seller. Signed by the buyer or arbiter."),
				mcp.WithString("escrow", mcp.Required(), mcp.MinLength(1), mcp.Description("Escrow descriptor")),
				wifParam(),
			),
			Handler: b.escrowUnlock("escrow_release", smart_contract.BranchRelease),
		},
		{
			Tool: mcp.NewTool("escrow_refund",
				mcp.WithDescription("Return the escrow to the buyer. Signed by the seller or arbiter."),
				mcp.WithString("escrow", mcp.Required(), mcp.MinLength(1), mcp.Description("Escrow descriptor")),
				wifParam(),
			),
			Handler: b.escrowUnlock("escrow_refund", smart_contract.BranchRefund),
		},

		// Messages
		{
			Tool: readOnly(mcp.NewTool("sign_message",
				mcp.WithDescription("Sign a message with a WIF key (Bitcoin Signed Message format)"),
				wifParam(),
				mcp.WithString("message", mcp.Required(), mcp.Description("Message to sign")),
			)),
			Handler: b.signMessage,
		},
		{
			Tool: readOnly(mcp.NewTool("verify_message",
				mcp.WithDescription("Verify a signed message against a p2pkh address"),
				addressParam("address", "Signer address"),
				mcp.WithString("message", mcp.Required(), mcp.Description("Signed message")),
				mcp.WithString("signature", mcp.Required(), mcp.MinLength(1), mcp.Description("Base64 signature")),
			)),
			Handler: b.verifyMessage,
		},

		// Conversion
		{
			Tool: readOnly(mcp.NewTool("get_bch_price",
				mcp.WithDescription("Current BCH price in a fiat currency"),
				mcp.WithString("currency", mcp.Enum(currencies...), mcp.DefaultString("usd"), mcp.Description("Fiat currency")),
			)),
			Handler: b.getBCHPrice,
		},
		{
			Tool: readOnly(mcp.NewTool("convert",
				mcp.WithDescription("Convert an amount between sat, bch and usd"),
				mcp.WithNumber("value", mcp.Required(), mcp.Min(0), mcp.Description("Amount to convert")),
				mcp.WithString("from", mcp.Required(), mcp.Enum(units...), mcp.Description("Source unit")),
				mcp.WithString("to", mcp.Required(), mcp.Enum(units...), mcp.Description("Target unit")),
			)),
			Handler: b.convert,
		},

		// QR
		{
			Tool: readOnly(mcp.NewTool("generate_qr",
				mcp.WithDescription("Render a payment QR code as PNG"),
				addressParam("address", "Payment address"),
				mcp.WithNumber("amount", mcp.Min(0), mcp.Description("Requested amount in BCH")),
				mcp.WithString("label", mcp.Description("Payment label")),
				mcp.WithNumber("size", integer(), mcp.DefaultNumber(256), mcp.Min(64), mcp.Max(1024), mcp.Description("Image size in pixels")),
			)),
			Handler: b.generateQR,
		},

		// Session
		{
			Tool: readOnly(mcp.NewTool("get_session_info",
				mcp.WithDescription("Describe the calling session"),
			)),
			Handler: b.getSessionInfo,
		},
	}
}

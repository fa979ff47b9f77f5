// Package ledger provides implementations of interfaces.LedgerClient.
//
// # Client
//
// Client is the production implementation. It splits the ledger in two:
//
//   - RPCClient answers queries (getBalance, getAccountInfo, getTokenSupply)
//     and faucet requests (requestAirdrop) over JSON-RPC 2.0, using the
//     go-ethereum rpc client as transport.
//   - TokenCLI runs the spl-token tool for every operation that needs a
//     signed transaction (create-token, create-account, mint). The tool owns
//     the wire format and the keypair.
//
// CreateOrGetHoldingAccount derives the associated account address first and
// only creates it when the ledger does not know it yet, so a run that lost its
// local record after the account was created recovers without an error.
//
// # Error classification
//
// HTTP 429 answers and rate-limit diagnostics become interfaces.ErrRateLimited.
// Transport failures, 5xx answers and timeouts become interfaces.ErrNetwork.
// Error answers from the node and non-zero tool exits become
// *interfaces.RemoteRejectedError carrying the diagnostic.
//
// # Testing
//
// Simulated is an in-memory ledger with fees, rent, a rate-limited faucet,
// one-shot failure injection and per-operation call counters.
// MockLedgerClient is a testify mock of the interface.
package ledger

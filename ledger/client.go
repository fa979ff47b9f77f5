package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ruteri/token-provisioner/interfaces"
)

// Querier is the read and faucet side of the ledger.
type Querier interface {
	GetBalance(ctx context.Context, identity interfaces.Identity) (uint64, error)
	RequestFunding(ctx context.Context, identity interfaces.Identity, amount uint64) (interfaces.Receipt, error)
	AccountExists(ctx context.Context, address string) (bool, error)
	MintDecimals(ctx context.Context, mint interfaces.MintHandle) (uint8, error)
}

// TokenTool is the mutating side of the ledger.
type TokenTool interface {
	CreateToken(ctx context.Context, authority interfaces.Identity, decimals uint8) (interfaces.MintHandle, interfaces.Receipt, error)
	AssociatedAddress(ctx context.Context, mint interfaces.MintHandle, owner interfaces.Identity) (interfaces.AccountHandle, error)
	CreateAccount(ctx context.Context, mint interfaces.MintHandle, owner interfaces.Identity) (interfaces.Receipt, error)
	MintTo(ctx context.Context, mint interfaces.MintHandle, account interfaces.AccountHandle, amount string) (interfaces.Receipt, error)
}

var (
	_ Querier                 = (*RPCClient)(nil)
	_ TokenTool               = (*TokenCLI)(nil)
	_ interfaces.LedgerClient = (*Client)(nil)
)

// Client implements interfaces.LedgerClient by combining RPC queries with an
// external token tool for the operations that need signing.
type Client struct {
	querier Querier
	tool    TokenTool
	log     *slog.Logger
}

// NewClient creates a ledger client.
func NewClient(querier Querier, tool TokenTool, log *slog.Logger) *Client {
	return &Client{querier: querier, tool: tool, log: log}
}

func (c *Client) GetBalance(ctx context.Context, identity interfaces.Identity) (uint64, error) {
	return c.querier.GetBalance(ctx, identity)
}

func (c *Client) RequestFunding(ctx context.Context, identity interfaces.Identity, amount uint64) (interfaces.Receipt, error) {
	return c.querier.RequestFunding(ctx, identity, amount)
}

func (c *Client) CreateMint(ctx context.Context, authority interfaces.Identity, decimals uint8) (interfaces.MintHandle, error) {
	mint, receipt, err := c.tool.CreateToken(ctx, authority, decimals)
	if err != nil {
		return "", err
	}
	c.log.Info("Mint created",
		slog.String("mint", mint.String()),
		slog.String("signature", receipt.String()))
	return mint, nil
}

// CreateOrGetHoldingAccount returns the associated holding account of owner,
// creating it only when it is not yet allocated on the ledger.
func (c *Client) CreateOrGetHoldingAccount(ctx context.Context, mint interfaces.MintHandle, owner interfaces.Identity) (interfaces.AccountHandle, error) {
	account, err := c.tool.AssociatedAddress(ctx, mint, owner)
	if err != nil {
		return "", err
	}

	exists, err := c.querier.AccountExists(ctx, account.String())
	if err != nil {
		return "", err
	}
	if exists {
		c.log.Info("Holding account already exists", slog.String("account", account.String()))
		return account, nil
	}

	receipt, err := c.tool.CreateAccount(ctx, mint, owner)
	if err != nil {
		return "", err
	}
	c.log.Info("Holding account created",
		slog.String("account", account.String()),
		slog.String("signature", receipt.String()))
	return account, nil
}

func (c *Client) Issue(ctx context.Context, mint interfaces.MintHandle, account interfaces.AccountHandle, quantity uint64) (interfaces.Receipt, error) {
	decimals, err := c.querier.MintDecimals(ctx, mint)
	if err != nil {
		return "", fmt.Errorf("could not read mint decimals: %w", err)
	}
	return c.tool.MintTo(ctx, mint, account, FormatUnits(quantity, decimals))
}

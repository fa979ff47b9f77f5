package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/ruteri/token-provisioner/interfaces"
)

// RPCConfig configures the JSON-RPC query client.
type RPCConfig struct {
	Target interfaces.NetworkTarget

	// Commitment level used for reads and confirmations.
	Commitment string

	// CallTimeout bounds every individual RPC call.
	CallTimeout time.Duration

	// ConfirmTimeout bounds the wait for a funding transaction to confirm.
	ConfirmTimeout time.Duration

	// PollInterval is the delay between confirmation polls.
	PollInterval time.Duration
}

// DefaultRPCConfig returns the configuration used by the driver unless
// overridden by flags.
func DefaultRPCConfig(target interfaces.NetworkTarget) RPCConfig {
	return RPCConfig{
		Target:         target,
		Commitment:     "confirmed",
		CallTimeout:    30 * time.Second,
		ConfirmTimeout: 60 * time.Second,
		PollInterval:   time.Second,
	}
}

// RPCClient performs the read-only and faucet operations of the ledger over
// JSON-RPC 2.0.
type RPCClient struct {
	client *rpc.Client
	cfg    RPCConfig
	log    *slog.Logger
}

// DialRPC connects to the endpoint of cfg.Target.
func DialRPC(ctx context.Context, cfg RPCConfig, log *slog.Logger) (*RPCClient, error) {
	if err := cfg.Target.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rpc target: %w", err)
	}

	client, err := rpc.DialOptions(ctx, cfg.Target.Endpoint, rpc.WithHTTPClient(&http.Client{Timeout: cfg.CallTimeout}))
	if err != nil {
		return nil, fmt.Errorf("%w: could not dial %s: %v", interfaces.ErrNetwork, cfg.Target.Endpoint, err)
	}

	return &RPCClient{client: client, cfg: cfg, log: log}, nil
}

// Close releases the underlying connection.
func (c *RPCClient) Close() {
	c.client.Close()
}

// GetBalance returns the native balance of identity.
func (c *RPCClient) GetBalance(ctx context.Context, identity interfaces.Identity) (uint64, error) {
	var res struct {
		Value uint64 `json:"value"`
	}
	err := c.call(ctx, &res, "getBalance", identity.String(), map[string]any{
		"commitment": c.cfg.Commitment,
	})
	if err != nil {
		return 0, classifyRPCError("getBalance", err)
	}
	return res.Value, nil
}

// RequestFunding asks the network faucet for amount base units and waits for
// the transfer to confirm.
func (c *RPCClient) RequestFunding(ctx context.Context, identity interfaces.Identity, amount uint64) (interfaces.Receipt, error) {
	if c.cfg.Target.Network.IsProduction() {
		return "", fmt.Errorf("%w: funding requests on %s", interfaces.ErrUnsupportedOnNetwork, c.cfg.Target.Network)
	}

	var signature string
	err := c.call(ctx, &signature, "requestAirdrop", identity.String(), amount, map[string]any{
		"commitment": c.cfg.Commitment,
	})
	if err != nil {
		return "", classifyRPCError("requestAirdrop", err)
	}

	c.log.Info("Funding requested, awaiting confirmation",
		slog.String("identity", identity.String()),
		slog.Uint64("amount", amount),
		slog.String("signature", signature))

	if err := c.WaitForConfirmation(ctx, signature); err != nil {
		return interfaces.Receipt(signature), err
	}
	return interfaces.Receipt(signature), nil
}

// AccountExists reports whether an account is allocated at address.
func (c *RPCClient) AccountExists(ctx context.Context, address string) (bool, error) {
	var res struct {
		Value *struct {
			Owner string `json:"owner"`
		} `json:"value"`
	}
	err := c.call(ctx, &res, "getAccountInfo", address, map[string]any{
		"encoding":   "base64",
		"commitment": c.cfg.Commitment,
	})
	if err != nil {
		return false, classifyRPCError("getAccountInfo", err)
	}
	return res.Value != nil, nil
}

// MintDecimals returns the decimals configured on a mint.
func (c *RPCClient) MintDecimals(ctx context.Context, mint interfaces.MintHandle) (uint8, error) {
	var res struct {
		Value struct {
			Decimals uint8 `json:"decimals"`
		} `json:"value"`
	}
	err := c.call(ctx, &res, "getTokenSupply", mint.String(), map[string]any{
		"commitment": c.cfg.Commitment,
	})
	if err != nil {
		return 0, classifyRPCError("getTokenSupply", err)
	}
	return res.Value.Decimals, nil
}

// WaitForConfirmation polls the status of signature until it reaches the
// configured commitment, fails, or ConfirmTimeout elapses.
func (c *RPCClient) WaitForConfirmation(ctx context.Context, signature string) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		var res struct {
			Value []*struct {
				ConfirmationStatus string `json:"confirmationStatus"`
				Err                any    `json:"err"`
			} `json:"value"`
		}
		err := c.call(ctx, &res, "getSignatureStatuses", []string{signature}, map[string]any{
			"searchTransactionHistory": true,
		})
		if err != nil {
			return classifyRPCError("getSignatureStatuses", err)
		}

		if len(res.Value) > 0 && res.Value[0] != nil {
			status := res.Value[0]
			if status.Err != nil {
				return &interfaces.RemoteRejectedError{Op: "confirm", Diagnostic: fmt.Sprintf("transaction %s failed: %v", signature, status.Err)}
			}
			if commitmentReached(status.ConfirmationStatus, c.cfg.Commitment) {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: transaction %s not confirmed: %v", interfaces.ErrNetwork, signature, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *RPCClient) call(ctx context.Context, result any, method string, args ...any) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()

	start := time.Now()
	err := c.client.CallContext(ctx, result, method, args...)
	c.log.Debug("RPC call",
		slog.String("method", method),
		slog.Duration("duration", time.Since(start)),
		"err", err)
	return err
}

var commitmentRank = map[string]int{
	"processed": 0,
	"confirmed": 1,
	"finalized": 2,
}

func commitmentReached(status, wanted string) bool {
	got, ok := commitmentRank[status]
	if !ok {
		return false
	}
	return got >= commitmentRank[wanted]
}

// classifyRPCError maps transport and JSON-RPC failures onto the ledger error
// kinds. Throttling becomes ErrRateLimited, an error answer from the node
// becomes a RemoteRejectedError, anything else is a network failure.
func classifyRPCError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %s: %v", interfaces.ErrNetwork, op, err)
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("%w: %s: %s", interfaces.ErrRateLimited, op, httpErr.Status)
		case httpErr.StatusCode >= 500:
			return fmt.Errorf("%w: %s: %s", interfaces.ErrNetwork, op, httpErr.Status)
		default:
			return &interfaces.RemoteRejectedError{Op: op, Diagnostic: fmt.Sprintf("%s: %s", httpErr.Status, string(httpErr.Body))}
		}
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		if rpcErr.ErrorCode() == http.StatusTooManyRequests || isRateLimitMessage(rpcErr.Error()) {
			return fmt.Errorf("%w: %s: %s", interfaces.ErrRateLimited, op, rpcErr.Error())
		}
		return &interfaces.RemoteRejectedError{Op: op, Diagnostic: rpcErr.Error()}
	}

	return fmt.Errorf("%w: %s: %v", interfaces.ErrNetwork, op, err)
}

func isRateLimitMessage(msg string) bool {
	msg = strings.ToLower(msg)
	for _, marker := range []string{"rate limit", "too many requests", "airdrop limit", "faucet has run dry"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

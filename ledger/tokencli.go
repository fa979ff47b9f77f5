package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/ruteri/token-provisioner/interfaces"
)

// CommandRunner executes an external program and returns its captured output.
type CommandRunner func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)

// ExecRunner runs commands with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// TokenCLI delegates mutating token operations to the spl-token command line
// tool, which owns transaction construction and signing. Every invocation
// requests JSON output.
type TokenCLI struct {
	// Binary is the tool to execute, "spl-token" unless overridden.
	Binary string

	// Endpoint is the RPC URL handed to the tool.
	Endpoint string

	// KeypairPath is the fee payer and mint authority keypair file.
	KeypairPath string

	// Timeout bounds every invocation.
	Timeout time.Duration

	Runner CommandRunner
	Log    *slog.Logger
}

// NewTokenCLI creates a tool adapter using ExecRunner.
func NewTokenCLI(binary, endpoint, keypairPath string, log *slog.Logger) *TokenCLI {
	if binary == "" {
		binary = "spl-token"
	}
	return &TokenCLI{
		Binary:      binary,
		Endpoint:    endpoint,
		KeypairPath: keypairPath,
		Timeout:     2 * time.Minute,
		Runner:      ExecRunner,
		Log:         log,
	}
}

type cliOutput struct {
	Address                string `json:"address"`
	AssociatedTokenAddress string `json:"associatedTokenAddress"`
	Signature              string `json:"signature"`
	TransactionData        *struct {
		Signature string `json:"signature"`
	} `json:"transactionData"`
}

func (o *cliOutput) signature() string {
	if o.TransactionData != nil && o.TransactionData.Signature != "" {
		return o.TransactionData.Signature
	}
	return o.Signature
}

// CreateToken creates a new mint with authority as mint authority.
func (t *TokenCLI) CreateToken(ctx context.Context, authority interfaces.Identity, decimals uint8) (interfaces.MintHandle, interfaces.Receipt, error) {
	out, err := t.run(ctx, "create-token",
		"create-token",
		"--decimals", strconv.Itoa(int(decimals)),
		"--mint-authority", authority.String())
	if err != nil {
		return "", "", err
	}
	if out.Address == "" {
		return "", "", fmt.Errorf("create-token output did not include a mint address")
	}
	return interfaces.MintHandle(out.Address), interfaces.Receipt(out.signature()), nil
}

// AssociatedAddress derives the associated holding account of owner for mint.
// It performs no transaction.
func (t *TokenCLI) AssociatedAddress(ctx context.Context, mint interfaces.MintHandle, owner interfaces.Identity) (interfaces.AccountHandle, error) {
	out, err := t.run(ctx, "address",
		"address",
		"--token", mint.String(),
		"--owner", owner.String(),
		"--verbose")
	if err != nil {
		return "", err
	}
	if out.AssociatedTokenAddress == "" {
		return "", fmt.Errorf("address output did not include an associated token address")
	}
	return interfaces.AccountHandle(out.AssociatedTokenAddress), nil
}

// CreateAccount creates the associated holding account of owner for mint.
// An "already exists" rejection is reported as success.
func (t *TokenCLI) CreateAccount(ctx context.Context, mint interfaces.MintHandle, owner interfaces.Identity) (interfaces.Receipt, error) {
	out, err := t.run(ctx, "create-account",
		"create-account", mint.String(),
		"--owner", owner.String())
	if err != nil {
		var rejected *interfaces.RemoteRejectedError
		if errors.As(err, &rejected) && strings.Contains(strings.ToLower(rejected.Diagnostic), "already exists") {
			t.Log.Info("Holding account already exists", slog.String("mint", mint.String()), slog.String("owner", owner.String()))
			return "", nil
		}
		return "", err
	}
	return interfaces.Receipt(out.signature()), nil
}

// MintTo issues amount (in UI units, see FormatUnits) of mint into account.
func (t *TokenCLI) MintTo(ctx context.Context, mint interfaces.MintHandle, account interfaces.AccountHandle, amount string) (interfaces.Receipt, error) {
	out, err := t.run(ctx, "mint",
		"mint", mint.String(), amount, account.String(),
		"--mint-authority", t.KeypairPath)
	if err != nil {
		return "", err
	}
	return interfaces.Receipt(out.signature()), nil
}

func (t *TokenCLI) run(ctx context.Context, op string, args ...string) (*cliOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	full := append([]string{
		"--url", t.Endpoint,
		"--fee-payer", t.KeypairPath,
		"--output", "json",
	}, args...)

	start := time.Now()
	stdout, stderr, err := t.Runner(ctx, t.Binary, full...)
	t.Log.Debug("Token tool invocation",
		slog.String("op", op),
		slog.Duration("duration", time.Since(start)),
		"err", err)

	if err != nil {
		return nil, classifyToolError(ctx, op, stderr, err)
	}

	var out cliOutput
	if err := json.Unmarshal(bytes.TrimSpace(stdout), &out); err != nil {
		return nil, fmt.Errorf("could not parse %s output: %w", op, err)
	}
	return &out, nil
}

// classifyToolError maps a failed tool invocation onto the ledger error kinds.
func classifyToolError(ctx context.Context, op string, stderr []byte, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %s: %v", interfaces.ErrNetwork, op, ctx.Err())
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return fmt.Errorf("could not run token tool for %s: %w", op, err)
	}

	diag := strings.TrimSpace(string(stderr))
	lower := strings.ToLower(diag)
	switch {
	case isRateLimitMessage(lower):
		return fmt.Errorf("%w: %s: %s", interfaces.ErrRateLimited, op, diag)
	case strings.Contains(lower, "connection refused"),
		strings.Contains(lower, "error sending request"),
		strings.Contains(lower, "timed out"):
		return fmt.Errorf("%w: %s: %s", interfaces.ErrNetwork, op, diag)
	default:
		return &interfaces.RemoteRejectedError{Op: op, Diagnostic: diag}
	}
}

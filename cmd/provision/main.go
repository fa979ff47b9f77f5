package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ruteri/token-provisioner/cmd/flags"
	"github.com/ruteri/token-provisioner/interfaces"
	"github.com/ruteri/token-provisioner/ledger"
	"github.com/ruteri/token-provisioner/provisioner"
	"github.com/ruteri/token-provisioner/storage"
	"github.com/urfave/cli/v2"
)

var flagName = &cli.StringFlag{
	Name:  "name",
	Usage: "token name, required for a new token",
}
var flagSymbol = &cli.StringFlag{
	Name:  "symbol",
	Usage: "token symbol, required for a new token",
}
var flagDecimals = &cli.UintFlag{
	Name:  "decimals",
	Value: 9,
	Usage: "token decimals (0-9)",
}
var flagSupply = &cli.Uint64Flag{
	Name:  "supply",
	Value: 1_000_000,
	Usage: "total supply in whole tokens",
}
var flagMinBalance = &cli.Uint64Flag{
	Name:  "min-balance",
	Value: provisioner.DefaultConfig().MinBalance,
	Usage: "native balance (base units) required before every step",
}
var flagAutoFund = &cli.BoolFlag{
	Name:  "auto-fund",
	Usage: "request faucet funding when the balance is short. Ignored on mainnet",
}
var flagFundingAmount = &cli.Uint64Flag{
	Name:  "funding-amount",
	Value: provisioner.DefaultConfig().FundingAmount,
	Usage: "native amount (base units) requested per faucet call",
}
var flagTokenCLI = &cli.StringFlag{
	Name:    "spl-token",
	Value:   "spl-token",
	Usage:   "path of the spl-token tool",
	EnvVars: []string{"PROVISION_SPL_TOKEN"},
}
var flagDryRun = &cli.BoolFlag{
	Name:  "dry-run",
	Usage: "run against an in-memory ledger and state store",
}

const (
	exitGeneric      = 1
	exitInsufficient = 2
	exitTransient    = 3
	exitRejected     = 4
	exitInvalid      = 5
	exitLocked       = 6
)

func main() {
	appFlags := append([]cli.Flag{}, flags.CommonFlags...)
	appFlags = append(appFlags, flags.LogServiceFlagFn("token-provisioner"))
	appFlags = append(appFlags, flags.LedgerFlags...)
	appFlags = append(appFlags,
		flagName,
		flagSymbol,
		flagDecimals,
		flagSupply,
		flagMinBalance,
		flagAutoFund,
		flagFundingAmount,
		flagTokenCLI,
		flagDryRun,
	)

	app := &cli.App{
		Name:  "provision",
		Usage: "Create a token mint, its holding account and the initial supply. Safe to re-run",
		Flags: appFlags,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "perform the remaining provisioning steps (default)",
				Action: runAction,
			},
			{
				Name:   "status",
				Usage:  "print the recorded provisioning state",
				Action: statusAction,
			},
		},
		Action: runAction,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runAction(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	ctx, cancel := signal.NotifyContext(cCtx.Context, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	target, err := flags.ResolveTarget(cCtx)
	if err != nil {
		return exitWithCode(err)
	}

	keypair, err := flags.LoadKeypair(cCtx)
	if err != nil {
		return exitWithCode(err)
	}

	decimals := cCtx.Uint(flagDecimals.Name)
	if decimals > interfaces.MaxDecimals {
		return exitWithCode(fmt.Errorf("%w: decimals %d above %d", interfaces.ErrInvalidParams, decimals, interfaces.MaxDecimals))
	}

	req := provisioner.Request{
		Identity: keypair.Identity(),
		Target:   target,
		Params: interfaces.TokenParams{
			Name:     cCtx.String(flagName.Name),
			Symbol:   cCtx.String(flagSymbol.Name),
			Decimals: uint8(decimals),
			Supply:   cCtx.Uint64(flagSupply.Name),
		},
		Supplied: &provisioner.SuppliedParams{
			Name:     cCtx.IsSet(flagName.Name),
			Symbol:   cCtx.IsSet(flagSymbol.Name),
			Decimals: cCtx.IsSet(flagDecimals.Name),
			Supply:   cCtx.IsSet(flagSupply.Name),
		},
	}

	cfg := provisioner.DefaultConfig()
	cfg.MinBalance = cCtx.Uint64(flagMinBalance.Name)
	cfg.AutoFund = cCtx.Bool(flagAutoFund.Name)
	cfg.FundingAmount = cCtx.Uint64(flagFundingAmount.Name)

	var (
		ledgerClient interfaces.LedgerClient
		store        interfaces.StateStore
	)

	if cCtx.Bool(flagDryRun.Name) {
		logger.Info("Dry run, using an in-memory ledger and state store")
		simCfg := ledger.DefaultSimulatedConfig()
		simCfg.Network = target.Network
		sim := ledger.NewSimulated(simCfg)
		sim.SetBalance(req.Identity, 10*cfg.FundingAmount)
		ledgerClient = sim
		store = storage.NewMemoryStore()
	} else {
		store, err = flags.OpenStateStore(cCtx, keypair, logger)
		if err != nil {
			return exitWithCode(err)
		}

		rpcCfg := ledger.DefaultRPCConfig(target)
		rpcCfg.CallTimeout = cCtx.Duration(flags.RpcTimeoutFlag.Name)

		logger.Info("Connecting to ledger RPC", "address", target.Endpoint)
		rpcClient, err := ledger.DialRPC(ctx, rpcCfg, logger)
		if err != nil {
			logger.Error("Failed to dial RPC", "err", err)
			return exitWithCode(err)
		}
		defer rpcClient.Close()

		tool := ledger.NewTokenCLI(cCtx.String(flagTokenCLI.Name), target.Endpoint, keypair.Path, logger)
		ledgerClient = ledger.NewClient(rpcClient, tool, logger)
	}

	logger.Info("Provisioning token",
		slog.String("identity", req.Identity.String()),
		slog.String("network", string(target.Network)),
		slog.String("store", store.LocationURI()))

	machine := provisioner.NewMachine(ledgerClient, store, cfg, logger)
	res, runErr := machine.Run(ctx, req)
	if res != nil {
		if err := printJSON(res); err != nil {
			return err
		}
	}
	if runErr != nil {
		logger.Error("Provisioning failed", "err", runErr)
		return exitWithCode(runErr)
	}

	logger.Info("Provisioning complete",
		slog.String("mint", res.Mint.String()),
		slog.String("account", res.HoldingAccount.String()))
	return nil
}

func statusAction(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	target, err := flags.ResolveTarget(cCtx)
	if err != nil {
		return exitWithCode(err)
	}
	keypair, err := flags.LoadKeypair(cCtx)
	if err != nil {
		return exitWithCode(err)
	}
	store, err := flags.OpenStateStore(cCtx, keypair, logger)
	if err != nil {
		return exitWithCode(err)
	}

	machine := provisioner.NewMachine(nil, store, provisioner.DefaultConfig(), logger)
	res, err := machine.Status(cCtx.Context, keypair.Identity(), target)
	if err != nil {
		return exitWithCode(err)
	}
	return printJSON(res)
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("could not encode result: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func exitWithCode(err error) error {
	return cli.Exit(err.Error(), exitCode(err))
}

// exitCode maps an error kind to the process exit status.
func exitCode(err error) int {
	var insufficient *interfaces.InsufficientResourcesError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &insufficient):
		return exitInsufficient
	case errors.Is(err, interfaces.ErrStateLocked):
		return exitLocked
	case interfaces.IsTransient(err):
		return exitTransient
	case errors.Is(err, interfaces.ErrRemoteRejected):
		return exitRejected
	case errors.Is(err, interfaces.ErrUnsupportedOnNetwork), errors.Is(err, interfaces.ErrInvalidParams):
		return exitInvalid
	default:
		return exitGeneric
	}
}

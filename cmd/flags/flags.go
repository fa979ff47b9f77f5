package flags

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/token-provisioner/common"
	"github.com/ruteri/token-provisioner/cryptoutils"
	"github.com/ruteri/token-provisioner/interfaces"
	"github.com/ruteri/token-provisioner/storage"
	"github.com/urfave/cli/v2"
)

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String("log-service")

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

// ResolveTarget builds the network target from the network and rpc-url flags.
func ResolveTarget(cCtx *cli.Context) (interfaces.NetworkTarget, error) {
	network, err := interfaces.ParseNetwork(cCtx.String(NetworkFlag.Name))
	if err != nil {
		return interfaces.NetworkTarget{}, err
	}
	return interfaces.NewNetworkTarget(network, cCtx.String(RpcUrlFlag.Name))
}

// LoadKeypair loads the keypair named by the keypair flag, expanding a
// leading "~/".
func LoadKeypair(cCtx *cli.Context) (*cryptoutils.Keypair, error) {
	path, err := expandHome(cCtx.String(KeypairFlag.Name))
	if err != nil {
		return nil, err
	}
	return cryptoutils.LoadKeypair(path)
}

// OpenStateStore opens the store named by the state flag. Without the flag,
// records live next to the keypair file.
func OpenStateStore(cCtx *cli.Context, keypair *cryptoutils.Keypair, log *slog.Logger) (interfaces.StateStore, error) {
	location := cCtx.String(StateLocationFlag.Name)
	if location == "" {
		location = filepath.Dir(keypair.Path)
	}
	store, err := storage.NewStateStore(location, log)
	if err != nil {
		return nil, fmt.Errorf("could not open state store: %w", err)
	}
	return store, nil
}

func expandHome(path string) (string, error) {
	if len(path) < 2 || path[:2] != "~/" {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not resolve home directory: %w", err)
	}
	return filepath.Join(home, path[2:]), nil
}

var NetworkFlag = &cli.StringFlag{
	Name:    "network",
	Value:   string(interfaces.Devnet),
	Usage:   "target network: mainnet, devnet, localnet or custom",
	EnvVars: []string{"PROVISION_NETWORK"},
}

var RpcUrlFlag = &cli.StringFlag{
	Name:    "rpc-url",
	Usage:   "RPC endpoint. Required for the custom network, overrides the default for the others",
	EnvVars: []string{"PROVISION_RPC_URL"},
}

var KeypairFlag = &cli.StringFlag{
	Name:    "keypair",
	Value:   "~/.config/solana/id.json",
	Usage:   "keypair file of the identity that pays for and owns the token",
	EnvVars: []string{"PROVISION_KEYPAIR"},
}

var StateLocationFlag = &cli.StringFlag{
	Name:    "state",
	Usage:   "state store location (directory, file://, s3://, vault:// or memory:// URI). Defaults to the keypair's directory",
	EnvVars: []string{"PROVISION_STATE"},
}

var RpcTimeoutFlag = &cli.DurationFlag{
	Name:  "rpc-timeout",
	Value: 30 * time.Second,
	Usage: "timeout of every ledger call",
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}

var LogServiceFlagFn = func(service string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "log-service",
		Value: service,
		Usage: "add 'service' tag to logs",
	}
}

var CommonFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
}

var LedgerFlags = []cli.Flag{
	NetworkFlag,
	RpcUrlFlag,
	KeypairFlag,
	StateLocationFlag,
	RpcTimeoutFlag,
}

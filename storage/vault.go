package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"
	"github.com/ruteri/token-provisioner/interfaces"
)

// VaultStore keeps provisioning records in a HashiCorp Vault KV v2 mount.
// Every write creates a new secret version, older snapshots stay readable
// through Vault's version history.
type VaultStore struct {
	client      *api.Client
	mountPath   string
	dataPath    string
	log         *slog.Logger
	locationURI string
}

// NewVaultStore creates a Vault-backed store.
//
// Parameters:
//   - address: Vault server address (e.g. https://vault.example.com:8200)
//   - mountPath: KV v2 mount path (e.g. "secret")
//   - dataPath: Path within the mount (e.g. "token-provisioner")
//   - token: Vault token; when empty the VAULT_TOKEN environment variable is used
//   - log: Structured logger for operational insights
func NewVaultStore(address, mountPath, dataPath, token string, log *slog.Logger) (*VaultStore, error) {
	config := api.DefaultConfig()
	if config.Error != nil {
		return nil, fmt.Errorf("failed to read Vault configuration: %w", config.Error)
	}
	config.Address = address
	config.Timeout = 30 * time.Second

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if token != "" {
		client.SetToken(token)
	}

	mountPath = strings.Trim(mountPath, "/")
	dataPath = strings.Trim(dataPath, "/")
	if mountPath == "" {
		return nil, fmt.Errorf("empty Vault mount path")
	}

	return &VaultStore{
		client:      client,
		mountPath:   mountPath,
		dataPath:    dataPath,
		log:         log,
		locationURI: fmt.Sprintf("vault://%s/%s/%s", hostOf(address), mountPath, dataPath),
	}, nil
}

// Load reads the latest version of the record for key.
func (s *VaultStore) Load(ctx context.Context, key interfaces.StateKey) (*interfaces.ProvisioningState, error) {
	start := time.Now()
	path := s.secretPath(key)

	secret, err := s.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		s.log.Error("Failed to read from Vault",
			slog.String("path", path),
			"err", err)
		return nil, fmt.Errorf("failed to read state from Vault: %w", err)
	}

	if secret == nil || secret.Data == nil || secret.Data["data"] == nil {
		s.log.Debug("No provisioning state in Vault", slog.String("path", path))
		return nil, nil
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, &interfaces.CorruptStateError{Key: key, Err: fmt.Errorf("invalid data format in Vault response")}
	}

	record, ok := data["record"].(string)
	if !ok {
		return nil, &interfaces.CorruptStateError{Key: key, Err: fmt.Errorf("record key not found in Vault data")}
	}

	state, err := DecodeState(key, []byte(record))
	if err != nil {
		return nil, err
	}

	s.log.Debug("Loaded provisioning state from Vault",
		slog.String("path", path),
		slog.String("stage", state.Stage().String()),
		slog.Duration("duration", time.Since(start)))

	return state, nil
}

// Save writes a new version of the record for key.
func (s *VaultStore) Save(ctx context.Context, key interfaces.StateKey, state *interfaces.ProvisioningState) error {
	record, err := EncodeState(state)
	if err != nil {
		return err
	}

	path := s.secretPath(key)
	secretData := map[string]interface{}{
		"data": map[string]interface{}{
			"record": string(record),
		},
	}

	if _, err := s.client.Logical().WriteWithContext(ctx, path, secretData); err != nil {
		s.log.Error("Failed to write to Vault",
			slog.String("path", path),
			"err", err)
		return fmt.Errorf("failed to write state to Vault: %w", err)
	}

	s.log.Debug("Stored provisioning state in Vault",
		slog.String("path", path),
		slog.String("stage", state.Stage().String()))

	return nil
}

// Name returns a unique identifier for this store.
func (s *VaultStore) Name() string {
	return fmt.Sprintf("vault-%s-%s", s.mountPath, s.dataPath)
}

// LocationURI returns the URI that identifies this store.
func (s *VaultStore) LocationURI() string {
	return s.locationURI
}

// secretPath returns the KV v2 data path of the record for key.
func (s *VaultStore) secretPath(key interfaces.StateKey) string {
	if s.dataPath == "" {
		return fmt.Sprintf("%s/data/%s", s.mountPath, key.String())
	}
	return fmt.Sprintf("%s/data/%s/%s", s.mountPath, s.dataPath, key.String())
}

func hostOf(address string) string {
	if i := strings.Index(address, "://"); i >= 0 {
		return address[i+3:]
	}
	return address
}

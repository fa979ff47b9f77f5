package storage

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/ruteri/token-provisioner/interfaces"
)

// ErrInvalidLocationURI is returned when a state location URI is malformed or
// uses an unsupported scheme.
var ErrInvalidLocationURI = errors.New("invalid state location URI")

// NewStateStore creates a state store from a location URI.
// The URI format should be [scheme]://[auth@]host[:port][/path][?params]
//
// Supported schemes:
//   - file:///absolute/path or file://./relative/path - local directory
//   - s3://[ACCESS_KEY:SECRET_KEY@]bucket/prefix?region=us-east-1&endpoint=http://minio:9000
//   - vault://host:8200/mount/path?tls=false - Vault KV v2, token from VAULT_TOKEN
//   - memory:// - process-local, nothing survives the process
//
// A bare path without a scheme is treated as a local directory. Several
// comma-separated locations are combined into a MultiStore, the first one
// being the primary.
func NewStateStore(location string, log *slog.Logger) (interfaces.StateStore, error) {
	if location == "" {
		return nil, fmt.Errorf("%w: empty location", ErrInvalidLocationURI)
	}
	if strings.Contains(location, ",") {
		return createMultiStore(strings.Split(location, ","), log)
	}
	if !strings.Contains(location, "://") {
		return NewFileStore(location, log)
	}

	u, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLocationURI, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "file":
		return createFileStore(u, log)
	case "s3":
		return createS3Store(u, log)
	case "vault":
		return createVaultStore(u, log)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidLocationURI, u.Scheme)
	}
}

// createFileStore handles file:///absolute/path and file://./relative/path.
func createFileStore(u *url.URL, log *slog.Logger) (interfaces.StateStore, error) {
	log.Debug("Creating file state store", slog.String("uri", u.String()))

	path := u.Path
	if u.Host != "" {
		path = u.Host + "/" + strings.TrimPrefix(path, "/")
	}
	if path == "" {
		return nil, fmt.Errorf("%w: empty path in file URI %s", ErrInvalidLocationURI, u.String())
	}

	return NewFileStore(path, log)
}

// createS3Store handles s3://[ACCESS_KEY:SECRET_KEY@]bucket/prefix?region=..&endpoint=..
func createS3Store(u *url.URL, log *slog.Logger) (interfaces.StateStore, error) {
	log.Debug("Creating S3 state store", slog.String("bucket", u.Host))

	query := u.Query()
	region := query.Get("region")
	if region == "" {
		region = "us-east-1"
	}

	var accessKey, secretKey string
	if u.User != nil {
		accessKey = u.User.Username()
		secretKey, _ = u.User.Password()
	}

	return NewS3Store(u.Host, strings.TrimPrefix(u.Path, "/"), region, query.Get("endpoint"), accessKey, secretKey, log)
}

// createVaultStore handles vault://host:port/mount/path?tls=false
func createVaultStore(u *url.URL, log *slog.Logger) (interfaces.StateStore, error) {
	log.Debug("Creating Vault state store", slog.String("host", u.Host))

	parts := strings.SplitN(strings.Trim(u.Path, "/"), "/", 2)
	if parts[0] == "" {
		return nil, fmt.Errorf("%w: vault URI requires a mount path", ErrInvalidLocationURI)
	}
	mount := parts[0]
	dataPath := ""
	if len(parts) == 2 {
		dataPath = parts[1]
	}

	scheme := "https"
	if u.Query().Get("tls") == "false" {
		scheme = "http"
	}

	return NewVaultStore(fmt.Sprintf("%s://%s", scheme, u.Host), mount, dataPath, "", log)
}

// createMultiStore builds every comma-separated location into one mirror set.
func createMultiStore(locations []string, log *slog.Logger) (interfaces.StateStore, error) {
	var stores []interfaces.StateStore
	for _, location := range locations {
		location = strings.TrimSpace(location)
		if location == "" {
			continue
		}
		store, err := NewStateStore(location, log)
		if err != nil {
			return nil, fmt.Errorf("mirror %s: %w", location, err)
		}
		stores = append(stores, store)
	}
	if len(stores) == 0 {
		return nil, fmt.Errorf("%w: no locations", ErrInvalidLocationURI)
	}
	return NewMultiStore(stores, log), nil
}

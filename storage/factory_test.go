package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStateStore(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name     string
		location string
		wantName string
		wantErr  bool
	}{
		{"bare path", filepath.Join(dir, "bare"), "file-bare", false},
		{"file uri", "file://" + filepath.Join(dir, "uri"), "file-uri", false},
		{"memory", "memory://", "memory", false},
		{"s3", "s3://AKID:SECRET@state-bucket/provisioner?region=eu-west-1&endpoint=http://127.0.0.1:9000", "s3-state-bucket", false},
		{"vault", "vault://127.0.0.1:8200/secret/provisioner?tls=false", "vault-secret-provisioner", false},
		{"vault without mount", "vault://127.0.0.1:8200", "", true},
		{"unknown scheme", "ipfs://localhost:5001", "", true},
		{"empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := NewStateStore(tt.location, testLogger())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, store.Name())
		})
	}
}

func TestNewStateStore_InvalidScheme(t *testing.T) {
	_, err := NewStateStore("ftp://example.org/state", testLogger())
	assert.ErrorIs(t, err, ErrInvalidLocationURI)
}

func TestNewStateStore_LocationURI(t *testing.T) {
	store, err := NewStateStore("s3://state-bucket/provisioner?region=eu-west-1", testLogger())
	require.NoError(t, err)
	assert.Equal(t, "s3://state-bucket/provisioner?region=eu-west-1", store.LocationURI())

	store, err = NewStateStore("vault://vault.internal:8200/secret/provisioner", testLogger())
	require.NoError(t, err)
	assert.Equal(t, "vault://vault.internal:8200/secret/provisioner", store.LocationURI())
}

package storage

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ruteri/token-provisioner/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeVault implements the subset of the KV v2 HTTP API used by VaultStore.
type fakeVault struct {
	mu      sync.Mutex
	secrets map[string]map[string]any
	tokens  []string
}

func (f *fakeVault) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.tokens = append(f.tokens, r.Header.Get("X-Vault-Token"))
	w.Header().Set("Content-Type", "application/json")

	switch r.Method {
	case http.MethodGet:
		data, ok := f.secrets[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"errors":[]}`)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"data":     data,
				"metadata": map[string]any{"version": 1},
			},
		})
	case http.MethodPut, http.MethodPost:
		var body struct {
			Data map[string]any `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.secrets[r.URL.Path] = body.Data
		io.WriteString(w, `{"data":{"version":1}}`)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newFakeVaultStore(t *testing.T) (*VaultStore, *fakeVault) {
	t.Helper()
	fake := &fakeVault{secrets: make(map[string]map[string]any)}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	store, err := NewVaultStore(srv.URL, "secret", "provisioner", "test-token", testLogger())
	require.NoError(t, err)
	return store, fake
}

func TestVaultStore_SaveLoad(t *testing.T) {
	store, fake := newFakeVaultStore(t)
	ctx := context.Background()

	identity := testIdentity(t, 1)
	target := testTarget(t, interfaces.Localnet, "")
	key := interfaces.NewStateKey(identity, target)

	state, err := store.Load(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, state)

	saved := mintedState(identity, target)
	saved.HoldingAccount = "HoLd1ng11111111111111111111111111111111111"
	require.NoError(t, store.Save(ctx, key, saved))

	fake.mu.Lock()
	_, ok := fake.secrets["/v1/secret/data/provisioner/"+key.String()]
	tokens := append([]string(nil), fake.tokens...)
	fake.mu.Unlock()
	assert.True(t, ok)
	for _, tok := range tokens {
		assert.Equal(t, "test-token", tok)
	}

	state, err = store.Load(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, interfaces.StageAccountCreated, state.Stage())
	assert.Equal(t, saved.HoldingAccount, state.HoldingAccount)
}

func TestVaultStore_Corrupt(t *testing.T) {
	store, fake := newFakeVaultStore(t)
	key := interfaces.NewStateKey(testIdentity(t, 1), testTarget(t, interfaces.Localnet, ""))

	tests := []struct {
		name string
		data map[string]any
	}{
		{"missing record", map[string]any{"other": "x"}},
		{"record not a string", map[string]any{"record": 42}},
		{"record not json", map[string]any{"record": "{"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake.mu.Lock()
			fake.secrets["/v1/secret/data/provisioner/"+key.String()] = tt.data
			fake.mu.Unlock()

			_, err := store.Load(context.Background(), key)
			var corrupt *interfaces.CorruptStateError
			assert.ErrorAs(t, err, &corrupt)
		})
	}
}

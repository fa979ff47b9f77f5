package storage

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/ruteri/token-provisioner/interfaces"
)

// EncodeState serializes a record in the on-disk format shared by all stores.
func EncodeState(state *interfaces.ProvisioningState) ([]byte, error) {
	if err := state.Validate(); err != nil {
		return nil, fmt.Errorf("refusing to persist invalid state: %w", err)
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode state: %w", err)
	}
	return append(data, '\n'), nil
}

// DecodeState parses a record and checks that it is consistent and belongs
// to key. Any failure is reported as *interfaces.CorruptStateError.
func DecodeState(key interfaces.StateKey, data []byte) (*interfaces.ProvisioningState, error) {
	var state interfaces.ProvisioningState

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&state); err != nil {
		return nil, &interfaces.CorruptStateError{Key: key, Err: err}
	}
	if dec.More() {
		return nil, &interfaces.CorruptStateError{Key: key, Err: fmt.Errorf("trailing data after record")}
	}

	if err := state.Validate(); err != nil {
		return nil, &interfaces.CorruptStateError{Key: key, Err: err}
	}
	if !key.Matches(&state) {
		return nil, &interfaces.CorruptStateError{
			Key: key,
			Err: fmt.Errorf("record belongs to %s on %s", state.Identity, state.Network),
		}
	}

	return &state, nil
}

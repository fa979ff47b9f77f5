package interfaces

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"
)

// StateVersion is the schema version written into every persisted record.
const StateVersion = 1

// MaxDecimals bounds the decimals accepted for a new mint.
const MaxDecimals = 9

// Stage is the position of a record in the provisioning workflow.
type Stage int

const (
	StageFresh Stage = iota
	StageMintCreated
	StageAccountCreated
	StageIssued
)

func (s Stage) String() string {
	switch s {
	case StageFresh:
		return "FRESH"
	case StageMintCreated:
		return "MINT_CREATED"
	case StageAccountCreated:
		return "ACCOUNT_CREATED"
	case StageIssued:
		return "ISSUED"
	default:
		return "UNKNOWN"
	}
}

// Step is a single remote operation of the workflow.
type Step string

const (
	StepFund          Step = "fund"
	StepCreateMint    Step = "create-mint"
	StepCreateAccount Step = "create-holding-account"
	StepIssueSupply   Step = "issue-supply"
	StepPersist       Step = "persist"
)

// NextStep returns the step that advances a record out of stage s. The second
// return value is false for StageIssued.
func (s Stage) NextStep() (Step, bool) {
	switch s {
	case StageFresh:
		return StepCreateMint, true
	case StageMintCreated:
		return StepCreateAccount, true
	case StageAccountCreated:
		return StepIssueSupply, true
	default:
		return "", false
	}
}

// TokenParams are the operator-supplied parameters of the token.
type TokenParams struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
	Supply   uint64 `json:"supply"`
}

// Validate checks the parameters of a token about to be created.
func (p TokenParams) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: token name is empty", ErrInvalidParams)
	}
	if p.Symbol == "" {
		return fmt.Errorf("%w: token symbol is empty", ErrInvalidParams)
	}
	if p.Decimals > MaxDecimals {
		return fmt.Errorf("%w: decimals %d exceed maximum of %d", ErrInvalidParams, p.Decimals, MaxDecimals)
	}
	if p.Supply == 0 {
		return fmt.Errorf("%w: supply must be positive", ErrInvalidParams)
	}
	if _, err := IssuanceQuantity(p.Supply, p.Decimals); err != nil {
		return err
	}
	return nil
}

// IssuanceQuantity returns supply * 10^decimals in base units.
func IssuanceQuantity(supply uint64, decimals uint8) (uint64, error) {
	q := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	q.Mul(q, new(big.Int).SetUint64(supply))
	if !q.IsUint64() {
		return 0, fmt.Errorf("%w: issuance of %d with %d decimals overflows", ErrInvalidParams, supply, decimals)
	}
	return q.Uint64(), nil
}

// ProvisioningState is the persisted progress of one (identity, network) pair.
type ProvisioningState struct {
	Version  int      `json:"version"`
	Identity Identity `json:"identity"`
	Network  Network  `json:"network"`
	Endpoint string   `json:"endpoint,omitempty"`

	Mint             MintHandle    `json:"mint,omitempty"`
	HoldingAccount   AccountHandle `json:"holdingAccount,omitempty"`
	IssuanceComplete bool          `json:"issuanceComplete"`

	RequestedName     string `json:"requestedName,omitempty"`
	RequestedSymbol   string `json:"requestedSymbol,omitempty"`
	RequestedDecimals uint8  `json:"requestedDecimals"`
	RequestedSupply   uint64 `json:"requestedSupply"`

	Receipts  map[Step]Receipt `json:"receipts,omitempty"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

// NewProvisioningState returns an unpersisted FRESH record for key.
func NewProvisioningState(identity Identity, target NetworkTarget) *ProvisioningState {
	return &ProvisioningState{
		Version:  StateVersion,
		Identity: identity,
		Network:  target.Network,
		Endpoint: target.Endpoint,
	}
}

// Stage derives the workflow stage from the populated fields.
func (s *ProvisioningState) Stage() Stage {
	switch {
	case s.IssuanceComplete:
		return StageIssued
	case s.HoldingAccount != "":
		return StageAccountCreated
	case s.Mint != "":
		return StageMintCreated
	default:
		return StageFresh
	}
}

// RequestedParams returns the parameters recorded when the mint was created.
func (s *ProvisioningState) RequestedParams() TokenParams {
	return TokenParams{
		Name:     s.RequestedName,
		Symbol:   s.RequestedSymbol,
		Decimals: s.RequestedDecimals,
		Supply:   s.RequestedSupply,
	}
}

// Clone returns a deep copy.
func (s *ProvisioningState) Clone() *ProvisioningState {
	c := *s
	if s.Receipts != nil {
		c.Receipts = make(map[Step]Receipt, len(s.Receipts))
		for k, v := range s.Receipts {
			c.Receipts[k] = v
		}
	}
	return &c
}

// Validate checks the step-order invariants of the record.
func (s *ProvisioningState) Validate() error {
	if s.Version != StateVersion {
		return fmt.Errorf("unsupported state version %d", s.Version)
	}
	if s.Identity == "" {
		return errors.New("identity missing")
	}
	if _, err := ParseNetwork(string(s.Network)); err != nil {
		return err
	}
	if s.HoldingAccount != "" && s.Mint == "" {
		return errors.New("holding account recorded without a mint")
	}
	if s.IssuanceComplete && s.HoldingAccount == "" {
		return errors.New("issuance recorded without a holding account")
	}
	if s.Mint != "" {
		if s.RequestedDecimals > MaxDecimals {
			return fmt.Errorf("recorded decimals %d out of range", s.RequestedDecimals)
		}
		if _, err := IssuanceQuantity(s.RequestedSupply, s.RequestedDecimals); err != nil {
			return err
		}
	}
	return nil
}

// StateKey addresses one persisted record.
type StateKey struct {
	Identity Identity
	Network  string
}

// NewStateKey builds the key for identity on target.
func NewStateKey(identity Identity, target NetworkTarget) StateKey {
	return StateKey{Identity: identity, Network: target.Discriminator()}
}

// String returns "<identity>.<network>", also used as the record's base name.
func (k StateKey) String() string {
	return fmt.Sprintf("%s.%s", k.Identity, k.Network)
}

// Matches reports whether state belongs to the key.
func (k StateKey) Matches(state *ProvisioningState) bool {
	if state.Identity != k.Identity {
		return false
	}
	target := NetworkTarget{Network: state.Network, Endpoint: state.Endpoint}
	return target.Discriminator() == k.Network
}

// StateStore persists provisioning records.
type StateStore interface {
	// Load returns the record for key, or nil without error when none exists.
	// A record that exists but cannot be interpreted yields *CorruptStateError.
	Load(ctx context.Context, key StateKey) (*ProvisioningState, error)

	// Save atomically replaces the record for key with state.
	Save(ctx context.Context, key StateKey, state *ProvisioningState) error

	// Name returns identifier for logging.
	Name() string

	// LocationURI returns URI identifying this store.
	LocationURI() string
}

// StateLocker is implemented by stores that can hold an advisory lock on a
// record for the duration of a run.
type StateLocker interface {
	// Lock acquires the lock for key or fails with ErrStateLocked.
	Lock(ctx context.Context, key StateKey) (unlock func() error, err error)
}

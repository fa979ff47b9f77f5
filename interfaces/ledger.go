package interfaces

import (
	"context"
	"errors"

	"github.com/mr-tron/base58"
)

// Identity is the base58-encoded public key of the signing credential that
// owns and authorizes ledger operations.
type Identity string

// NewIdentityFromPubkey encodes a raw 32-byte public key.
func NewIdentityFromPubkey(pubkey []byte) (Identity, error) {
	if len(pubkey) != 32 {
		return "", errors.New("invalid public key length: must be 32 bytes")
	}
	return Identity(base58.Encode(pubkey)), nil
}

// ParseIdentity validates a base58 public key string.
func ParseIdentity(s string) (Identity, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return "", errors.New("invalid identity: not base58")
	}
	return NewIdentityFromPubkey(raw)
}

// String returns the base58 form.
func (i Identity) String() string {
	return string(i)
}

// MintHandle references the on-ledger mint of a token.
type MintHandle string

func (h MintHandle) String() string { return string(h) }

// AccountHandle references a holding account for a (mint, owner) pair.
type AccountHandle string

func (h AccountHandle) String() string { return string(h) }

// Receipt identifies a submitted transaction, typically its signature.
type Receipt string

func (r Receipt) String() string { return string(r) }

// LedgerClient performs the remote operations the provisioning workflow is
// built from. Implementations own the wire protocol and transaction signing.
type LedgerClient interface {
	// GetBalance returns the native balance of the identity in base units.
	// Fails with ErrNetwork on connectivity problems.
	GetBalance(ctx context.Context, identity Identity) (uint64, error)

	// RequestFunding asks the network faucet for amount base units.
	// Fails with ErrRateLimited or ErrUnsupportedOnNetwork.
	RequestFunding(ctx context.Context, identity Identity, amount uint64) (Receipt, error)

	// CreateMint creates a new mint controlled by authority.
	// Fails with a RemoteRejectedError carrying the remote diagnostic.
	CreateMint(ctx context.Context, authority Identity, decimals uint8) (MintHandle, error)

	// CreateOrGetHoldingAccount creates the associated holding account of
	// owner for mint, or returns the existing one.
	CreateOrGetHoldingAccount(ctx context.Context, mint MintHandle, owner Identity) (AccountHandle, error)

	// Issue creates quantity base units of new supply into account.
	// Fails with a RemoteRejectedError.
	Issue(ctx context.Context, mint MintHandle, account AccountHandle, quantity uint64) (Receipt, error)
}

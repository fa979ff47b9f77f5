// Package interfaces defines the contracts and shared types of the token
// provisioning workflow, separating interface definitions from implementations.
//
// # Ledger
//
// LedgerClient: the remote operations the workflow is built from (balance
// query, faucet funding, mint creation, holding-account creation, issuance).
// Implementations live in the ledger package and own signing and the wire
// format.
//
// # State
//
// ProvisioningState: the persisted progress of one identity on one network.
// Its Stage is derived from which handles are populated:
//
//	FRESH -> MINT_CREATED -> ACCOUNT_CREATED -> ISSUED
//
// StateStore: durable, atomically replaced records addressed by StateKey.
// StateLocker: optional advisory lock held for the duration of a run.
//
// # Errors
//
// CorruptStateError, InsufficientResourcesError, RemoteRejectedError and
// StepError are typed errors; ErrNetwork, ErrRateLimited,
// ErrUnsupportedOnNetwork, ErrInvalidParams and ErrStateLocked are sentinels
// matched with errors.Is. IsTransient groups the kinds that are safe to retry.
package interfaces

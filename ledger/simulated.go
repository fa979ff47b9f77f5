package ledger

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mr-tron/base58"
	"github.com/ruteri/token-provisioner/interfaces"
	"go.uber.org/atomic"
)

// Op names a LedgerClient operation.
type Op string

const (
	OpGetBalance     Op = "getBalance"
	OpRequestFunding Op = "requestFunding"
	OpCreateMint     Op = "createMint"
	OpCreateAccount  Op = "createOrGetHoldingAccount"
	OpIssue          Op = "issue"
)

var allOps = []Op{OpGetBalance, OpRequestFunding, OpCreateMint, OpCreateAccount, OpIssue}

// SimulatedConfig sets the economics of a simulated ledger.
type SimulatedConfig struct {
	Network interfaces.Network

	// Fee is charged for every mutating operation.
	Fee uint64
	// MintRent and AccountRent are charged on allocation.
	MintRent    uint64
	AccountRent uint64

	// FaucetLimit is the number of funding requests served before the
	// faucet reports rate limiting.
	FaucetLimit int
}

// DefaultSimulatedConfig mirrors typical devnet costs.
func DefaultSimulatedConfig() SimulatedConfig {
	return SimulatedConfig{
		Network:     interfaces.Localnet,
		Fee:         5_000,
		MintRent:    1_461_600,
		AccountRent: 2_039_280,
		FaucetLimit: 2,
	}
}

type simMint struct {
	authority interfaces.Identity
	decimals  uint8
	supply    uint64
}

type simAccountKey struct {
	mint  interfaces.MintHandle
	owner interfaces.Identity
}

// Simulated is an in-memory ledger. Handles are derived deterministically
// from the creation inputs and a counter, failures can be injected per
// operation, and every call is counted.
type Simulated struct {
	cfg SimulatedConfig

	mu       sync.Mutex
	balances map[interfaces.Identity]uint64
	mints    map[interfaces.MintHandle]*simMint
	accounts map[simAccountKey]interfaces.AccountHandle
	holdings map[interfaces.AccountHandle]uint64
	failures map[Op]error
	nonce    uint64
	funded   int

	calls map[Op]*atomic.Int64
}

var _ interfaces.LedgerClient = (*Simulated)(nil)

// NewSimulated creates an empty simulated ledger.
func NewSimulated(cfg SimulatedConfig) *Simulated {
	calls := make(map[Op]*atomic.Int64, len(allOps))
	for _, op := range allOps {
		calls[op] = atomic.NewInt64(0)
	}
	return &Simulated{
		cfg:      cfg,
		balances: make(map[interfaces.Identity]uint64),
		mints:    make(map[interfaces.MintHandle]*simMint),
		accounts: make(map[simAccountKey]interfaces.AccountHandle),
		holdings: make(map[interfaces.AccountHandle]uint64),
		failures: make(map[Op]error),
		calls:    calls,
	}
}

// SetBalance overrides the native balance of identity.
func (s *Simulated) SetBalance(identity interfaces.Identity, amount uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[identity] = amount
}

// FailNext makes the next call of op return err without side effects.
func (s *Simulated) FailNext(op Op, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = err
}

// Calls returns how many times op was invoked, including failed calls.
func (s *Simulated) Calls(op Op) int64 {
	return s.calls[op].Load()
}

// MutatingCalls returns the number of mint, account and issuance calls.
func (s *Simulated) MutatingCalls() int64 {
	return s.Calls(OpCreateMint) + s.Calls(OpCreateAccount) + s.Calls(OpIssue)
}

// TotalCalls returns the number of calls of every operation.
func (s *Simulated) TotalCalls() int64 {
	var total int64
	for _, op := range allOps {
		total += s.Calls(op)
	}
	return total
}

// Supply returns the issued supply of mint.
func (s *Simulated) Supply(mint interfaces.MintHandle) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mints[mint]
	if !ok {
		return 0, false
	}
	return m.supply, true
}

// Holding returns the token balance of account.
func (s *Simulated) Holding(account interfaces.AccountHandle) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.holdings[account]
}

// MintCount returns the number of mints created.
func (s *Simulated) MintCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.mints)
}

func (s *Simulated) GetBalance(ctx context.Context, identity interfaces.Identity) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpGetBalance); err != nil {
		return 0, err
	}
	return s.balances[identity], nil
}

func (s *Simulated) RequestFunding(ctx context.Context, identity interfaces.Identity, amount uint64) (interfaces.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpRequestFunding); err != nil {
		return "", err
	}
	if s.cfg.Network.IsProduction() {
		return "", fmt.Errorf("%w: funding requests on %s", interfaces.ErrUnsupportedOnNetwork, s.cfg.Network)
	}
	if s.funded >= s.cfg.FaucetLimit {
		return "", fmt.Errorf("%w: faucet limit of %d requests reached", interfaces.ErrRateLimited, s.cfg.FaucetLimit)
	}
	s.funded++
	s.balances[identity] += amount
	return interfaces.Receipt(s.handle("fund", identity.String())), nil
}

func (s *Simulated) CreateMint(ctx context.Context, authority interfaces.Identity, decimals uint8) (interfaces.MintHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpCreateMint); err != nil {
		return "", err
	}
	if err := s.charge(OpCreateMint, authority, s.cfg.MintRent); err != nil {
		return "", err
	}
	mint := interfaces.MintHandle(s.handle("mint", authority.String()))
	s.mints[mint] = &simMint{authority: authority, decimals: decimals}
	return mint, nil
}

func (s *Simulated) CreateOrGetHoldingAccount(ctx context.Context, mint interfaces.MintHandle, owner interfaces.Identity) (interfaces.AccountHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpCreateAccount); err != nil {
		return "", err
	}
	if _, ok := s.mints[mint]; !ok {
		return "", &interfaces.RemoteRejectedError{Op: string(OpCreateAccount), Diagnostic: fmt.Sprintf("unknown mint %s", mint)}
	}

	key := simAccountKey{mint: mint, owner: owner}
	if account, ok := s.accounts[key]; ok {
		return account, nil
	}

	if err := s.charge(OpCreateAccount, owner, s.cfg.AccountRent); err != nil {
		return "", err
	}
	account := interfaces.AccountHandle(s.handle("account", mint.String(), owner.String()))
	s.accounts[key] = account
	return account, nil
}

func (s *Simulated) Issue(ctx context.Context, mint interfaces.MintHandle, account interfaces.AccountHandle, quantity uint64) (interfaces.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpIssue); err != nil {
		return "", err
	}
	m, ok := s.mints[mint]
	if !ok {
		return "", &interfaces.RemoteRejectedError{Op: string(OpIssue), Diagnostic: fmt.Sprintf("unknown mint %s", mint)}
	}
	if !s.accountBelongsTo(account, mint) {
		return "", &interfaces.RemoteRejectedError{Op: string(OpIssue), Diagnostic: fmt.Sprintf("account %s does not hold mint %s", account, mint)}
	}
	if err := s.charge(OpIssue, m.authority, 0); err != nil {
		return "", err
	}
	m.supply += quantity
	s.holdings[account] += quantity
	return interfaces.Receipt(s.handle("issue", mint.String(), account.String())), nil
}

// enter counts the call and consumes an injected failure. Callers hold mu.
func (s *Simulated) enter(op Op) error {
	s.calls[op].Inc()
	if err, ok := s.failures[op]; ok {
		delete(s.failures, op)
		return err
	}
	return nil
}

// charge debits the fee plus rent from payer. Callers hold mu.
func (s *Simulated) charge(op Op, payer interfaces.Identity, rent uint64) error {
	cost := s.cfg.Fee + rent
	if s.balances[payer] < cost {
		return &interfaces.RemoteRejectedError{
			Op:         string(op),
			Diagnostic: fmt.Sprintf("insufficient funds: balance %d, required %d", s.balances[payer], cost),
		}
	}
	s.balances[payer] -= cost
	return nil
}

func (s *Simulated) accountBelongsTo(account interfaces.AccountHandle, mint interfaces.MintHandle) bool {
	for key, a := range s.accounts {
		if a == account && key.mint == mint {
			return true
		}
	}
	return false
}

// handle derives a base58 32-byte identifier from the inputs and a counter.
// Callers hold mu.
func (s *Simulated) handle(kind string, parts ...string) string {
	s.nonce++
	var nonce [8]byte
	binary.BigEndian.PutUint64(nonce[:], s.nonce)

	chunks := [][]byte{[]byte(kind), nonce[:]}
	for _, p := range parts {
		chunks = append(chunks, []byte(p))
	}
	return base58.Encode(crypto.Keccak256(chunks...))
}

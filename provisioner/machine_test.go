package provisioner

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ruteri/token-provisioner/interfaces"
	"github.com/ruteri/token-provisioner/ledger"
	"github.com/ruteri/token-provisioner/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// syncBuffer collects log output for assertions.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func capturingLogger() (*slog.Logger, *syncBuffer) {
	buf := &syncBuffer{}
	return slog.New(slog.NewTextHandler(buf, nil)), buf
}

// recordingStore records the stage of every saved snapshot and can be told
// to fail a given save.
type recordingStore struct {
	*storage.MemoryStore

	mu     sync.Mutex
	stages []interfaces.Stage
	saves  int
	failAt int
}

func newRecordingStore() *recordingStore {
	return &recordingStore{MemoryStore: storage.NewMemoryStore()}
}

func (s *recordingStore) Save(ctx context.Context, key interfaces.StateKey, state *interfaces.ProvisioningState) error {
	s.mu.Lock()
	s.saves++
	fail := s.failAt != 0 && s.saves == s.failAt
	s.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}

	if err := s.MemoryStore.Save(ctx, key, state); err != nil {
		return err
	}

	s.mu.Lock()
	s.stages = append(s.stages, state.Stage())
	s.mu.Unlock()
	return nil
}

func (s *recordingStore) savedStages() []interfaces.Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]interfaces.Stage(nil), s.stages...)
}

type fixture struct {
	identity interfaces.Identity
	target   interfaces.NetworkTarget
	sim      *ledger.Simulated
	store    *recordingStore
	cfg      Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	identity, err := interfaces.NewIdentityFromPubkey(bytes.Repeat([]byte{9}, 32))
	require.NoError(t, err)
	target, err := interfaces.NewNetworkTarget(interfaces.Localnet, "")
	require.NoError(t, err)

	sim := ledger.NewSimulated(ledger.DefaultSimulatedConfig())
	sim.SetBalance(identity, 5_000_000_000)

	cfg := DefaultConfig()
	cfg.Now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }

	return &fixture{
		identity: identity,
		target:   target,
		sim:      sim,
		store:    newRecordingStore(),
		cfg:      cfg,
	}
}

func (f *fixture) machine(log *slog.Logger) *Machine {
	return NewMachine(f.sim, f.store, f.cfg, log)
}

func (f *fixture) request(params interfaces.TokenParams) Request {
	return Request{Identity: f.identity, Target: f.target, Params: params}
}

func (f *fixture) key() interfaces.StateKey {
	return interfaces.NewStateKey(f.identity, f.target)
}

var defaultParams = interfaces.TokenParams{Name: "Example", Symbol: "EXM", Decimals: 9, Supply: 1_000_000}

func TestRun_FromScratch(t *testing.T) {
	f := newFixture(t)

	res, err := f.machine(testLogger()).Run(context.Background(), f.request(defaultParams))
	require.NoError(t, err)

	assert.Equal(t, "ISSUED", res.Stage)
	assert.True(t, res.Issued)
	assert.NotEmpty(t, res.Mint)
	assert.NotEmpty(t, res.HoldingAccount)
	assert.Equal(t, []interfaces.Step{interfaces.StepCreateMint, interfaces.StepCreateAccount, interfaces.StepIssueSupply}, res.Performed)
	assert.Equal(t, uint64(1_000_000_000_000_000), res.Quantity)
	assert.Equal(t, defaultParams, res.Params)
	assert.NotEmpty(t, res.Receipts[interfaces.StepIssueSupply])

	supply, ok := f.sim.Supply(res.Mint)
	require.True(t, ok)
	assert.Equal(t, uint64(1_000_000_000_000_000), supply)
	assert.Equal(t, supply, f.sim.Holding(res.HoldingAccount))

	state, err := f.store.Load(context.Background(), f.key())
	require.NoError(t, err)
	assert.Equal(t, interfaces.StageIssued, state.Stage())
	assert.True(t, f.cfg.Now().Equal(state.UpdatedAt))
}

func TestRun_MonotonicAdvancement(t *testing.T) {
	f := newFixture(t)

	_, err := f.machine(testLogger()).Run(context.Background(), f.request(defaultParams))
	require.NoError(t, err)

	assert.Equal(t, []interfaces.Stage{
		interfaces.StageMintCreated,
		interfaces.StageAccountCreated,
		interfaces.StageIssued,
	}, f.store.savedStages())
}

func TestRun_TerminalNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.machine(testLogger()).Run(ctx, f.request(defaultParams))
	require.NoError(t, err)
	saves := f.store.Saves()

	// Any ledger call would panic on the unconfigured mock.
	mockLedger := new(ledger.MockLedgerClient)
	m := NewMachine(mockLedger, f.store, f.cfg, testLogger())

	res, err := m.Run(ctx, f.request(defaultParams))
	require.NoError(t, err)
	assert.Equal(t, "ISSUED", res.Stage)
	assert.Empty(t, res.Performed)
	assert.Equal(t, first.Mint, res.Mint)
	assert.Equal(t, first.HoldingAccount, res.HoldingAccount)
	assert.Equal(t, saves, f.store.Saves())

	mockLedger.AssertNotCalled(t, "GetBalance", mock.Anything, mock.Anything)
	mockLedger.AssertNotCalled(t, "CreateMint", mock.Anything, mock.Anything, mock.Anything)
	mockLedger.AssertNotCalled(t, "Issue", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRun_IdempotentResume(t *testing.T) {
	tests := []struct {
		name      string
		failOp    ledger.Op
		failStep  interfaces.Step
		wantStage interfaces.Stage
		resumed   []interfaces.Step
	}{
		{
			name:      "after mint",
			failOp:    ledger.OpCreateAccount,
			failStep:  interfaces.StepCreateAccount,
			wantStage: interfaces.StageMintCreated,
			resumed:   []interfaces.Step{interfaces.StepCreateAccount, interfaces.StepIssueSupply},
		},
		{
			name:      "after account",
			failOp:    ledger.OpIssue,
			failStep:  interfaces.StepIssueSupply,
			wantStage: interfaces.StageAccountCreated,
			resumed:   []interfaces.Step{interfaces.StepIssueSupply},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			f.sim.FailNext(tt.failOp, &interfaces.RemoteRejectedError{Op: string(tt.failOp), Diagnostic: "injected"})

			res, err := f.machine(testLogger()).Run(ctx, f.request(defaultParams))
			var stepErr *interfaces.StepError
			require.ErrorAs(t, err, &stepErr)
			assert.Equal(t, tt.failStep, stepErr.Step)
			assert.ErrorIs(t, err, interfaces.ErrRemoteRejected)
			assert.Equal(t, tt.wantStage.String(), res.Stage)

			state, err := f.store.Load(ctx, f.key())
			require.NoError(t, err)
			assert.Equal(t, tt.wantStage, state.Stage(), "record stays at the last successful step")
			recordedMint := state.Mint

			res, err = f.machine(testLogger()).Run(ctx, f.request(defaultParams))
			require.NoError(t, err)
			assert.Equal(t, tt.resumed, res.Performed)
			assert.Equal(t, recordedMint, res.Mint)

			assert.Equal(t, int64(1), f.sim.Calls(ledger.OpCreateMint), "mint is never created twice")
			assert.Equal(t, 1, f.sim.MintCount())
		})
	}
}

func TestRun_PartialFailureRecovery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.sim.FailNext(ledger.OpIssue, errors.Join(interfaces.ErrNetwork, errors.New("connection reset")))

	_, err := f.machine(testLogger()).Run(ctx, f.request(defaultParams))
	require.Error(t, err)
	assert.True(t, interfaces.IsTransient(err))

	res, err := f.machine(testLogger()).Run(ctx, f.request(defaultParams))
	require.NoError(t, err)
	assert.Equal(t, "ISSUED", res.Stage)

	assert.Equal(t, int64(1), f.sim.Calls(ledger.OpCreateMint))
	assert.Equal(t, int64(1), f.sim.Calls(ledger.OpCreateAccount))
	assert.Equal(t, int64(2), f.sim.Calls(ledger.OpIssue))

	supply, _ := f.sim.Supply(res.Mint)
	assert.Equal(t, uint64(1_000_000_000_000_000), supply, "failed issuance left no partial supply")
}

func TestRun_IssuanceUsesRecordedParams(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.sim.FailNext(ledger.OpCreateAccount, errors.Join(interfaces.ErrNetwork, errors.New("timeout")))

	_, err := f.machine(testLogger()).Run(ctx, f.request(defaultParams))
	require.Error(t, err)

	log, buf := capturingLogger()
	changed := interfaces.TokenParams{Name: "Other", Symbol: "OTH", Decimals: 2, Supply: 5}
	res, err := f.machine(log).Run(ctx, f.request(changed))
	require.NoError(t, err)

	assert.Equal(t, defaultParams, res.Params)
	supply, _ := f.sim.Supply(res.Mint)
	assert.Equal(t, uint64(1_000_000_000_000_000), supply)
	assert.Contains(t, buf.String(), "differ from the recorded ones")
	assert.Contains(t, buf.String(), "decimals 2 (recorded 9)")
}

func TestRun_DivergenceOnlyForSuppliedParams(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.sim.FailNext(ledger.OpIssue, errors.Join(interfaces.ErrNetwork, errors.New("timeout")))

	_, err := f.machine(testLogger()).Run(ctx, f.request(defaultParams))
	require.Error(t, err)

	log, buf := capturingLogger()
	req := f.request(interfaces.TokenParams{Decimals: 6, Supply: 10})
	req.Supplied = &SuppliedParams{}
	_, err = f.machine(log).Run(ctx, req)
	require.NoError(t, err)
	assert.NotContains(t, buf.String(), "differ from the recorded ones")
}

func TestRun_CorruptStateFallback(t *testing.T) {
	f := newFixture(t)
	f.store.Put(f.key(), []byte(`{"version": 1, "mint": `))

	log, buf := capturingLogger()
	res, err := f.machine(log).Run(context.Background(), f.request(defaultParams))
	require.NoError(t, err)

	assert.Equal(t, "ISSUED", res.Stage)
	assert.Len(t, res.Performed, 3)
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "unreadable")
}

func TestRun_InsufficientResources(t *testing.T) {
	f := newFixture(t)
	f.sim.SetBalance(f.identity, 1_000)

	res, err := f.machine(testLogger()).Run(context.Background(), f.request(defaultParams))

	var insufficient *interfaces.InsufficientResourcesError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, uint64(1_000), insufficient.Balance)
	assert.Equal(t, f.cfg.MinBalance, insufficient.Required)

	var stepErr *interfaces.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, interfaces.StepCreateMint, stepErr.Step)

	assert.Equal(t, "FRESH", res.Stage)
	assert.Zero(t, f.sim.MutatingCalls())
	assert.Zero(t, f.sim.Calls(ledger.OpRequestFunding))
	assert.Zero(t, f.store.Saves())
}

func TestRun_AutoFund(t *testing.T) {
	f := newFixture(t)
	f.sim.SetBalance(f.identity, 0)
	f.cfg.AutoFund = true

	res, err := f.machine(testLogger()).Run(context.Background(), f.request(defaultParams))
	require.NoError(t, err)
	assert.Equal(t, "ISSUED", res.Stage)
	assert.Equal(t, int64(1), f.sim.Calls(ledger.OpRequestFunding))
}

func TestRun_AutoFundRateLimited(t *testing.T) {
	f := newFixture(t)
	cfg := ledger.DefaultSimulatedConfig()
	cfg.FaucetLimit = 0
	f.sim = ledger.NewSimulated(cfg)
	f.cfg.AutoFund = true

	_, err := f.machine(testLogger()).Run(context.Background(), f.request(defaultParams))
	require.Error(t, err)
	assert.ErrorIs(t, err, interfaces.ErrRateLimited)
	assert.True(t, interfaces.IsTransient(err))

	var stepErr *interfaces.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, interfaces.StepCreateMint, stepErr.Step)
	assert.Zero(t, f.sim.MutatingCalls())
}

func TestRun_NoAutoFundOnProduction(t *testing.T) {
	f := newFixture(t)
	target, err := interfaces.NewNetworkTarget(interfaces.Mainnet, "")
	require.NoError(t, err)
	f.target = target

	cfg := ledger.DefaultSimulatedConfig()
	cfg.Network = interfaces.Mainnet
	f.sim = ledger.NewSimulated(cfg)
	f.cfg.AutoFund = true

	_, err = f.machine(testLogger()).Run(context.Background(), f.request(defaultParams))
	var insufficient *interfaces.InsufficientResourcesError
	require.ErrorAs(t, err, &insufficient)
	assert.Zero(t, f.sim.Calls(ledger.OpRequestFunding))
}

func TestRun_PersistFailure(t *testing.T) {
	f := newFixture(t)
	f.store.failAt = 2

	log, buf := capturingLogger()
	res, err := f.machine(log).Run(context.Background(), f.request(defaultParams))

	var stepErr *interfaces.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, interfaces.StepPersist, stepErr.Step)
	assert.Equal(t, "MINT_CREATED", res.Stage)
	assert.Equal(t, int64(0), f.sim.Calls(ledger.OpIssue))
	assert.Contains(t, buf.String(), "level=ERROR")
	assert.Contains(t, buf.String(), "record the handles manually")
}

func TestRun_InvalidParams(t *testing.T) {
	f := newFixture(t)

	_, err := f.machine(testLogger()).Run(context.Background(), f.request(interfaces.TokenParams{Name: "Example", Decimals: 9, Supply: 1}))
	assert.ErrorIs(t, err, interfaces.ErrInvalidParams)
	assert.Zero(t, f.sim.TotalCalls())

	_, err = f.machine(testLogger()).Run(context.Background(), Request{Target: f.target, Params: defaultParams})
	assert.ErrorIs(t, err, interfaces.ErrInvalidParams)
}

func TestRun_StateLocked(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()

	store, err := storage.NewFileStore(dir, testLogger())
	require.NoError(t, err)
	holder, err := storage.NewFileStore(dir, testLogger())
	require.NoError(t, err)

	unlock, err := holder.Lock(context.Background(), f.key())
	require.NoError(t, err)
	defer unlock()

	m := NewMachine(f.sim, store, f.cfg, testLogger())
	_, err = m.Run(context.Background(), f.request(defaultParams))
	assert.ErrorIs(t, err, interfaces.ErrStateLocked)
	assert.Zero(t, f.sim.TotalCalls())
}

func TestRun_FileStoreEndToEnd(t *testing.T) {
	f := newFixture(t)
	store, err := storage.NewFileStore(t.TempDir(), testLogger())
	require.NoError(t, err)

	f.sim.FailNext(ledger.OpIssue, errors.Join(interfaces.ErrRateLimited, errors.New("429")))
	m := NewMachine(f.sim, store, f.cfg, testLogger())

	_, err = m.Run(context.Background(), f.request(defaultParams))
	require.Error(t, err)

	// A new machine stands in for a new process.
	m = NewMachine(f.sim, store, f.cfg, testLogger())
	res, err := m.Run(context.Background(), f.request(defaultParams))
	require.NoError(t, err)
	assert.Equal(t, []interfaces.Step{interfaces.StepIssueSupply}, res.Performed)
}

func TestRun_NetworksAreSeparate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	localnet, err := f.machine(testLogger()).Run(ctx, f.request(defaultParams))
	require.NoError(t, err)

	custom, err := interfaces.NewNetworkTarget(interfaces.Custom, "http://validator.internal:8899")
	require.NoError(t, err)
	req := f.request(defaultParams)
	req.Target = custom

	other, err := f.machine(testLogger()).Run(ctx, req)
	require.NoError(t, err)
	assert.NotEqual(t, localnet.Mint, other.Mint)
	assert.Equal(t, 2, f.sim.MintCount())
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.machine(testLogger())

	res, err := m.Status(ctx, f.identity, f.target)
	require.NoError(t, err)
	assert.Equal(t, "FRESH", res.Stage)

	f.sim.FailNext(ledger.OpCreateAccount, errors.Join(interfaces.ErrNetwork, errors.New("timeout")))
	_, err = m.Run(ctx, f.request(defaultParams))
	require.Error(t, err)
	calls := f.sim.TotalCalls()

	res, err = m.Status(ctx, f.identity, f.target)
	require.NoError(t, err)
	assert.Equal(t, "MINT_CREATED", res.Stage)
	assert.Equal(t, defaultParams, res.Params)
	assert.Equal(t, calls, f.sim.TotalCalls(), "status performs no ledger calls")
}

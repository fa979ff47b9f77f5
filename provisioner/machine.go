package provisioner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ruteri/token-provisioner/interfaces"
)

// Machine advances a provisioning record one remote step at a time,
// persisting the record after every successful step.
type Machine struct {
	ledger interfaces.LedgerClient
	store  interfaces.StateStore
	cfg    Config
	log    *slog.Logger
}

// NewMachine creates a provisioning machine.
func NewMachine(ledger interfaces.LedgerClient, store interfaces.StateStore, cfg Config, log *slog.Logger) *Machine {
	if cfg.Now == nil {
		cfg.Now = DefaultConfig().Now
	}
	return &Machine{ledger: ledger, store: store, cfg: cfg, log: log}
}

// Run loads the record for the request, performs every step that has not
// completed yet and returns the final summary. On failure the returned error
// is a *interfaces.StepError and the Result describes the last persisted
// snapshot.
func (m *Machine) Run(ctx context.Context, req Request) (*Result, error) {
	if req.Identity == "" {
		return nil, fmt.Errorf("%w: identity not set", interfaces.ErrInvalidParams)
	}
	if err := req.Target.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidParams, err)
	}

	key := interfaces.NewStateKey(req.Identity, req.Target)
	log := m.log.With(
		slog.String("identity", req.Identity.String()),
		slog.String("network", key.Network))

	if locker, ok := m.store.(interfaces.StateLocker); ok {
		unlock, err := locker.Lock(ctx, key)
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := unlock(); err != nil {
				log.Warn("Failed to release state lock", "err", err)
			}
		}()
	}

	state, err := m.load(ctx, key, req, log)
	if err != nil {
		return nil, err
	}

	stage := state.Stage()
	if stage == interfaces.StageIssued {
		log.Info("Token already provisioned, nothing to do",
			slog.String("mint", state.Mint.String()),
			slog.String("account", state.HoldingAccount.String()))
		return newResult(key, state, nil), nil
	}

	if stage == interfaces.StageFresh {
		if err := req.Params.Validate(); err != nil {
			return nil, err
		}
	} else {
		log.Info("Resuming provisioning", slog.String("stage", stage.String()))
		if m.cfg.WarnOnParamMismatch {
			m.warnOnDivergence(state, req, log)
		}
	}

	var performed []interfaces.Step
	for {
		step, ok := state.Stage().NextStep()
		if !ok {
			break
		}

		if err := m.ensureFunds(ctx, req, log); err != nil {
			return newResult(key, state, performed), &interfaces.StepError{Step: step, Err: err}
		}

		log.Info("Performing step", slog.String("step", string(step)))
		next, err := m.perform(ctx, step, state, req)
		if err != nil {
			log.Error("Step failed", slog.String("step", string(step)), "err", err)
			return newResult(key, state, performed), &interfaces.StepError{Step: step, Err: err}
		}

		if err := m.advance(ctx, key, state, next); err != nil {
			log.Error("Step succeeded but state could not be persisted, record the handles manually",
				slog.String("step", string(step)),
				slog.String("mint", next.Mint.String()),
				slog.String("account", next.HoldingAccount.String()),
				"err", err)
			return newResult(key, state, performed), &interfaces.StepError{Step: interfaces.StepPersist, Err: err}
		}

		state = next
		performed = append(performed, step)
		log.Info("Step complete",
			slog.String("step", string(step)),
			slog.String("stage", state.Stage().String()))
	}

	return newResult(key, state, performed), nil
}

// Status returns the persisted record for identity on target, or nil when
// provisioning never started. It takes no lock and performs no remote calls.
func (m *Machine) Status(ctx context.Context, identity interfaces.Identity, target interfaces.NetworkTarget) (*Result, error) {
	key := interfaces.NewStateKey(identity, target)
	state, err := m.store.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	if state == nil {
		state = interfaces.NewProvisioningState(identity, target)
	}
	return newResult(key, state, nil), nil
}

// load returns the persisted record, or a fresh one when none exists or the
// stored one cannot be interpreted.
func (m *Machine) load(ctx context.Context, key interfaces.StateKey, req Request, log *slog.Logger) (*interfaces.ProvisioningState, error) {
	state, err := m.store.Load(ctx, key)

	var corrupt *interfaces.CorruptStateError
	switch {
	case errors.As(err, &corrupt):
		log.Warn("Provisioning state is unreadable, starting from scratch. Steps already performed on the ledger may be repeated",
			slog.String("store", m.store.LocationURI()),
			"err", err)
		state = nil
	case err != nil:
		return nil, fmt.Errorf("failed to load provisioning state: %w", err)
	}

	if state == nil {
		return interfaces.NewProvisioningState(req.Identity, req.Target), nil
	}
	return state, nil
}

// perform executes a single step against the ledger and returns the record
// that results from it. state is not modified.
func (m *Machine) perform(ctx context.Context, step interfaces.Step, state *interfaces.ProvisioningState, req Request) (*interfaces.ProvisioningState, error) {
	next := state.Clone()

	switch step {
	case interfaces.StepCreateMint:
		mint, err := m.ledger.CreateMint(ctx, state.Identity, req.Params.Decimals)
		if err != nil {
			return nil, err
		}
		next.Mint = mint
		next.RequestedName = req.Params.Name
		next.RequestedSymbol = req.Params.Symbol
		next.RequestedDecimals = req.Params.Decimals
		next.RequestedSupply = req.Params.Supply

	case interfaces.StepCreateAccount:
		account, err := m.ledger.CreateOrGetHoldingAccount(ctx, state.Mint, state.Identity)
		if err != nil {
			return nil, err
		}
		next.HoldingAccount = account

	case interfaces.StepIssueSupply:
		quantity, err := interfaces.IssuanceQuantity(state.RequestedSupply, state.RequestedDecimals)
		if err != nil {
			return nil, err
		}
		receipt, err := m.ledger.Issue(ctx, state.Mint, state.HoldingAccount, quantity)
		if err != nil {
			return nil, err
		}
		next.IssuanceComplete = true
		if next.Receipts == nil {
			next.Receipts = make(map[interfaces.Step]interfaces.Receipt)
		}
		next.Receipts[step] = receipt

	default:
		return nil, fmt.Errorf("unknown step %q", step)
	}

	return next, nil
}

// advance persists next after checking that it only moves forward from prev
// and leaves recorded handles untouched.
func (m *Machine) advance(ctx context.Context, key interfaces.StateKey, prev, next *interfaces.ProvisioningState) error {
	if next.Stage() <= prev.Stage() {
		return fmt.Errorf("refusing to move from %s to %s", prev.Stage(), next.Stage())
	}
	if prev.Mint != "" && next.Mint != prev.Mint {
		return errors.New("refusing to replace recorded mint")
	}
	if prev.HoldingAccount != "" && next.HoldingAccount != prev.HoldingAccount {
		return errors.New("refusing to replace recorded holding account")
	}

	next.UpdatedAt = m.cfg.Now().UTC()
	return m.store.Save(ctx, key, next)
}

// ensureFunds checks the balance precondition of a mutating step, requesting
// faucet funding once when allowed.
func (m *Machine) ensureFunds(ctx context.Context, req Request, log *slog.Logger) error {
	balance, err := m.ledger.GetBalance(ctx, req.Identity)
	if err != nil {
		return fmt.Errorf("balance check failed: %w", err)
	}
	if balance >= m.cfg.MinBalance {
		return nil
	}

	if !m.cfg.AutoFund || req.Target.Network.IsProduction() {
		return &interfaces.InsufficientResourcesError{Identity: req.Identity, Balance: balance, Required: m.cfg.MinBalance}
	}

	log.Info("Balance below minimum, requesting funding",
		slog.Uint64("balance", balance),
		slog.Uint64("required", m.cfg.MinBalance),
		slog.Uint64("amount", m.cfg.FundingAmount))

	receipt, err := m.ledger.RequestFunding(ctx, req.Identity, m.cfg.FundingAmount)
	if err != nil {
		return fmt.Errorf("%s failed: %w", interfaces.StepFund, err)
	}
	log.Info("Funding received", slog.String("receipt", receipt.String()))

	balance, err = m.ledger.GetBalance(ctx, req.Identity)
	if err != nil {
		return fmt.Errorf("balance check failed: %w", err)
	}
	if balance < m.cfg.MinBalance {
		return &interfaces.InsufficientResourcesError{Identity: req.Identity, Balance: balance, Required: m.cfg.MinBalance}
	}
	return nil
}

// warnOnDivergence reports explicitly supplied parameters that differ from
// the recorded ones.
func (m *Machine) warnOnDivergence(state *interfaces.ProvisioningState, req Request, log *slog.Logger) {
	recorded := state.RequestedParams()
	supplied := req.Params
	set := req.supplied()

	var diverging []string
	if set.Name && supplied.Name != recorded.Name {
		diverging = append(diverging, fmt.Sprintf("name %q (recorded %q)", supplied.Name, recorded.Name))
	}
	if set.Symbol && supplied.Symbol != recorded.Symbol {
		diverging = append(diverging, fmt.Sprintf("symbol %q (recorded %q)", supplied.Symbol, recorded.Symbol))
	}
	if set.Decimals && supplied.Decimals != recorded.Decimals {
		diverging = append(diverging, fmt.Sprintf("decimals %d (recorded %d)", supplied.Decimals, recorded.Decimals))
	}
	if set.Supply && supplied.Supply != recorded.Supply {
		diverging = append(diverging, fmt.Sprintf("supply %d (recorded %d)", supplied.Supply, recorded.Supply))
	}

	if len(diverging) > 0 {
		log.Warn("Supplied parameters differ from the recorded ones, using recorded values",
			slog.String("diverging", strings.Join(diverging, ", ")))
	}
}

package provisioner

import (
	"time"

	"github.com/ruteri/token-provisioner/interfaces"
)

// Config holds the tunables of the provisioning machine. It is passed in
// explicitly, the machine reads no process-wide state.
type Config struct {
	// MinBalance is the native balance the identity must hold before every
	// mutating step.
	MinBalance uint64

	// AutoFund requests FundingAmount from the faucet once per step when the
	// balance is short. Never used on production networks.
	AutoFund      bool
	FundingAmount uint64

	// WarnOnParamMismatch logs a warning when a resumed run is invoked with
	// parameters that differ from the recorded ones.
	WarnOnParamMismatch bool

	Now func() time.Time
}

// DefaultConfig returns 0.01 native units as minimum balance and 1 native
// unit per funding request, with 9 decimal native units.
func DefaultConfig() Config {
	return Config{
		MinBalance:          10_000_000,
		AutoFund:            false,
		FundingAmount:       1_000_000_000,
		WarnOnParamMismatch: true,
		Now:                 time.Now,
	}
}

// Request carries the fully resolved inputs of a run.
type Request struct {
	Identity interfaces.Identity
	Target   interfaces.NetworkTarget

	// Params are only used when the record is FRESH. Once a mint exists the
	// recorded parameters are authoritative.
	Params interfaces.TokenParams

	// Supplied marks which Params the operator set explicitly, as opposed to
	// defaults. Only explicit values are compared with the recorded ones on
	// resume. nil means all of them.
	Supplied *SuppliedParams
}

// SuppliedParams flags explicitly provided token parameters.
type SuppliedParams struct {
	Name     bool
	Symbol   bool
	Decimals bool
	Supply   bool
}

func (r Request) supplied() SuppliedParams {
	if r.Supplied == nil {
		return SuppliedParams{Name: true, Symbol: true, Decimals: true, Supply: true}
	}
	return *r.Supplied
}

// Result summarizes the record after a run.
type Result struct {
	Identity       interfaces.Identity                    `json:"identity"`
	Network        string                                 `json:"network"`
	Stage          string                                 `json:"stage"`
	Mint           interfaces.MintHandle                  `json:"mint,omitempty"`
	HoldingAccount interfaces.AccountHandle               `json:"holdingAccount,omitempty"`
	Issued         bool                                   `json:"issued"`
	Quantity       uint64                                 `json:"quantity,omitempty"`
	Params         interfaces.TokenParams                 `json:"params"`
	Performed      []interfaces.Step                      `json:"performed"`
	Receipts       map[interfaces.Step]interfaces.Receipt `json:"receipts,omitempty"`
}

func newResult(key interfaces.StateKey, state *interfaces.ProvisioningState, performed []interfaces.Step) *Result {
	res := &Result{
		Identity:       state.Identity,
		Network:        key.Network,
		Stage:          state.Stage().String(),
		Mint:           state.Mint,
		HoldingAccount: state.HoldingAccount,
		Issued:         state.IssuanceComplete,
		Performed:      append([]interfaces.Step{}, performed...),
		Receipts:       state.Receipts,
	}
	if state.Mint != "" {
		res.Params = state.RequestedParams()
		res.Quantity, _ = interfaces.IssuanceQuantity(state.RequestedSupply, state.RequestedDecimals)
	}
	return res
}

// Package provisioner implements the resumable token provisioning workflow.
//
// A token is provisioned in three dependent remote steps, each of which costs
// fees and may fail independently:
//
//	FRESH --create-mint--> MINT_CREATED --create-holding-account--> ACCOUNT_CREATED --issue-supply--> ISSUED
//
// The Machine derives the stage from the persisted interfaces.ProvisioningState,
// performs the next step through an interfaces.LedgerClient and saves the new
// snapshot before attempting the following step. A run that is interrupted
// between steps therefore resumes from the last recorded step on the next
// invocation, and a record already at ISSUED results in no ledger calls at all.
//
// # Preconditions
//
// Before each step the identity's balance is compared with Config.MinBalance.
// When it is short the run fails with *interfaces.InsufficientResourcesError
// and nothing is mutated, unless Config.AutoFund is set on a non-production
// network, in which case one faucet request is made and the balance checked
// again.
//
// # Recorded parameters
//
// Name, symbol, decimals and supply are recorded together with the mint. The
// issued quantity is always computed from the recorded decimals and supply,
// so a resumed run issues exactly what was committed to when the mint was
// created, whatever the operator passes on the resuming invocation.
//
// # Failures
//
// Any failing step aborts the run with *interfaces.StepError naming the step;
// the persisted record is left at the last successful snapshot. Unreadable
// records are logged as warnings and treated as absent.
package provisioner

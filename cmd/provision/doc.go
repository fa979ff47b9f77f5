// Package main (cmd/provision) provisions a fungible token for the identity in
// a local keypair file: it creates the mint, the identity's holding account
// and issues the initial supply into it.
//
// Every completed step is recorded in the state store before the next one is
// attempted, so an interrupted invocation can simply be repeated. A repeated
// invocation after the token was fully provisioned performs no ledger calls
// and prints the recorded result.
//
// Commands:
//
//	run (default)  - perform the remaining provisioning steps
//	status         - print the recorded provisioning state without touching the ledger
//
// Example:
//
//	provision --network devnet --auto-fund --name "Example" --symbol EXM --decimals 9 --supply 1000000
//
// State is kept next to the keypair unless --state names another location:
// a directory, file://, s3://bucket/prefix?region=..., vault://host:port/mount/path
// or memory://. The result summary is printed to stdout as JSON, logs go to
// stderr.
//
// Exit codes:
//
//	0  success
//	1  unclassified failure
//	2  insufficient native balance
//	3  network failure or rate limiting, retrying later may succeed
//	4  the ledger or the token tool rejected an operation
//	5  invalid parameters or operation unsupported on the network
//	6  another run holds the state lock
package main

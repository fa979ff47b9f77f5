// Package cryptoutils loads the ed25519 signing credential of a provisioning
// run and derives its base58 identity.
package cryptoutils

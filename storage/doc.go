// Package storage persists provisioning records behind pluggable backends.
//
// Every backend stores one JSON document per state key, where the key is the
// identity together with a network discriminator:
//
//	<identity>.<network>.json
//
// so the same identity provisioning on different networks never shares a
// record. All backends encode and decode through EncodeState and DecodeState;
// a record that fails to parse, violates the step-order invariants or belongs
// to a different key is reported as *interfaces.CorruptStateError.
//
// # Location URI Format
//
// Stores are selected with NewStateStore from a URI:
//
//	[scheme]://[auth@]host[:port][/path][?params]
//
// Supported schemes:
//
//   - file:///var/lib/token-provisioner/
//   - s3://bucket-name/prefix/?region=us-west-2
//   - vault://vault.example.com:8200/secret/token-provisioner
//   - memory://
//
// Several comma-separated locations build a MultiStore that writes every
// snapshot to each mirror and loads the most advanced record among them.
//
// # Atomicity
//
// FileStore writes to a temporary file in the target directory, syncs it and
// renames it over the previous record, so a crash mid-write leaves either the
// old or the new snapshot. S3Store relies on PutObject replacing the whole
// object. VaultStore writes a new KV v2 version.
//
// # Locking
//
// FileStore implements interfaces.StateLocker with an advisory lock file next
// to the record, preventing two local runs from interleaving writes.
package storage

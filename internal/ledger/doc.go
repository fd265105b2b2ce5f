// Package ledger is titlechain's replicated record of asset facts.
//
// Each peer keeps its world state in its own leveldb database. A Gateway
// simulates every proposal on all peers through the asset Contract and only
// commits when the resulting write sets are byte-identical, which is why
// every stored value goes through canonical encoding first.
//
// Key layout per peer:
//
//	s/<uuid>   asset record (canonical JSON)
//	r/<txID>   receipt of a committed transaction
//	m/height   number of committed transactions
//
// Transaction IDs are idempotency tokens. Resubmitting a committed ID with
// the same proposal returns the recorded result without applying anything;
// reusing it for a different proposal is a conflict.
package ledger

// Package canon implements the canonical JSON encoding used for replicated
// ledger state.
//
// Every ledger peer executes transactions independently and must arrive at
// byte-identical committed values, otherwise their state hashes disagree and
// the network cannot endorse the transaction. Canonical encoding removes the
// freedom a JSON encoder normally has:
//
//   - object keys are sorted by UTF-16 code units at every nesting level
//     (RFC 8785; identical to plain lexicographic order for ASCII keys)
//   - strings are NFC normalized and never HTML-escaped
//   - floats are rejected; amounts travel as decimal strings
//   - no insignificant whitespace
//
// Marshal is the only function that may produce bytes written to ledger
// state. StateHash derives a peer's state fingerprint from canonical pairs.
package canon

// Package protect signs and encrypts the protected properties of a state
// tree on the way to the client and verifies them on the way back.
//
// Signed properties are sent in clear next to a "$env:<name>" envelope
// holding a keyed BLAKE2b MAC over the canonical form of the value.
// Encrypted properties travel only as an envelope sealed with
// XChaCha20-Poly1305. Every envelope is bound to the structural path where
// it was issued.
//
// Verification fails closed: the first bad envelope rejects the payload.
package protect

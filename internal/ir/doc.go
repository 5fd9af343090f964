// Package ir provides the state tree types shared by every vmsync package.
//
// All other internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Nodes are immutable once constructed. Updates rebuild the changed
//     path and share every untouched subtree.
//   - Identity is pointer identity for *Array and *Object and value
//     equality for scalars (see Same).
//   - Canonical serialization follows RFC 8785 and is the only encoding
//     used for signing and content addressing.
package ir

package tqueue

import "unsafe"

// nodeAddr gives a TNode's identity for the (key, address) tie-break order
// spec §3 requires of the tree queue. It only needs to be a stable total
// order over live nodes, not a meaningful memory address.
func nodeAddr(n *TNode) uintptr {
	return uintptr(unsafe.Pointer(n))
}

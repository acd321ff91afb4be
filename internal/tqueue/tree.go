package tqueue

import "github.com/rcukernel/corekernel/internal/kerr"

// TreeQueue is a key-ordered multi-map of waiters, implemented as an
// intrusive red-black tree keyed by (Key, node-address) pairs so that
// waiters sharing a key still have a deterministic, total order (spec §3,
// "Tree... keyed by (user-key, node-address) pairing for deterministic
// tie-break"). Every TreeQueue owns a private nil sentinel so fixup code
// can treat "no child" uniformly without special-casing real nil.
type TreeQueue struct {
	nil  *TNode // this tree's black sentinel
	root *TNode
	size int
}

// NewTreeQueue returns an empty tree queue.
func NewTreeQueue() *TreeQueue {
	sentinel := &TNode{}
	t := &TreeQueue{nil: sentinel}
	t.root = sentinel
	return t
}

// Size returns the number of waiters currently enqueued.
func (t *TreeQueue) Size() int { return t.size }

// less gives the (key, address) total order spec §3 describes.
func (t *TreeQueue) less(a, b *TNode) bool {
	if a.Key != b.Key {
		return a.Key < b.Key
	}
	return nodeAddr(a) < nodeAddr(b)
}

// Add enqueues w keyed by key.
func (t *TreeQueue) Add(w Waiter, key uint64) error {
	n := w.Node()
	if n.Tag != TagNone {
		kerr.Fatalf("tqueue: double-enqueue of a node already tagged %v", n.Tag)
	}
	n.Tag = TagTree
	n.container = t
	n.treeOwner = w
	n.Key = key
	n.treeLeft, n.treeRight, n.treeParent, n.treeRed = t.nil, t.nil, t.nil, true

	y := t.nil
	x := t.root
	for x != t.nil {
		y = x
		if t.less(n, x) {
			x = x.treeLeft
		} else {
			x = x.treeRight
		}
	}
	n.treeParent = y
	switch {
	case y == t.nil:
		t.root = n
	case t.less(n, y):
		y.treeLeft = n
	default:
		y.treeRight = n
	}
	t.size++
	t.insertFixup(n)
	return nil
}

func (t *TreeQueue) enqueue(w Waiter, key uint64) { _ = t.Add(w, key) }

// First returns the waiter with the minimum key (and address tie-break),
// or nil if empty.
func (t *TreeQueue) First() Waiter {
	n := t.min(t.root)
	if n == t.nil {
		return nil
	}
	return n.treeOwner
}

// MinKey returns the minimum key currently present, and whether the tree
// is non-empty.
func (t *TreeQueue) MinKey() (uint64, bool) {
	n := t.min(t.root)
	if n == t.nil {
		return 0, false
	}
	return n.Key, true
}

func (t *TreeQueue) min(x *TNode) *TNode {
	for x != t.nil && x.treeLeft != t.nil {
		x = x.treeLeft
	}
	return x
}

func (t *TreeQueue) max(x *TNode) *TNode {
	for x != t.nil && x.treeRight != t.nil {
		x = x.treeRight
	}
	return x
}

// Next returns the in-order successor of w, or nil at the end.
func (t *TreeQueue) Next(w Waiter) Waiter {
	n := w.Node()
	if n.treeRight != t.nil {
		return t.min(n.treeRight).treeOwner
	}
	x, y := n, n.treeParent
	for y != t.nil && x == y.treeRight {
		x, y = y, y.treeParent
	}
	if y == t.nil {
		return nil
	}
	return y.treeOwner
}

// Prev returns the in-order predecessor of w, or nil at the beginning.
func (t *TreeQueue) Prev(w Waiter) Waiter {
	n := w.Node()
	if n.treeLeft != t.nil {
		return t.max(n.treeLeft).treeOwner
	}
	x, y := n, n.treeParent
	for y != t.nil && x == y.treeLeft {
		x, y = y, y.treeParent
	}
	if y == t.nil {
		return nil
	}
	return y.treeOwner
}

// Remove detaches w's node, wherever it sits. No-op if w is not currently
// enqueued here.
func (t *TreeQueue) Remove(w Waiter) {
	z := w.Node()
	if z.Tag != TagTree || z.container != t {
		return
	}
	t.delete(z)
	t.size--
	if t.size < 0 {
		kerr.Fatalf("tqueue: tree size underflow")
	}
	z.reset()
}

func (t *TreeQueue) remove(w Waiter) { t.Remove(w) }

func (t *TreeQueue) leftRotate(x *TNode) {
	y := x.treeRight
	x.treeRight = y.treeLeft
	if y.treeLeft != t.nil {
		y.treeLeft.treeParent = x
	}
	y.treeParent = x.treeParent
	switch {
	case x.treeParent == t.nil:
		t.root = y
	case x == x.treeParent.treeLeft:
		x.treeParent.treeLeft = y
	default:
		x.treeParent.treeRight = y
	}
	y.treeLeft = x
	x.treeParent = y
}

func (t *TreeQueue) rightRotate(x *TNode) {
	y := x.treeLeft
	x.treeLeft = y.treeRight
	if y.treeRight != t.nil {
		y.treeRight.treeParent = x
	}
	y.treeParent = x.treeParent
	switch {
	case x.treeParent == t.nil:
		t.root = y
	case x == x.treeParent.treeRight:
		x.treeParent.treeRight = y
	default:
		x.treeParent.treeLeft = y
	}
	y.treeRight = x
	x.treeParent = y
}

func (t *TreeQueue) insertFixup(z *TNode) {
	for z.treeParent.treeRed {
		if z.treeParent == z.treeParent.treeParent.treeLeft {
			y := z.treeParent.treeParent.treeRight
			if y.treeRed {
				z.treeParent.treeRed = false
				y.treeRed = false
				z.treeParent.treeParent.treeRed = true
				z = z.treeParent.treeParent
			} else {
				if z == z.treeParent.treeRight {
					z = z.treeParent
					t.leftRotate(z)
				}
				z.treeParent.treeRed = false
				z.treeParent.treeParent.treeRed = true
				t.rightRotate(z.treeParent.treeParent)
			}
		} else {
			y := z.treeParent.treeParent.treeLeft
			if y.treeRed {
				z.treeParent.treeRed = false
				y.treeRed = false
				z.treeParent.treeParent.treeRed = true
				z = z.treeParent.treeParent
			} else {
				if z == z.treeParent.treeLeft {
					z = z.treeParent
					t.rightRotate(z)
				}
				z.treeParent.treeRed = false
				z.treeParent.treeParent.treeRed = true
				t.leftRotate(z.treeParent.treeParent)
			}
		}
	}
	t.root.treeRed = false
}

func (t *TreeQueue) transplant(u, v *TNode) {
	switch {
	case u.treeParent == t.nil:
		t.root = v
	case u == u.treeParent.treeLeft:
		u.treeParent.treeLeft = v
	default:
		u.treeParent.treeRight = v
	}
	v.treeParent = u.treeParent
}

func (t *TreeQueue) delete(z *TNode) {
	y := z
	yOrigRed := y.treeRed
	var x *TNode
	switch {
	case z.treeLeft == t.nil:
		x = z.treeRight
		t.transplant(z, z.treeRight)
	case z.treeRight == t.nil:
		x = z.treeLeft
		t.transplant(z, z.treeLeft)
	default:
		y = t.min(z.treeRight)
		yOrigRed = y.treeRed
		x = y.treeRight
		if y.treeParent == z {
			x.treeParent = y
		} else {
			t.transplant(y, y.treeRight)
			y.treeRight = z.treeRight
			y.treeRight.treeParent = y
		}
		t.transplant(z, y)
		y.treeLeft = z.treeLeft
		y.treeLeft.treeParent = y
		y.treeRed = z.treeRed
	}
	if !yOrigRed {
		t.deleteFixup(x)
	}
}

func (t *TreeQueue) deleteFixup(x *TNode) {
	for x != t.root && !x.treeRed {
		if x == x.treeParent.treeLeft {
			w := x.treeParent.treeRight
			if w.treeRed {
				w.treeRed = false
				x.treeParent.treeRed = true
				t.leftRotate(x.treeParent)
				w = x.treeParent.treeRight
			}
			if !w.treeLeft.treeRed && !w.treeRight.treeRed {
				w.treeRed = true
				x = x.treeParent
			} else {
				if !w.treeRight.treeRed {
					w.treeLeft.treeRed = false
					w.treeRed = true
					t.rightRotate(w)
					w = x.treeParent.treeRight
				}
				w.treeRed = x.treeParent.treeRed
				x.treeParent.treeRed = false
				w.treeRight.treeRed = false
				t.leftRotate(x.treeParent)
				x = t.root
			}
		} else {
			w := x.treeParent.treeLeft
			if w.treeRed {
				w.treeRed = false
				x.treeParent.treeRed = true
				t.rightRotate(x.treeParent)
				w = x.treeParent.treeLeft
			}
			if !w.treeRight.treeRed && !w.treeLeft.treeRed {
				w.treeRed = true
				x = x.treeParent
			} else {
				if !w.treeLeft.treeRed {
					w.treeRight.treeRed = false
					w.treeRed = true
					t.leftRotate(w)
					w = x.treeParent.treeLeft
				}
				w.treeRed = x.treeParent.treeRed
				x.treeParent.treeRed = false
				w.treeLeft.treeRed = false
				t.rightRotate(x.treeParent)
				x = t.root
			}
		}
	}
	x.treeRed = false
}

// WakeMatchingKey wakes every waiter currently enqueued with the exact
// given key, in address order (the tie-break order spec §8 scenario 6
// requires), setting each one's error and payload.
func WakeMatchingKey(t *TreeQueue, key uint64, err error, payload any) []Waiter {
	var woken []Waiter
	// Find the leftmost node with Key == key by walking from the minimum
	// of the subtree rooted where key would sit; a plain in-order scan
	// from First() bounded by key is simplest and correct since matches
	// are address-ordered when keys tie.
	n := t.min(t.root)
	for n != t.nil {
		next := t.successor(n)
		if n.Key == key {
			w := n.treeOwner
			t.Remove(w) // resets the node, so stamp err/payload afterwards
			n.Err = err
			n.Payload = payload
			woken = append(woken, w)
		} else if n.Key > key {
			break
		}
		n = next
	}
	return woken
}

func (t *TreeQueue) successor(n *TNode) *TNode {
	if n.treeRight != t.nil {
		return t.min(n.treeRight)
	}
	x, y := n, n.treeParent
	for y != t.nil && x == y.treeRight {
		x, y = y, y.treeParent
	}
	return y
}

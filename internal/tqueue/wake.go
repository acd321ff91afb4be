package tqueue

// WakeOne dequeues and returns the single most eligible waiter on q (the
// oldest for a ListQueue, the minimum-key for a TreeQueue), stamping its
// node with err and payload. It returns nil if q is empty. The caller
// (scheduler core) is responsible for actually transitioning the returned
// waiter to a runnable state — tqueue only owns queue membership, not
// thread scheduling state, so that this package has no dependency on the
// scheduler.
func WakeOne(q container, err error, payload any) Waiter {
	var w Waiter
	switch c := q.(type) {
	case *ListQueue:
		w = c.Pop()
	case *TreeQueue:
		w = c.First()
		if w != nil {
			c.Remove(w)
		}
	}
	if w == nil {
		return nil
	}
	n := w.Node()
	n.Err = err
	n.Payload = payload
	return w
}

// WakeAll drains every waiter currently on q, in queue order, stamping
// each with err and payload.
func WakeAll(q container, err error, payload any) []Waiter {
	var woken []Waiter
	for {
		w := WakeOne(q, err, payload)
		if w == nil {
			break
		}
		woken = append(woken, w)
	}
	return woken
}

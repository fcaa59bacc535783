package target

// threadPageSize is the scratch buffer capacity of one ListThreads call.
const threadPageSize = 64

// Enumerator pages through the debuggee's thread ids in ascending order.
// An empty page from the channel ends the enumeration. The enumeration is
// restartable: a fresh Enumerator from any cursor position performs a new
// scan, which is how threads spawned during the pause window get caught.
//
// Usage follows the iterator convention:
//
//	it := NewEnumerator(ch, 0)
//	for it.Next() {
//	    tid := it.Thread()
//	    ...
//	}
//	if err := it.Err(); err != nil { ... }
type Enumerator struct {
	ch   Channel
	buf  [threadPageSize]ThreadID
	page []ThreadID
	next ThreadID
	done bool
	err  error
}

// NewEnumerator returns an enumerator over all thread ids >= start.
func NewEnumerator(ch Channel, start ThreadID) *Enumerator {
	return &Enumerator{ch: ch, next: start}
}

// Next advances to the next thread id, fetching a new page from the channel
// when the current one is drained. It returns false at the end of the
// enumeration or on error.
func (e *Enumerator) Next() bool {
	if e.done || e.err != nil {
		return false
	}
	if len(e.page) > 1 {
		e.page = e.page[1:]
		return true
	}

	n, err := e.ch.ListThreads(e.next, e.buf[:])
	if err != nil {
		e.err = err
		return false
	}
	if n == 0 {
		e.page = nil
		e.done = true
		return false
	}
	e.page = e.buf[:n]
	// pages are ascending by contract, so the last id fixes the cursor
	e.next = e.page[n-1] + 1
	return true
}

// Thread returns the id the enumerator is positioned on. Only valid after a
// Next call that returned true.
func (e *Enumerator) Thread() ThreadID {
	return e.page[0]
}

// Err reports the channel failure that stopped the enumeration, if any.
func (e *Enumerator) Err() error {
	return e.err
}

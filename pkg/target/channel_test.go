package target

import (
	"fmt"
	"sort"
	"sync"
)

// fakeChannel scripts a debuggee for the walker, enumerator and session
// tests: a flat 8-byte-cell memory, a live thread list that can grow while
// threads are being resumed, and per-thread/per-address failure injection.
// Operations lock like the real channel does, so session tests can drive
// it from more than one goroutine.
type fakeChannel struct {
	mu      sync.Mutex
	mem     map[uint64]uint64
	threads []ThreadID
	snaps   map[ThreadID]*ThreadSnapshot

	paused   bool
	detached bool

	resumed    map[ThreadID]int
	resumeErrs map[ThreadID]error
	snapErrs   map[ThreadID]error
	readErrs   map[uint64]error
	shortReads map[uint64]bool
	listErr    error

	// tids spawned into the thread list the moment their key is resumed,
	// simulating threads created and auto-paused during the freeze window
	spawnOnResume map[ThreadID][]ThreadID

	// when set, Detach does not invalidate the handle, simulating a
	// misbehaving transport
	ignoreDetach bool
}

func newFakeChannel(tids ...ThreadID) *fakeChannel {
	ch := &fakeChannel{
		mem:           map[uint64]uint64{},
		snaps:         map[ThreadID]*ThreadSnapshot{},
		resumed:       map[ThreadID]int{},
		resumeErrs:    map[ThreadID]error{},
		snapErrs:      map[ThreadID]error{},
		readErrs:      map[uint64]error{},
		shortReads:    map[uint64]bool{},
		spawnOnResume: map[ThreadID][]ThreadID{},
	}
	for _, tid := range tids {
		ch.addThread(tid)
	}
	return ch
}

func (ch *fakeChannel) addThread(tid ThreadID) {
	ch.threads = append(ch.threads, tid)
	sort.Slice(ch.threads, func(i, j int) bool { return ch.threads[i] < ch.threads[j] })
	if _, ok := ch.snaps[tid]; !ok {
		ch.snaps[tid] = &ThreadSnapshot{TID: tid, Status: StatusPaused}
	}
}

// addFrames lays a frame-pointer chain into memory starting at fp: each
// frame stores the given return address at fp+8 and the next frame pointer
// at fp. The chain is terminated with a zero frame pointer.
func (ch *fakeChannel) addFrames(fp uint64, rets ...uint64) {
	for i, ret := range rets {
		next := uint64(0)
		if i+1 < len(rets) {
			next = fp + 0x100
		}
		ch.mem[fp+8] = ret
		ch.mem[fp] = next
		fp = next
	}
}

func (ch *fakeChannel) guard() error {
	if ch.detached {
		return fmt.Errorf("channel: %w", ErrBadHandle)
	}
	return nil
}

func (ch *fakeChannel) Pause() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if err := ch.guard(); err != nil {
		return err
	}
	ch.paused = true
	return nil
}

func (ch *fakeChannel) ResumeProcess() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if err := ch.guard(); err != nil {
		return err
	}
	ch.paused = false
	return nil
}

func (ch *fakeChannel) ListThreads(start ThreadID, buf []ThreadID) (int, error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if err := ch.guard(); err != nil {
		return 0, err
	}
	if ch.listErr != nil {
		return 0, ch.listErr
	}
	n := 0
	for _, tid := range ch.threads {
		if tid < start {
			continue
		}
		if n == len(buf) {
			break
		}
		buf[n] = tid
		n++
	}
	return n, nil
}

func (ch *fakeChannel) ThreadSnapshot(tid ThreadID) (*ThreadSnapshot, error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if err := ch.guard(); err != nil {
		return nil, err
	}
	if err := ch.snapErrs[tid]; err != nil {
		return nil, err
	}
	snap, ok := ch.snaps[tid]
	if !ok {
		return nil, fmt.Errorf("thread %d: %w", tid, ErrNotFound)
	}
	return snap, nil
}

func (ch *fakeChannel) ReadMemory(buf []byte, addr uint64) (int, error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if err := ch.guard(); err != nil {
		return 0, err
	}
	if err := ch.readErrs[addr]; err != nil {
		return 0, err
	}
	if ch.shortReads[addr] {
		return len(buf) / 2, nil
	}
	val, ok := ch.mem[addr]
	if !ok {
		return 0, fmt.Errorf("address %#x unmapped: %w", addr, ErrNotFound)
	}
	for i := 0; i < len(buf) && i < 8; i++ {
		buf[i] = byte(val >> (8 * i))
	}
	return len(buf), nil
}

func (ch *fakeChannel) ResumeThread(tid ThreadID) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if err := ch.guard(); err != nil {
		return err
	}
	ch.resumed[tid]++
	if err := ch.resumeErrs[tid]; err != nil {
		return err
	}
	for _, spawned := range ch.spawnOnResume[tid] {
		ch.addThread(spawned)
	}
	delete(ch.spawnOnResume, tid)
	return nil
}

func (ch *fakeChannel) Detach() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if err := ch.guard(); err != nil {
		return err
	}
	if !ch.ignoreDetach {
		ch.detached = true
	}
	return nil
}

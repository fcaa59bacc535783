package target

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/hitzhangjie/mdbg/pkg/logflags"
)

// Session states. Transitions happen in order, none may be skipped, and
// are claimed via CAS on the state word: the interrupt watcher may drive
// resume and detach from its own goroutine while a snapshot is in flight.
//
//	stateAttached -> statePaused -> stateResuming -> stateDetached
const (
	stateAttached int32 = iota
	statePaused
	stateResuming
	stateDetached
)

// Defaults for the tunables, overridable via WithPauseWait/WithRescanBudget
// (the CLI feeds them from its config file).
const (
	// DefaultPauseWait is how long to wait after requesting a pause so
	// in-flight threads can reach a paused state. Best effort only: the
	// protocol stays correct if a thread pauses late, its snapshot is just
	// racier.
	DefaultPauseWait = 50 * time.Millisecond

	// DefaultRescanBudget bounds how many threads discovered only during
	// the resume re-scan will still be resumed. A debuggee that keeps
	// spawning threads faster than we resume them could otherwise hold the
	// scan loop forever.
	DefaultRescanBudget = 1024
)

// ActiveSession is the session driven by the current command invocation,
// exposed so the interrupt watcher in main can release the debuggee before
// the process exits.
var ActiveSession *Session

// ThreadStack pairs one discovered thread with its snapshot and backtrace.
// Snapshot is nil when the capture failed; the thread is still tracked for
// resume.
type ThreadStack struct {
	TID       ThreadID
	Snapshot  *ThreadSnapshot
	Backtrace Backtrace
}

// Session owns the DebugChannel over one debuggee for the span of a single
// freeze/inspect/resume cycle. Every thread id observed while the process
// was paused is resumed exactly once before detach, including threads that
// only appear on a re-scan after the first resume pass.
type Session struct {
	pid int
	ch  Channel

	state *atomic.Int32

	pauseWait    time.Duration
	rescanBudget int

	// resume bookkeeping, guarded by mu: the interrupt watcher runs
	// ResumeAll on the signal goroutine while SnapshotAll may still be
	// tracking ids
	mu      sync.Mutex
	pending []ThreadID // FIFO of ids awaiting resume
	seen    map[ThreadID]struct{}
	lastTID ThreadID // highest id discovered so far, re-scan cursor

	logger *logrus.Entry
}

// NewSession wraps an attached channel for debuggee pid.
func NewSession(pid int, ch Channel) *Session {
	return &Session{
		pid:          pid,
		ch:           ch,
		state:        atomic.NewInt32(stateAttached),
		pauseWait:    DefaultPauseWait,
		rescanBudget: DefaultRescanBudget,
		seen:         map[ThreadID]struct{}{},
		logger:       logflags.SessionLogger().WithField("pid", pid),
	}
}

// WithPauseWait overrides the grace interval waited after a pause request.
func (s *Session) WithPauseWait(d time.Duration) *Session {
	s.pauseWait = d
	return s
}

// WithRescanBudget overrides the bound on re-scan-discovered resumes.
func (s *Session) WithRescanBudget(n int) *Session {
	s.rescanBudget = n
	return s
}

// Pid returns the debuggee's process id.
func (s *Session) Pid() int { return s.pid }

// Channel exposes the owned debug channel to the inspection commands. The
// session stays the channel's owner; callers must not detach it themselves.
func (s *Session) Channel() Channel { return s.ch }

// DumpStacks runs the whole sequence: pause, snapshot and walk every
// thread, resume everything, detach. It is the one entry point the command
// layer needs; formatting the result is entirely the caller's business.
//
// Resume is always attempted once the pause succeeded, even if
// snapshotting failed partway. Leaving the debuggee frozen is the worst
// failure mode, so a partial result with an error beats a stuck target.
func (s *Session) DumpStacks() ([]ThreadStack, error) {
	if err := s.Pause(); err != nil {
		if derr := s.Detach(); derr != nil {
			s.logger.WithError(derr).Error("detach after failed pause")
		}
		return nil, err
	}

	stacks, snapErr := s.SnapshotAll()
	resumeErr := s.ResumeAll()
	detachErr := s.Detach()

	for _, err := range []error{snapErr, resumeErr, detachErr} {
		if err != nil {
			return stacks, err
		}
	}
	return stacks, nil
}

// Pause flags the debuggee for pausing and waits a bounded grace interval
// so running threads can reach a pausable point.
func (s *Session) Pause() error {
	if !s.state.CAS(stateAttached, statePaused) {
		return fmt.Errorf("pause pid %d: session not in attached state", s.pid)
	}
	if err := s.ch.Pause(); err != nil {
		return fmt.Errorf("pause pid %d: %w", s.pid, err)
	}
	s.logger.WithField("wait", s.pauseWait).Debug("pause requested, waiting for threads to stop")
	time.Sleep(s.pauseWait)
	return nil
}

// SnapshotAll enumerates every thread from id 0, captures its snapshot and
// walks its stack immediately. Every discovered id enters the pending
// resume queue whether or not its snapshot succeeded; a thread whose
// registers cannot be read still must not stay frozen.
//
// Per-thread capture failures are absorbed (the entry keeps a nil
// Snapshot); only an enumeration failure is reported, and even then the
// partial result is valid.
func (s *Session) SnapshotAll() ([]ThreadStack, error) {
	if s.state.Load() != statePaused {
		return nil, fmt.Errorf("snapshot pid %d: process not paused", s.pid)
	}

	var stacks []ThreadStack
	it := NewEnumerator(s.ch, 0)
	for it.Next() {
		tid := it.Thread()
		s.track(tid)

		ts := ThreadStack{TID: tid}
		snap, err := s.ch.ThreadSnapshot(tid)
		if err != nil {
			s.logger.WithField("tid", tid).WithError(err).Warn("thread snapshot failed")
		} else {
			ts.Snapshot = snap
			ts.Backtrace = WalkStack(s.ch, snap)
		}
		stacks = append(stacks, ts)
	}
	if err := it.Err(); err != nil {
		return stacks, fmt.Errorf("list threads of pid %d: %w", s.pid, err)
	}
	return stacks, nil
}

// track records a discovered thread id for the resume pass. Duplicate
// sightings (a repeated scan while paused) keep a single resume obligation.
func (s *Session) track(tid ThreadID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tid > s.lastTID {
		s.lastTID = tid
	}
	if _, ok := s.seen[tid]; ok {
		return
	}
	s.seen[tid] = struct{}{}
	s.pending = append(s.pending, tid)
}

// popPending takes the next resume obligation off the queue.
func (s *Session) popPending() (ThreadID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return 0, false
	}
	tid := s.pending[0]
	s.pending = s.pending[1:]
	return tid, true
}

// claim takes tid's single resume obligation for the re-scan. It reports
// false when the id was already tracked, so an id cannot be resumed twice
// even when a scan and the re-scan see it concurrently.
func (s *Session) claim(tid ThreadID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tid > s.lastTID {
		s.lastTID = tid
	}
	if _, ok := s.seen[tid]; ok {
		return false
	}
	s.seen[tid] = struct{}{}
	return true
}

func (s *Session) rescanCursor() ThreadID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTID + 1
}

func (s *Session) pendingEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending) == 0
}

// ResumeAll resumes every thread paused by this session, in two phases:
// first it clears the process-level pause flag and drains the pending
// queue, then it re-scans from the highest id seen and resumes every newly
// discovered thread too. The OS may have auto-paused a thread that was
// spawned between our freeze and the first resume pass; only a re-scan can
// find it. Re-scanning repeats until a scan finds nothing new; the number
// of threads resumed this way is capped by the rescan budget so a debuggee
// spawning threads faster than we resume them cannot pin us forever.
func (s *Session) ResumeAll() error {
	if !s.state.CAS(statePaused, stateResuming) {
		return fmt.Errorf("resume pid %d: session not in paused state", s.pid)
	}

	// Clears the pause flag only; every thread is still resumed one by one.
	if err := s.ch.ResumeProcess(); err != nil {
		return fmt.Errorf("resume pid %d: %w", s.pid, err)
	}

	discovered := 0
	for {
		for {
			tid, ok := s.popPending()
			if !ok {
				break
			}
			if err := s.resumeThread(tid); err != nil {
				return err
			}
		}

		found := false
		it := NewEnumerator(s.ch, s.rescanCursor())
		for it.Next() {
			tid := it.Thread()
			if !s.claim(tid) {
				continue
			}
			found = true
			discovered++
			if discovered > s.rescanBudget {
				return fmt.Errorf("resume pid %d: more than %d threads appeared during the re-scan, giving up", s.pid, s.rescanBudget)
			}
			if err := s.resumeThread(tid); err != nil {
				return err
			}
		}
		if err := it.Err(); err != nil {
			return fmt.Errorf("re-scan threads of pid %d: %w", s.pid, err)
		}

		// A scan racing this pass may have tracked an id at or below the
		// re-scan cursor after the drain; only an empty queue plus an empty
		// re-scan ends the resume obligation.
		if !found && s.pendingEmpty() {
			return nil
		}
	}
}

// resumeThread resumes one thread, swallowing the enumerated benign
// outcomes: already running, already gone, not paused yet. Anything outside
// that set is a protocol defect and fails the session.
func (s *Session) resumeThread(tid ThreadID) error {
	err := s.ch.ResumeThread(tid)
	switch {
	case err == nil:
	case errors.Is(err, ErrAlreadyRunning),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrNotReady):
		s.logger.WithField("tid", tid).WithError(err).Debug("thread resume skipped")
	default:
		return fmt.Errorf("resume thread %d of pid %d: %w", tid, s.pid, err)
	}
	return nil
}

// Detach releases the debug channel exactly once and verifies the handle
// really died: a capability that still answers after detach is a transport
// bug worth surfacing, not something to silently ignore.
func (s *Session) Detach() error {
	if s.state.Swap(stateDetached) == stateDetached {
		return nil
	}
	if err := s.ch.Detach(); err != nil {
		return fmt.Errorf("detach pid %d: %w", s.pid, err)
	}

	var probe [1]ThreadID
	if _, err := s.ch.ListThreads(0, probe[:]); !errors.Is(err, ErrBadHandle) {
		return fmt.Errorf("detach pid %d: channel still usable after detach (err=%v)", s.pid, err)
	}
	s.logger.Debug("detached")
	return nil
}

// Release is the interrupt-time teardown: best-effort resume of anything
// still frozen, then detach. Errors are logged, not returned, because the
// caller is about to exit anyway.
func (s *Session) Release() {
	if s.state.Load() == statePaused {
		if err := s.ResumeAll(); err != nil {
			s.logger.WithError(err).Error("resume on interrupt")
		}
	}
	if err := s.Detach(); err != nil {
		s.logger.WithError(err).Error("detach on interrupt")
	}
}

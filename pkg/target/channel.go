package target

import (
	"errors"
	"fmt"
)

// ThreadID identifies one thread inside the debuggee. IDs are unique within
// a process and ascending by creation order, but an id may be reused after
// the thread exits.
type ThreadID uint64

// ThreadStatus describes what a thread was doing when its snapshot was taken.
type ThreadStatus uint8

const (
	StatusRunning ThreadStatus = iota
	StatusPaused
	StatusSyscall
	StatusExited
)

func (s ThreadStatus) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusPaused:
		return "paused"
	case StatusSyscall:
		return "syscall"
	case StatusExited:
		return "exited"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// ThreadSnapshot is a point-in-time capture of one thread's execution state,
// taken while the debuggee was flagged as paused. It is immutable once
// captured; walking an unpaused thread yields a racier but not unsafe
// snapshot.
type ThreadSnapshot struct {
	TID    ThreadID
	Status ThreadStatus
	IP     uint64 // instruction pointer
	FP     uint64 // frame pointer register, seed of the backtrace walk

	// syscall number and operation, valid when Status is StatusSyscall
	SyscallNum uint64
	SyscallOp  uint64
}

// Channel is the debug capability over one target process. All observation
// and control of the debuggee goes through it; the debugger never touches
// the debuggee's memory directly.
//
// A Channel is exclusively owned by one Session for its whole lifetime and
// is released exactly once via Detach. After Detach every operation must
// fail with ErrBadHandle, never silently succeed.
type Channel interface {
	// Pause flags the process and, transitively, its threads for pausing.
	// The request is asynchronous: each thread pauses when it next reaches
	// a pausable point.
	Pause() error

	// ResumeProcess clears the process-level pause flag. It does not by
	// itself resume any thread.
	ResumeProcess() error

	// ListThreads fills buf with thread ids >= start in ascending order and
	// returns how many it wrote. Zero means the enumeration is complete.
	ListThreads(start ThreadID, buf []ThreadID) (int, error)

	// ThreadSnapshot captures the register/status state of one thread.
	// Fails with ErrNotFound if the thread is unknown.
	ThreadSnapshot(tid ThreadID) (*ThreadSnapshot, error)

	// ReadMemory reads len(buf) bytes of the debuggee's address space at
	// addr. On success it must return exactly len(buf).
	ReadMemory(buf []byte, addr uint64) (int, error)

	// ResumeThread resumes one thread. ErrAlreadyRunning, ErrNotFound and
	// ErrNotReady are expected outcomes when racing the debuggee; callers
	// treat them as benign.
	ResumeThread(tid ThreadID) error

	// Detach releases the capability and invalidates the handle.
	Detach() error
}

// Error kinds reported across the channel boundary. Channel implementations
// wrap these so callers can match with errors.Is.
var (
	// ErrNotFound reports that the target process or thread is gone. Fatal
	// for attach, benign when listing or resuming mid-scan.
	ErrNotFound = errors.New("no such process or thread")

	// ErrAlreadyRunning reports a resume of a thread that is not paused.
	ErrAlreadyRunning = errors.New("thread already running")

	// ErrNotReady reports a resume of a thread that has not reached a
	// paused state yet.
	ErrNotReady = errors.New("thread not ready to resume")

	// ErrBadHandle reports use of a channel after Detach.
	ErrBadHandle = errors.New("debug channel detached")

	// ErrShortRead reports a memory read that returned fewer bytes than
	// contracted. It indicates a transport bug, not a bad address, and is
	// never retried.
	ErrShortRead = errors.New("short read from target memory")
)

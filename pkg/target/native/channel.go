// Package native implements the debug channel over ptrace and procfs. It is
// the only part of the debugger that talks to the OS; everything above it
// sees the target.Channel contract.
package native

import (
	"fmt"
	"runtime"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
	"golang.org/x/sys/unix"

	"github.com/hitzhangjie/mdbg/pkg/logflags"
	"github.com/hitzhangjie/mdbg/pkg/target"
)

// Channel is a ptrace-backed debug capability over one running process.
// Individual threads are attached lazily, the first time their state is
// captured, and stay attached until they are resumed or the channel is
// detached.
type Channel struct {
	pid  int
	comm string

	once       sync.Once
	ptraceCh   chan func() // all ptrace requests are funneled here
	ptraceDone chan int
	stopCh     chan int

	detached *atomic.Bool

	mu       sync.Mutex // guards attached
	attached map[target.ThreadID]bool

	logger *logrus.Entry
}

// Attach opens a debug channel over process pid. It fails with
// target.ErrNotFound when no such process exists. The returned channel must
// be released with Detach.
func Attach(pid int) (*Channel, error) {
	if !checkPid(pid) {
		return nil, fmt.Errorf("attach pid %d: %w", pid, target.ErrNotFound)
	}
	comm, err := readProcComm(pid)
	if err != nil {
		return nil, fmt.Errorf("attach pid %d: %v", pid, err)
	}

	c := &Channel{
		pid:        pid,
		comm:       comm,
		ptraceCh:   make(chan func()),
		ptraceDone: make(chan int),
		stopCh:     make(chan int),
		detached:   atomic.NewBool(false),
		attached:   map[target.ThreadID]bool{},
		logger:     logflags.NativeLogger().WithField("pid", pid),
	}
	c.logger.WithField("comm", comm).Debug("attached")
	return c, nil
}

// exec runs fn on the dedicated tracer goroutine. All ptrace requests must
// come from the same thread, see https://github.com/golang/go/issues/7699.
func (c *Channel) exec(fn func()) {
	c.once.Do(func() {
		go func() {
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()

			for {
				select {
				case reqFn := <-c.ptraceCh:
					reqFn()
					c.ptraceDone <- 1
				case <-c.stopCh:
					return
				}
			}
		}()
	})
	c.ptraceCh <- fn
	<-c.ptraceDone
}

// live rejects any use of the handle after Detach.
func (c *Channel) live() error {
	if c.detached.Load() {
		return fmt.Errorf("pid %d: %w", c.pid, target.ErrBadHandle)
	}
	return nil
}

// Pause requests a stop of the whole thread group. Delivery is
// asynchronous: each thread enters group-stop when it is next scheduled.
func (c *Channel) Pause() error {
	if err := c.live(); err != nil {
		return err
	}
	if err := syscall.Kill(c.pid, syscall.SIGSTOP); err != nil {
		if err == syscall.ESRCH {
			return fmt.Errorf("pause pid %d: %w", c.pid, target.ErrNotFound)
		}
		return fmt.Errorf("pause pid %d: %v", c.pid, err)
	}
	return nil
}

// ResumeProcess lifts the process-wide stop. Threads held individually via
// ptrace stay put until ResumeThread releases them.
func (c *Channel) ResumeProcess() error {
	if err := c.live(); err != nil {
		return err
	}
	if err := syscall.Kill(c.pid, syscall.SIGCONT); err != nil {
		if err == syscall.ESRCH {
			return fmt.Errorf("resume pid %d: %w", c.pid, target.ErrNotFound)
		}
		return fmt.Errorf("resume pid %d: %v", c.pid, err)
	}
	return nil
}

// ListThreads returns one ascending page of thread ids >= start, reading
// the current task list from procfs.
func (c *Channel) ListThreads(start target.ThreadID, buf []target.ThreadID) (int, error) {
	if err := c.live(); err != nil {
		return 0, err
	}
	tids, err := listTaskIDs(c.pid)
	if err != nil {
		return 0, err
	}
	return pageTaskIDs(tids, start, buf), nil
}

// ThreadSnapshot attaches to thread tid if this channel does not hold it
// yet, waits for it to trace-stop, and captures its registers.
func (c *Channel) ThreadSnapshot(tid target.ThreadID) (*target.ThreadSnapshot, error) {
	if err := c.live(); err != nil {
		return nil, err
	}

	if err := c.ensureAttached(tid); err != nil {
		return nil, err
	}

	var (
		regs syscall.PtraceRegs
		err  error
	)
	c.exec(func() {
		err = syscall.PtraceGetRegs(int(tid), &regs)
	})
	if err != nil {
		if err == syscall.ESRCH {
			return nil, fmt.Errorf("thread %d: %w", tid, target.ErrNotFound)
		}
		return nil, fmt.Errorf("get regs of thread %d: %v", tid, err)
	}

	snap := &target.ThreadSnapshot{
		TID:    tid,
		Status: target.StatusPaused,
		IP:     regs.Rip,
		FP:     regs.Rbp,
	}
	// orig_rax holds the syscall number while the thread sits at a syscall
	// boundary, ^0 otherwise.
	if regs.Orig_rax != ^uint64(0) {
		snap.Status = target.StatusSyscall
		snap.SyscallNum = regs.Orig_rax
		snap.SyscallOp = regs.Rdi
	}
	switch taskState(c.pid, int(tid), c.comm) {
	case taskZombie:
		snap.Status = target.StatusExited
	case taskTraceStop, taskTraceStopT:
		// trace-stop or group-stop, the registers read above are stable
	case taskRunning, taskSleeping:
		if snap.Status == target.StatusPaused {
			snap.Status = target.StatusRunning
		}
	}
	return snap, nil
}

// ensureAttached ptrace-attaches tid on first use and waits until it is
// trace-stopped. The lock is held across the attach so a teardown on the
// signal goroutine cannot race the bookkeeping.
func (c *Channel) ensureAttached(tid target.ThreadID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attached[tid] {
		return nil
	}

	var err error
	c.exec(func() {
		err = syscall.PtraceAttach(int(tid))
	})
	if err != nil {
		if err == syscall.ESRCH {
			return fmt.Errorf("thread %d: %w", tid, target.ErrNotFound)
		}
		return fmt.Errorf("attach thread %d: %v", tid, err)
	}

	var status unix.WaitStatus
	wpid, err := unix.Wait4(int(tid), &status, unix.WALL, nil)
	if err != nil {
		return fmt.Errorf("wait thread %d: %v", tid, err)
	}
	if wpid == int(tid) && status.Exited() {
		return fmt.Errorf("thread %d: %w", tid, target.ErrNotFound)
	}

	c.attached[tid] = true
	c.logger.WithField("tid", tid).Debug("thread attached")
	return nil
}

// ReadMemory reads len(buf) bytes of the debuggee's address space at addr.
// process_vm_readv needs no stopped thread, so reads stay valid even when a
// thread pauses late.
func (c *Channel) ReadMemory(buf []byte, addr uint64) (int, error) {
	if err := c.live(); err != nil {
		return 0, err
	}
	if len(buf) == 0 {
		return 0, nil
	}

	local := []unix.Iovec{{Base: &buf[0], Len: uint64(len(buf))}}
	remote := []unix.RemoteIovec{{Base: uintptr(addr), Len: len(buf)}}
	n, err := unix.ProcessVMReadv(c.pid, local, remote, 0)
	if err != nil {
		if err == unix.ESRCH {
			return 0, fmt.Errorf("read pid %d at %#x: %w", c.pid, addr, target.ErrNotFound)
		}
		return 0, fmt.Errorf("read pid %d at %#x: %v", c.pid, addr, err)
	}
	return n, nil
}

// ResumeThread lets one thread run again by detaching it. Threads this
// channel never attached report ErrNotReady: they are released by the
// process-wide SIGCONT, there is nothing to detach.
func (c *Channel) ResumeThread(tid target.ThreadID) error {
	if err := c.live(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.attached[tid] {
		return fmt.Errorf("thread %d: %w", tid, target.ErrNotReady)
	}

	var err error
	c.exec(func() {
		err = syscall.PtraceDetach(int(tid))
	})
	switch err {
	case nil:
		delete(c.attached, tid)
		c.logger.WithField("tid", tid).Debug("thread resumed")
		return nil
	case syscall.ESRCH:
		delete(c.attached, tid)
		return fmt.Errorf("thread %d: %w", tid, target.ErrNotFound)
	default:
		return fmt.Errorf("resume thread %d: %v", tid, err)
	}
}

// Detach releases every thread still held, lifts the stop and invalidates
// the handle. Any later call on this channel fails with ErrBadHandle.
func (c *Channel) Detach() error {
	if c.detached.Swap(true) {
		return fmt.Errorf("pid %d: %w", c.pid, target.ErrBadHandle)
	}

	c.mu.Lock()
	for tid := range c.attached {
		var err error
		c.exec(func() {
			err = syscall.PtraceDetach(int(tid))
		})
		if err != nil && err != syscall.ESRCH {
			c.logger.WithField("tid", tid).WithError(err).Warn("detach thread")
		}
		delete(c.attached, tid)
	}
	c.mu.Unlock()
	if err := syscall.Kill(c.pid, syscall.SIGCONT); err != nil && err != syscall.ESRCH {
		c.logger.WithError(err).Warn("final SIGCONT")
	}

	close(c.stopCh)
	c.logger.Debug("detached")
	return nil
}

package target

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestSession(ch *fakeChannel) *Session {
	return NewSession(4242, ch).WithPauseWait(0)
}

func TestDumpStacks(t *testing.T) {
	ch := newFakeChannel(1, 2, 3)
	ch.snaps[2].FP = 0x7ffc_0000_0000
	ch.addFrames(0x7ffc_0000_0000, 0x400010, 0x400020)

	stacks, err := newTestSession(ch).DumpStacks()
	require.NoError(t, err)

	require.Len(t, stacks, 3)
	for i, want := range []ThreadID{1, 2, 3} {
		require.Equal(t, want, stacks[i].TID)
		require.NotNil(t, stacks[i].Snapshot)
	}
	require.Equal(t, []uint64{0x400010, 0x400020}, stacks[1].Backtrace.PCs())
	require.Empty(t, stacks[0].Backtrace.PCs())

	// every thread resumed exactly once, channel released
	for _, tid := range []ThreadID{1, 2, 3} {
		require.Equal(t, 1, ch.resumed[tid], "thread %d", tid)
	}
	require.False(t, ch.paused)
	require.True(t, ch.detached)
}

func TestDumpStacksManyPages(t *testing.T) {
	tids := make([]ThreadID, 130)
	for i := range tids {
		tids[i] = ThreadID(i)
	}
	ch := newFakeChannel(tids...)

	stacks, err := newTestSession(ch).DumpStacks()
	require.NoError(t, err)
	require.Len(t, stacks, 130)
	for _, tid := range tids {
		require.Equal(t, 1, ch.resumed[tid], "thread %d", tid)
	}
}

func TestResumeAllCatchesSpawnedThread(t *testing.T) {
	// thread 50 is created and auto-paused between the freeze and the first
	// resume pass: only the re-scan can find it
	ch := newFakeChannel(10, 20)
	ch.spawnOnResume[10] = []ThreadID{50}

	_, err := newTestSession(ch).DumpStacks()
	require.NoError(t, err)

	require.Equal(t, 1, ch.resumed[50], "spawned thread must be resumed")
	require.Equal(t, 1, ch.resumed[10])
	require.Equal(t, 1, ch.resumed[20])
	require.True(t, ch.detached)
}

func TestResumeToleratesBenignFailures(t *testing.T) {
	for _, benign := range []error{ErrAlreadyRunning, ErrNotFound, ErrNotReady} {
		ch := newFakeChannel(1, 2)
		ch.resumeErrs[1] = fmt.Errorf("thread 1: %w", benign)

		_, err := newTestSession(ch).DumpStacks()
		require.NoError(t, err, "resume failing with %v must not abort the session", benign)
		require.True(t, ch.detached, "session must still reach detach")
	}
}

func TestResumeEscalatesUnknownFailure(t *testing.T) {
	ch := newFakeChannel(1, 2)
	ch.resumeErrs[1] = errors.New("transport corrupted")

	_, err := newTestSession(ch).DumpStacks()
	require.Error(t, err)
	require.Contains(t, err.Error(), "transport corrupted")

	// the debuggee must not stay attached even after a fatal resume error
	require.True(t, ch.detached)
}

func TestSnapshotFailureStillQueuesResume(t *testing.T) {
	ch := newFakeChannel(1, 2, 3)
	ch.snapErrs[2] = fmt.Errorf("thread 2: %w", ErrNotFound)

	stacks, err := newTestSession(ch).DumpStacks()
	require.NoError(t, err)

	require.Len(t, stacks, 3)
	require.Nil(t, stacks[1].Snapshot)
	require.Equal(t, 1, ch.resumed[2], "thread with failed snapshot must still be resumed")
}

func TestResumeRescanIsBounded(t *testing.T) {
	// a pathological debuggee spawning a new thread on every resume
	ch := newFakeChannel(1)
	for tid := ThreadID(1); tid < 100; tid++ {
		ch.spawnOnResume[tid] = []ThreadID{tid + 1}
	}

	err := func() error {
		sess := newTestSession(ch).WithRescanBudget(3)
		require.NoError(t, sess.Pause())
		_, serr := sess.SnapshotAll()
		require.NoError(t, serr)
		return sess.ResumeAll()
	}()
	require.Error(t, err)
	require.Contains(t, err.Error(), "re-scan")
}

func TestReleaseConcurrentWithSnapshot(t *testing.T) {
	// the interrupt watcher tears the session down from its own goroutine
	// while a snapshot scan is still tracking threads; run under -race
	for iter := 0; iter < 20; iter++ {
		tids := make([]ThreadID, 200)
		for i := range tids {
			tids[i] = ThreadID(i + 1)
		}
		ch := newFakeChannel(tids...)
		sess := newTestSession(ch)
		require.NoError(t, sess.Pause())

		done := make(chan struct{})
		go func() {
			defer close(done)
			// the teardown may cut the scan short, its error is expected
			sess.SnapshotAll()
		}()
		sess.Release()
		<-done

		require.True(t, ch.detached, "iteration %d", iter)
		for tid, n := range ch.resumed {
			require.Equal(t, 1, n, "iteration %d: thread %d resumed %d times", iter, tid, n)
		}
	}
}

func TestDetachInvalidatesHandle(t *testing.T) {
	ch := newFakeChannel(1)
	sess := newTestSession(ch)

	_, err := sess.DumpStacks()
	require.NoError(t, err)

	require.True(t, errors.Is(ch.Pause(), ErrBadHandle))

	// a second detach of the session is a no-op, the channel was released
	// exactly once
	require.NoError(t, sess.Detach())
}

func TestDetachVerifiesHandleDied(t *testing.T) {
	ch := newFakeChannel(1)
	ch.ignoreDetach = true

	_, err := newTestSession(ch).DumpStacks()
	require.Error(t, err)
	require.Contains(t, err.Error(), "still usable")
}

func TestStateMachineOrder(t *testing.T) {
	ch := newFakeChannel(1)
	sess := newTestSession(ch)

	// snapshot and resume before pause must be rejected
	_, err := sess.SnapshotAll()
	require.Error(t, err)
	require.Error(t, sess.ResumeAll())

	require.NoError(t, sess.Pause())
	require.Error(t, sess.Pause(), "pause is not reentrant")

	_, err = sess.SnapshotAll()
	require.NoError(t, err)
	require.NoError(t, sess.ResumeAll())
	require.Error(t, sess.ResumeAll(), "resume pass runs once")
	require.NoError(t, sess.Detach())
}

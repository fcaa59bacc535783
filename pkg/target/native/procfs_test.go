package native

import (
	"os"
	"testing"

	"github.com/hitzhangjie/mdbg/pkg/target"
)

func TestPageTaskIDs(t *testing.T) {
	tids := []target.ThreadID{2, 5, 9, 12, 40}

	type arg struct {
		start target.ThreadID
		cap   int
		want  []target.ThreadID
	}

	args := []arg{
		{0, 8, []target.ThreadID{2, 5, 9, 12, 40}},
		{0, 3, []target.ThreadID{2, 5, 9}},
		{6, 8, []target.ThreadID{9, 12, 40}},
		{41, 8, nil},
		{0, 0, nil},
	}

	for _, arg := range args {
		buf := make([]target.ThreadID, arg.cap)
		n := pageTaskIDs(tids, arg.start, buf)
		if n != len(arg.want) {
			t.Fatalf("start %d cap %d: got %d ids, want %d", arg.start, arg.cap, n, len(arg.want))
		}
		for i, want := range arg.want {
			if buf[i] != want {
				t.Fatalf("start %d: id[%d] = %d, want %d", arg.start, i, buf[i], want)
			}
		}
	}
}

func TestListTaskIDsSelf(t *testing.T) {
	tids, err := listTaskIDs(os.Getpid())
	if err != nil {
		t.Fatal(err)
	}
	if len(tids) == 0 {
		t.Fatal("no tasks listed for the current process")
	}

	found := false
	for i, tid := range tids {
		if i > 0 && tids[i-1] >= tid {
			t.Fatalf("task ids not ascending: %v", tids)
		}
		if tid == target.ThreadID(os.Getpid()) {
			found = true
		}
	}
	if !found {
		t.Fatalf("main thread %d missing from %v", os.Getpid(), tids)
	}
}

func TestListTaskIDsNoSuchProcess(t *testing.T) {
	// pid 0 never has a procfs task directory
	if _, err := listTaskIDs(0); err == nil {
		t.Fatal("expected an error for a nonexistent process")
	}
}

func TestTaskStateSelf(t *testing.T) {
	comm, err := readProcComm(os.Getpid())
	if err != nil {
		t.Fatal(err)
	}

	state := taskState(os.Getpid(), os.Getpid(), comm)
	switch state {
	case taskRunning, taskSleeping, taskTraceStop, taskTraceStopT, taskZombie:
	default:
		t.Fatalf("unexpected task state %q for the current process", state)
	}
}

func TestReadProcCommSelf(t *testing.T) {
	comm, err := readProcComm(os.Getpid())
	if err != nil {
		t.Fatal(err)
	}
	if comm == "" {
		t.Fatal("empty comm for the current process")
	}
}

package native

import (
	"bufio"
	"bytes"
	"fmt"
	"io/ioutil"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/hitzhangjie/mdbg/pkg/target"
)

// Task states from /proc/<pid>/task/<tid>/stat.
const (
	taskSleeping  = 'S'
	taskRunning   = 'R'
	taskTraceStop = 't'
	taskZombie    = 'Z'

	// Kernel 2.6 has TraceStop as T, modern kernels use T for job control stop.
	taskTraceStopT = 'T'
)

// readProcComm read /proc/pid/comm or /proc/pid/stat to load the command line of process.
func readProcComm(pid int) (string, error) {
	comm, err := ioutil.ReadFile(fmt.Sprintf("/proc/%d/comm", pid))
	if err == nil {
		// removes newline character
		comm = bytes.TrimSuffix(comm, []byte("\n"))
	}

	if len(comm) == 0 {
		stat, err := ioutil.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
		if err != nil {
			return "", fmt.Errorf("could not read proc stat: %v", err)
		}
		expr := fmt.Sprintf("%d\\s*\\((.*)\\)", pid)
		rexp, err := regexp.Compile(expr)
		if err != nil {
			return "", fmt.Errorf("regexp compile error: %v", err)
		}
		match := rexp.FindSubmatch(stat)
		if match == nil {
			return "", fmt.Errorf("no match found using regexp '%s' in /proc/%d/stat", expr, pid)
		}
		comm = match[1]
	}

	cmdStr := strings.ReplaceAll(string(comm), "%", "%%")
	return cmdStr, nil
}

// listTaskIDs loads the thread ids of process pid from procfs, ascending.
func listTaskIDs(pid int) ([]target.ThreadID, error) {
	if _, err := os.Stat(fmt.Sprintf("/proc/%d/task", pid)); err != nil {
		return nil, fmt.Errorf("pid %d: %w", pid, target.ErrNotFound)
	}

	paths, _ := filepath.Glob(fmt.Sprintf("/proc/%d/task/*", pid))
	tids := make([]target.ThreadID, 0, len(paths))
	for _, p := range paths {
		tid, err := strconv.ParseUint(filepath.Base(p), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad task entry %s: %v", p, err)
		}
		tids = append(tids, target.ThreadID(tid))
	}
	sort.Slice(tids, func(i, j int) bool { return tids[i] < tids[j] })
	return tids, nil
}

// pageTaskIDs filters tids to ids >= start and copies up to len(buf) of them
// into buf, returning how many were written.
func pageTaskIDs(tids []target.ThreadID, start target.ThreadID, buf []target.ThreadID) int {
	n := 0
	for _, tid := range tids {
		if tid < start {
			continue
		}
		if n == len(buf) {
			break
		}
		buf[n] = tid
		n++
	}
	return n
}

// taskState returns the state character of thread tid, or 0 if it cannot be
// read.
func taskState(pid int, tid int, comm string) rune {
	f, err := os.Open(fmt.Sprintf("/proc/%d/task/%d/stat", pid, tid))
	if err != nil {
		return '\000'
	}
	defer f.Close()
	rd := bufio.NewReader(f)

	var (
		p     int
		state rune
	)

	// The second field of stat is the task name in parenthesis. The name may
	// itself contain parenthesis and spaces with no escaping, so the known
	// comm is baked into the scan format instead of parsed.
	_, _ = fmt.Fscanf(rd, "%d ("+comm+")  %c", &p, &state)
	return state
}

// checkPid check whether traceePID is valid process's id
//
// On Unix systems, os.FindProcess always succeeds and returns a Process for
// the given traceePID, regardless of whether the process exists.
func checkPid(pid int) bool {
	out, err := exec.Command("kill", "-s", "0", strconv.Itoa(pid)).CombinedOutput()
	if err != nil {
		return false
	}

	// output error message, means traceePID is invalid
	if string(out) != "" {
		return false
	}

	return true
}

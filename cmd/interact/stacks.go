package interact

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/hitzhangjie/mdbg/pkg/target"
)

// addresses above this cannot be user-space text, stop printing there
const maxTextAddr = uint64(1) << 40

var stacksCmd = &cobra.Command{
	Use:     "stacks",
	Short:   "print the stacks of all threads",
	Aliases: []string{"bt", "backtrace"},
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupInfo,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		stacks, err := sess.SnapshotAll()
		WriteStacks(os.Stdout, stacks)
		return err
	},
}

func init() {
	shellRootCmd.AddCommand(stacksCmd)
}

// WriteStacks renders snapshots and backtraces the way pstack does: one
// header per thread, then the instruction pointer and the unwound return
// addresses, one per line.
func WriteStacks(w io.Writer, stacks []target.ThreadStack) {
	for _, ts := range stacks {
		if ts.Snapshot == nil {
			fmt.Fprintf(w, "Thread %d: <state unavailable>\n\n", ts.TID)
			continue
		}

		snap := ts.Snapshot
		fmt.Fprintf(w, "Thread %d: %s(%d:%d):", snap.TID, snap.Status, snap.SyscallNum, snap.SyscallOp)
		fmt.Fprintf(w, " \\\n  0x%x", snap.IP)
		for _, addr := range ts.Backtrace {
			if addr == 0 || addr > maxTextAddr {
				break
			}
			fmt.Fprintf(w, " \\\n  0x%x", addr)
		}
		fmt.Fprint(w, "\n\n")
	}
}

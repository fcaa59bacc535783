package interact

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hitzhangjie/mdbg/pkg/target"
)

var threadsCmd = &cobra.Command{
	Use:     "threads",
	Short:   "list the threads of the debuggee",
	Aliases: []string{"thr"},
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupInfo,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 4, ' ', 0)
		fmt.Fprintf(tw, "TID\tSTATUS\tIP\tFP\n")

		it := target.NewEnumerator(sess.Channel(), 0)
		for it.Next() {
			tid := it.Thread()
			snap, err := sess.Channel().ThreadSnapshot(tid)
			if err != nil {
				fmt.Fprintf(tw, "%d\t<%v>\t\t\n", tid, err)
				continue
			}
			fmt.Fprintf(tw, "%d\t%s\t%#x\t%#x\n", snap.TID, snap.Status, snap.IP, snap.FP)
		}
		tw.Flush()
		return it.Err()
	},
}

func init() {
	shellRootCmd.AddCommand(threadsCmd)
}

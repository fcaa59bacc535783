package interact

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var exitCmd = &cobra.Command{
	Use:   "exit",
	Short: "resume the debuggee, detach and quit",
	Aliases: []string{
		"quit", "q",
	},
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupOthers,
	},
	Run: func(cmd *cobra.Command, args []string) {
		CurrentSession.Stop()
	},
}

func init() {
	shellRootCmd.AddCommand(exitCmd)
}

// Cleanup releases the debuggee when the shell stops: every thread paused
// by this session is resumed and the channel is detached. The process was
// attached, not launched, so it is left running.
func Cleanup() {
	if err := sess.ResumeAll(); err != nil {
		fmt.Fprintf(os.Stderr, "resume tracee %d, err: %v\n", sess.Pid(), err)
	}
	if err := sess.Detach(); err != nil {
		fmt.Fprintf(os.Stderr, "detach tracee %d, err: %v\n", sess.Pid(), err)
		return
	}
	fmt.Fprintf(os.Stdout, "tracee %d detached and left running\n", sess.Pid())
}

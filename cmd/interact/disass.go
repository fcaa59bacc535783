package interact

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/arch/x86/x86asm"

	"github.com/hitzhangjie/mdbg/pkg/target"
)

var disassCmd = &cobra.Command{
	Use:   "disass <tid>",
	Short: "disassemble the instructions at a thread's instruction pointer",
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupInfo,
	},
	Aliases: []string{"dis", "disassemble"},
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			max, _    = cmd.Flags().GetUint64("max")
			syntax, _ = cmd.Flags().GetString("syntax")
		)
		if len(args) != 1 {
			return errors.New("expect one argument: tid")
		}
		tid, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("%s: invalid tid", args[0])
		}

		snap, err := sess.Channel().ThreadSnapshot(target.ThreadID(tid))
		if err != nil {
			return err
		}
		addr := snap.IP

		// instruction bytes, read through the debug channel
		dat := make([]byte, 1024)
		n, err := sess.Channel().ReadMemory(dat, addr)
		if err != nil || n == 0 {
			return fmt.Errorf("peek text error: %v, bytes: %d", err, n)
		}
		dat = dat[:n]

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 8, ' ', 0)

		offset := uint64(0)
		count := uint64(0)

		for count < max && offset < uint64(len(dat)) {
			inst, err := x86asm.Decode(dat[offset:], 64)
			if err != nil {
				return fmt.Errorf("x86asm decode error: %v", err)
			}

			asm, err := instSyntax(inst, syntax)
			if err != nil {
				return fmt.Errorf("x86asm syntax error: %v", err)
			}

			end := offset + uint64(inst.Len)
			fmt.Fprintf(tw, "%#x:\t% x\t%s\n", addr+offset, dat[offset:end], asm)
			offset = end
			count++
		}
		tw.Flush()

		return nil
	},
}

func instSyntax(inst x86asm.Inst, syntax string) (string, error) {
	asm := ""
	switch syntax {
	case "go":
		asm = x86asm.GoSyntax(inst, uint64(inst.PCRel), nil)
	case "gnu":
		asm = x86asm.GNUSyntax(inst, uint64(inst.PCRel), nil)
	case "intel":
		asm = x86asm.IntelSyntax(inst, uint64(inst.PCRel), nil)
	default:
		return "", fmt.Errorf("invalid asm syntax error")
	}
	return asm, nil
}

func init() {
	shellRootCmd.AddCommand(disassCmd)

	disassCmd.Flags().Uint64P("max", "n", 10, "number of instructions to disassemble")
	disassCmd.Flags().StringP("syntax", "s", "gnu", "assembly syntax: go, gnu, intel")
}

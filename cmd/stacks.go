/*
Copyright © 2020 NAME HERE <EMAIL ADDRESS>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hitzhangjie/mdbg/cmd/interact"
	"github.com/hitzhangjie/mdbg/pkg/target"
	"github.com/hitzhangjie/mdbg/pkg/target/native"
)

// stacksCmd represents the stacks command
var stacksCmd = &cobra.Command{
	Use:     "stacks <pid>",
	Short:   "print the stacks of all threads of a running process",
	Aliases: []string{"print-stacks", "pstack"},
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) != 1 {
			return errors.New("expect one argument: pid")
		}
		pid, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("%s: invalid pid", args[0])
		}

		ch, err := native.Attach(int(pid))
		if err != nil {
			if errors.Is(err, target.ErrNotFound) {
				fmt.Fprintf(os.Stderr, "process with pid %d not found\n", pid)
			} else {
				fmt.Fprintf(os.Stderr, "attach pid %d failed: %v\n", pid, err)
			}
			os.Exit(1)
		}

		sess := target.NewSession(int(pid), ch).
			WithPauseWait(viper.GetDuration("pause-wait")).
			WithRescanBudget(viper.GetInt("rescan-budget"))
		target.ActiveSession = sess

		// even a degraded dump is worth printing: the resume obligation has
		// already been honored by the time this returns
		stacks, err := sess.DumpStacks()
		interact.WriteStacks(os.Stdout, stacks)
		return err
	},
}

func init() {
	rootCmd.AddCommand(stacksCmd)
}

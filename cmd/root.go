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
	"fmt"
	"os"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hitzhangjie/mdbg/pkg/logflags"
)

var cfgFile string

var (
	logFlag   bool
	logOutput string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mdbg",
	Short: "inspect the stacks of a running process",
	Long: `mdbg freezes a running process, reconstructs the call stack of every
thread by walking frame pointers through the debuggee's memory, then resumes
everything it froze and detaches. No symbols or unwind tables needed.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logflags.Setup(logFlag, logOutput)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.mdbg.yaml)")
	rootCmd.PersistentFlags().BoolVar(&logFlag, "log", false, "enable logging")
	rootCmd.PersistentFlags().StringVar(&logOutput, "log-output", "", "comma separated list of layers to log (session,native)")

	viper.SetDefault("pause-wait", 50*time.Millisecond)
	viper.SetDefault("rescan-budget", 1024)
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := homedir.Dir()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		// Search config in home directory with name ".mdbg" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigName(".mdbg")
	}

	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

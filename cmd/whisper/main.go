// Command whisper is the developer tool for Whisper accounts: create a
// keystore from a mnemonic, inspect the derived public material, and
// print derivation vectors for cross-implementation checks.
package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var verbose bool

func main() {
	root := &cobra.Command{
		Use:   "whisper",
		Short: "Whisper account tooling",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				logrus.SetLevel(logrus.DebugLevel)
			} else {
				logrus.SetLevel(logrus.WarnLevel)
			}
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newInitCmd())
	root.AddCommand(newFingerprintCmd())
	root.AddCommand(newVectorsCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/luma/nearwire/cmd/gen"
)

var RootCmd = &cobra.Command{
	Use:   "nearwire",
	Short: "Near cache update responses over a resumable binary codec",
	Long: `nearwire receives atomic update responses from primary nodes,
applies their near values to a local near cache and can inspect captured
messages.`,
	SilenceUsage: true,
}

func init() {
	RootCmd.AddCommand(StartCmd)
	RootCmd.AddCommand(InspectCmd)
	RootCmd.AddCommand(VersionCmd)
	RootCmd.AddCommand(gen.RootCmd)
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

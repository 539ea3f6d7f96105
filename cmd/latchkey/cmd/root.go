package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "latchkey",
	Short: "Latchkey is a zero-knowledge credential vault",
	Long: `A zero-knowledge credential vault: vault files are encrypted on the
client with a password-derived key and synced through a gateway that can
never read them.
Complete documentation is available at https://github.com/brendan612/latchkey`,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

package cmd

import "github.com/spf13/cobra"

var vaultCmd = &cobra.Command{
	Use:   "vault",
	Short: "Local vault file tools",
	Long:  `Commands for inspecting local encrypted vault files.`,
}

func init() {
	rootCmd.AddCommand(vaultCmd)
}

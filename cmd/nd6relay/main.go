package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "nd6relay",
	Short: "IPv6 neighbor discovery cache and mesh relay",
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(nexthopCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
}

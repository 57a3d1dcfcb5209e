package main

import "os"

func main() {
	rootCmd.Version = Version
	rootCmd.AddCommand(stateCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// Package main provides the listdav server CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// configFile is set by the --config flag.
var configFile string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "listdav",
	Short: "listdav serves household lists over WebDAV/CalDAV",
	Long: `listdav exposes tasks, shopping lists and inventory as calendar
resources. Files and collections live in a SQLite-backed resource tree;
task files are kept in step with the records they mirror.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default: listdav.yaml in . or ~/.listdav)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(addUserCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("listdav v0.1.0")
	},
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "apimech",
	Short: "Handler-chain API server with schema validation and socket transport",
	Long: `apimech serves handler chains over HTTP and websocket connections.

Requests are validated against JSON schemas, request bodies are read
under a size limit, and responses are negotiated for CORS and JSONP.

Commands:
  apimech serve     # Start the server
  apimech validate  # Validate configuration or a document against a schema
  apimech version   # Print version information`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "apimech.yaml", "config file path (.yaml or .toml)")
}

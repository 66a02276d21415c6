package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/artpar/apimech/bootstrap"
)

var (
	hotReload bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	Long: `Start the apimech server.

The server will:
  - Load configuration from apimech.yaml (or --config)
  - Fall back to built-in defaults when the file does not exist
  - Apply APIMECH_* environment variable overrides
  - Serve the API under the configured prefix, plus /health and /metrics
  - Accept websocket connections at socket.path when socket.enabled

Environment variables:
  APIMECH_PREFIX            - Path prefix for the API
  APIMECH_SERVER_PORT       - Server port (default: 8080)
  APIMECH_BODY_MAX_SIZE     - Request body limit in bytes
  APIMECH_SOCKET_ENABLED    - Enable the websocket transport
  APIMECH_LOG_LEVEL         - Log level: debug, info, warn, error

Examples:
  apimech serve
  apimech serve --config /etc/apimech/config.toml
  apimech serve --hot-reload=false`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&hotReload, "hot-reload", true, "enable hot reload of configuration")
}

func runServe(cmd *cobra.Command, args []string) error {
	hasConfigFile := false
	if _, err := os.Stat(cfgFile); err == nil {
		hasConfigFile = true
	}

	if !hasConfigFile {
		fmt.Fprintf(cmd.OutOrStdout(), "Config file %s not found, running with defaults and environment variables\n", cfgFile)
	}

	app, err := bootstrap.NewWithConfig(bootstrap.Config{
		ConfigPath: cfgFile,
		// Hot reload only works with config file
		HotReload: hasConfigFile && hotReload,
	})
	if err != nil {
		return fmt.Errorf("error initializing: %w", err)
	}

	// Run (blocks until shutdown)
	return app.Run()
}

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/artpar/apimech/config"
	"github.com/artpar/apimech/core/validation"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration, or a JSON document against a schema",
	Long: `Validate the apimech configuration file.

With --schema, compile the JSON schema instead. With --schema and --data,
validate the JSON document against the schema and print every error and
warning the handler chain would see.

Examples:
  apimech validate
  apimech validate --config /etc/apimech/config.yaml
  apimech validate --schema user.schema.json --data user.json`,
	RunE: runValidate,
}

var (
	validateSchema string
	validateData   string
)

// errInvalidDocument is returned when --data fails validation.
var errInvalidDocument = errors.New("document is invalid")

const (
	checkMark = "\033[32m✓\033[0m"
	crossMark = "\033[31m✗\033[0m"
	warnMark  = "\033[33m!\033[0m"
)

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringVar(&validateSchema, "schema", "", "JSON schema file to compile")
	validateCmd.Flags().StringVar(&validateData, "data", "", "JSON document to validate against --schema")
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if validateSchema != "" {
		return runValidateSchema(out, validateSchema, validateData)
	}
	if validateData != "" {
		return errors.New("--data requires --schema")
	}

	fmt.Fprintf(out, "Validating %s...\n\n", cfgFile)

	// Check file exists
	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		fmt.Fprintf(out, "  %s Config file exists\n", crossMark)
		return fmt.Errorf("config file not found: %s", cfgFile)
	}
	fmt.Fprintf(out, "  %s Config file exists\n", checkMark)

	// Load and validate config
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(out, "  %s Config valid\n", crossMark)
		return fmt.Errorf("config error: %w", err)
	}
	fmt.Fprintf(out, "  %s Config valid\n", checkMark)

	// Show config summary
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "/"
	}
	fmt.Fprintf(out, "  %s Listen: %s\n", checkMark, cfg.Server.Addr())
	fmt.Fprintf(out, "  %s Prefix: %s\n", checkMark, prefix)
	fmt.Fprintf(out, "  %s Body limit: %s\n", checkMark, bodyLimit(cfg.Web.BodyMaxSize))
	fmt.Fprintf(out, "  %s JSONP: %s\n", checkMark, enabled(!cfg.Web.JSONP.Disable))
	if cfg.Socket.Enabled {
		fmt.Fprintf(out, "  %s Socket: %s (%s bodies)\n", checkMark, cfg.Socket.Path, cfg.Socket.BodyEncoding)
	} else {
		fmt.Fprintf(out, "  %s Socket: disabled\n", checkMark)
	}
	if cfg.Metrics.Enabled {
		fmt.Fprintf(out, "  %s Metrics: %s\n", checkMark, cfg.Metrics.Path)
	} else {
		fmt.Fprintf(out, "  %s Metrics: disabled\n", checkMark)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Configuration is valid.")
	return nil
}

func runValidateSchema(out io.Writer, schemaPath, dataPath string) error {
	raw, err := os.ReadFile(schemaPath)
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}
	spec, err := validation.Compile(raw)
	if err != nil {
		fmt.Fprintf(out, "  %s Schema compiles\n", crossMark)
		return fmt.Errorf("schema error: %w", err)
	}
	fmt.Fprintf(out, "  %s Schema compiles\n", checkMark)

	if dataPath == "" {
		return nil
	}

	b, err := os.ReadFile(dataPath)
	if err != nil {
		return fmt.Errorf("read data: %w", err)
	}
	var data any
	if err := json.Unmarshal(b, &data); err != nil {
		return fmt.Errorf("parse data: %w", err)
	}

	all := validation.IssueOptions{NeedMessage: true, NeedValidatorInfo: true}
	result := validation.Validate(data, spec, validation.Options{Debug: true, Errors: all, Warnings: all})

	for _, w := range result.Warnings {
		fmt.Fprintf(out, "  %s %s\n", warnMark, w)
	}
	for _, e := range result.Errors {
		fmt.Fprintf(out, "  %s %s\n", crossMark, e)
	}
	if result.HasErrors() {
		return fmt.Errorf("%w: %d error(s)", errInvalidDocument, len(result.Errors))
	}
	fmt.Fprintf(out, "  %s Document valid\n", checkMark)
	return nil
}

func bodyLimit(n *int64) string {
	if n == nil {
		return "unlimited"
	}
	return fmt.Sprintf("%d bytes", *n)
}

func enabled(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}

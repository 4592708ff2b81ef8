package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/docket-io/docket/pkg/config"
	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"
)

var schemaOutput string

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Generate a JSON schema for the configuration",
	Long: `Generate a JSON schema describing the configuration file, for
editor autocompletion and automated validation.

Examples:
  docket config schema
  docket config schema --output docket.schema.json`,
	RunE: runSchema,
}

func init() {
	schemaCmd.Flags().StringVarP(&schemaOutput, "output", "o", "", "Write to this file instead of stdout")
}

func runSchema(cmd *cobra.Command, args []string) error {
	raw, err := generateSchema()
	if err != nil {
		return err
	}

	if schemaOutput == "" {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(raw))
		return nil
	}

	if err := os.WriteFile(schemaOutput, append(raw, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", schemaOutput, err)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Schema written to %s\n", schemaOutput)
	return nil
}

func generateSchema() ([]byte, error) {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	schema := reflector.Reflect(&config.Config{})
	schema.Version = "https://json-schema.org/draft/2020-12/schema"
	schema.Title = "Docket Configuration"
	schema.Description = "Configuration file schema for the Docket server"

	raw, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to generate schema: %w", err)
	}
	return raw, nil
}

package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/artpar/actionkit/core/formatter"
)

var openapiCmd = &cobra.Command{
	Use:   "openapi",
	Short: "Print the OpenAPI document for HTTP routes",
	Long: `Print the OpenAPI 3.0 document describing every HTTP bound action.

JSON is printed unless --output yaml is given.

Examples:
  actionkit openapi > openapi.json
  actionkit openapi -o yaml`,
	RunE: runOpenAPI,
}

func init() {
	rootCmd.AddCommand(openapiCmd)
}

func runOpenAPI(cmd *cobra.Command, args []string) error {
	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.Shutdown()

	doc := app.OpenAPI()
	out := cmd.OutOrStdout()

	if outputFormat == "yaml" {
		rec, err := formatter.ToRecord(doc)
		if err != nil {
			return err
		}
		return formatter.YAML.Record(out, rec, formatter.Options{})
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

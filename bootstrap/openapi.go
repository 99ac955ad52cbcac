package bootstrap

import (
	"encoding/json"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/artpar/actionkit/core/openapi"
)

// OpenAPI documents the HTTP routes of the live registry.
func (a *App) OpenAPI() *openapi3.T {
	version := a.opts.Version
	if version == "" {
		version = "dev"
	}
	opts := []openapi.Option{
		openapi.WithInfo(a.Config.MCP.Name, version, "HTTP bound actions"),
	}
	if len(a.Config.Auth.Keys) > 0 {
		opts = append(opts, openapi.WithAPIKey(a.Config.Auth.Header))
	}
	return openapi.New(opts...).Generate(a.Registry)
}

func (a *App) serveOpenAPI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(a.OpenAPI()); err != nil {
		a.Logger.Warn().Err(err).Msg("write openapi document")
	}
}

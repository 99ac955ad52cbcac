// Package openapi generates an OpenAPI 3.0 document for the HTTP bound
// actions of a registry.
package openapi

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/artpar/actionkit/core/registry"
	"github.com/artpar/actionkit/core/schema"
)

// Source lists registered actions. *registry.Registry satisfies it.
type Source interface {
	All() []*registry.RegisteredAction
}

// Generator builds OpenAPI documents from registered routes.
type Generator struct {
	info         openapi3.Info
	servers      openapi3.Servers
	apiKeyHeader string
}

// Option configures a Generator.
type Option func(*Generator)

// WithInfo sets the document title, version and description.
func WithInfo(title, version, description string) Option {
	return func(g *Generator) {
		g.info = openapi3.Info{Title: title, Version: version, Description: description}
	}
}

// WithServer adds a server URL.
func WithServer(url, description string) Option {
	return func(g *Generator) {
		g.servers = append(g.servers, &openapi3.Server{URL: url, Description: description})
	}
}

// WithAPIKey documents header as the API key required by guarded actions.
func WithAPIKey(header string) Option {
	return func(g *Generator) { g.apiKeyHeader = header }
}

// New creates a Generator.
func New(opts ...Option) *Generator {
	g := &Generator{
		info: openapi3.Info{
			Title:       "actionkit",
			Version:     "1.0.0",
			Description: "Auto-generated documentation for HTTP bound actions",
		},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

const securityScheme = "apiKey"

// Generate creates the document for every HTTP and webhook trigger in src.
func (g *Generator) Generate(src Source) *openapi3.T {
	info := g.info
	doc := &openapi3.T{
		OpenAPI: "3.0.3",
		Info:    &info,
		Servers: g.servers,
		Paths:   openapi3.NewPaths(),
		Components: &openapi3.Components{
			Schemas: openapi3.Schemas{
				"Error": openapi3.NewSchemaRef("", errorSchema()),
			},
		},
	}
	if g.apiKeyHeader != "" {
		doc.Components.SecuritySchemes = openapi3.SecuritySchemes{
			securityScheme: &openapi3.SecuritySchemeRef{Value: &openapi3.SecurityScheme{
				Type:        "apiKey",
				In:          "header",
				Name:        g.apiKeyHeader,
				Description: "API key authentication",
			}},
		}
	}

	seen := make(map[string]int)
	for _, ra := range src.All() {
		for _, tr := range ra.Triggers {
			if !tr.HasPath() {
				continue
			}
			method := strings.ToUpper(tr.Method)
			if method == "" {
				method = http.MethodPost
			}
			path, params := convertPathPattern(tr.Path)

			op := g.operation(ra, method, params)
			op.OperationID = generateOperationID(ra.Key, method)
			if n := seen[op.OperationID]; n > 0 {
				seen[op.OperationID] = n + 1
				op.OperationID += "_" + strconv.Itoa(n+1)
			} else {
				seen[op.OperationID] = 1
			}

			item := doc.Paths.Value(path)
			if item == nil {
				item = &openapi3.PathItem{}
				doc.Paths.Set(path, item)
			}
			item.SetOperation(method, op)
		}
	}
	return doc
}

func (g *Generator) operation(ra *registry.RegisteredAction, method string, pathParams []string) *openapi3.Operation {
	op := openapi3.NewOperation()
	op.Summary = ra.Key
	op.Description = ra.Definition.Description()
	if ra.Module != "" {
		op.Tags = []string{ra.Module}
	} else {
		op.Tags = []string{"actions"}
	}

	in := ra.Definition.Input()
	declared := make(map[string]bool)
	body := openapi3.NewObjectSchema()
	if in != nil {
		root := in.OpenAPI()
		required := make(map[string]bool, len(root.Required))
		for _, name := range root.Required {
			required[name] = true
		}
		for _, name := range in.Fields() {
			prop := root.Properties[name]
			loc, _ := in.LocationOf(name)
			var p *openapi3.Parameter
			switch loc {
			case schema.LocationPath:
				if !contains(pathParams, name) {
					continue
				}
				p = openapi3.NewPathParameter(name)
			case schema.LocationQuery:
				p = openapi3.NewQueryParameter(name).WithRequired(required[name])
			case schema.LocationHeader:
				p = openapi3.NewHeaderParameter(name).WithRequired(required[name])
			case schema.LocationCookie:
				p = openapi3.NewCookieParameter(name).WithRequired(required[name])
			default:
				body.Properties[name] = prop
				if required[name] {
					body.Required = append(body.Required, name)
				}
				continue
			}
			if prop != nil {
				p.Schema = prop
				if prop.Value != nil {
					p.Description = prop.Value.Description
				}
			}
			op.AddParameter(p)
			declared[name] = true
		}
	}
	for _, name := range pathParams {
		if !declared[name] {
			op.AddParameter(openapi3.NewPathParameter(name).WithSchema(openapi3.NewStringSchema()))
		}
	}

	if method != http.MethodGet && method != http.MethodHead && method != http.MethodDelete {
		if in == nil || len(body.Properties) > 0 {
			op.RequestBody = &openapi3.RequestBodyRef{Value: openapi3.NewRequestBody().
				WithDescription("Action input").
				WithRequired(len(body.Required) > 0).
				WithJSONSchema(body)}
		}
	}

	data := &openapi3.Schema{}
	if out := ra.Definition.Output(); out != nil {
		data = out.OpenAPI()
	}
	op.Responses = openapi3.NewResponses(
		openapi3.WithStatus(http.StatusOK, &openapi3.ResponseRef{Value: openapi3.NewResponse().
			WithDescription("Successful response").
			WithJSONSchema(successSchema(data))}),
	)
	errRef := openapi3.NewSchemaRef("#/components/schemas/Error", errorSchema())
	for _, status := range []int{
		http.StatusBadRequest,
		http.StatusUnauthorized,
		http.StatusForbidden,
		http.StatusNotFound,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
	} {
		resp := openapi3.NewResponse().WithDescription(http.StatusText(status)).WithJSONSchemaRef(errRef)
		op.AddResponse(status, resp)
	}

	if g.apiKeyHeader != "" && !ra.Guards.Empty() {
		op.Security = openapi3.NewSecurityRequirements().
			With(openapi3.NewSecurityRequirement().Authenticate(securityScheme))
	}
	return op
}

func successSchema(data *openapi3.Schema) *openapi3.Schema {
	s := openapi3.NewObjectSchema().
		WithProperty("success", openapi3.NewBoolSchema()).
		WithProperty("data", data)
	s.Required = []string{"success"}
	return s
}

func errorSchema() *openapi3.Schema {
	s := openapi3.NewObjectSchema().
		WithProperty("success", openapi3.NewBoolSchema()).
		WithProperty("error", openapi3.NewStringSchema()).
		WithProperty("code", openapi3.NewStringSchema()).
		WithProperty("fields", openapi3.NewArraySchema().WithItems(openapi3.NewObjectSchema()))
	s.Required = []string{"success", "error"}
	return s
}

var (
	braceParam = regexp.MustCompile(`\{([^}:]+)(:[^}]*)?\}`)
	nonAlnum   = regexp.MustCompile(`[^a-z0-9]+`)
)

// convertPathPattern converts a chi route pattern to OpenAPI path format.
// Regex constraints are dropped and a trailing wildcard becomes {path}.
// Returns the OpenAPI path and its parameter names in order.
func convertPathPattern(pattern string) (string, []string) {
	var params []string
	path := braceParam.ReplaceAllStringFunc(pattern, func(m string) string {
		name := braceParam.FindStringSubmatch(m)[1]
		params = append(params, name)
		return "{" + name + "}"
	})
	if strings.HasSuffix(path, "/*") {
		path = strings.TrimSuffix(path, "*") + "{path}"
		params = append(params, "path")
	}
	return path, params
}

// generateOperationID creates an operation ID from the action key and method.
func generateOperationID(key, method string) string {
	name := nonAlnum.ReplaceAllString(strings.ToLower(key), "_")
	name = strings.Trim(name, "_")
	if name == "" {
		name = "action"
	}
	return strings.ToLower(method) + "_" + name
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

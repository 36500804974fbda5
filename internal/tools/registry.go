// ABOUTME: Immutable registry of tool definitions with compiled argument schemas
// ABOUTME: Built once at startup and shared read-only across concurrent invocations

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/tm3/monarch-gateway/internal/monarch"
)

// FieldType is the declared type of a tool argument.
type FieldType string

// Supported argument types.
const (
	FieldString FieldType = "string"
	FieldNumber FieldType = "number"
)

// Field declares one argument of a tool: its type, whether it is
// required, and an optional default applied when the caller omits it.
type Field struct {
	Name        string
	Type        FieldType
	Description string
	Required    bool
	Default     any
}

// Invocation carries the per-call state handed to a tool handler.
// Client is set only for tools that require an authenticated upstream client.
type Invocation struct {
	UserID        string
	Args          Args
	Client        monarch.API
	HasCredential bool
}

// Handler executes one tool call against validated arguments.
type Handler func(ctx context.Context, inv *Invocation) (any, error)

// Tool is a static tool definition. Definitions are immutable after
// registration.
type Tool struct {
	Name        string
	Description string
	Fields      []Field

	// RequiresClient makes the dispatcher resolve the user's credential
	// and construct an upstream client before invoking the handler.
	RequiresClient bool

	// ChecksStatus makes the dispatcher report credential existence via
	// Invocation.HasCredential without resolving the credential value.
	ChecksStatus bool

	// FailureVerb completes error messages: "Error <FailureVerb>: <cause>".
	FailureVerb string

	Handler Handler
}

// ToolInfo is the public description of a registered tool.
type ToolInfo struct {
	Name            string
	Description     string
	InputSchemaJSON string
}

type registeredTool struct {
	tool       *Tool
	schemaJSON string
	schema     *jsonschema.Schema
}

// Registry holds the process-wide set of tool definitions.
// It is immutable after NewRegistry returns and safe for concurrent reads.
type Registry struct {
	tools  map[string]*registeredTool
	order  []string
	logger *slog.Logger
}

// NewRegistry builds a registry from the given definitions, rendering and
// compiling each tool's argument schema. Duplicate names are an error.
func NewRegistry(logger *slog.Logger, defs []*Tool) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Registry{
		tools:  make(map[string]*registeredTool, len(defs)),
		order:  make([]string, 0, len(defs)),
		logger: logger,
	}

	for _, tool := range defs {
		if tool.Name == "" {
			return nil, fmt.Errorf("tool with empty name")
		}
		if tool.Handler == nil {
			return nil, fmt.Errorf("tool %q has no handler", tool.Name)
		}
		if _, exists := r.tools[tool.Name]; exists {
			return nil, fmt.Errorf("tool %q registered twice", tool.Name)
		}

		schemaJSON, err := buildSchemaJSON(tool.Fields)
		if err != nil {
			return nil, fmt.Errorf("building schema for %q: %w", tool.Name, err)
		}

		compiler := jsonschema.NewCompiler()
		resource := tool.Name + ".schema.json"
		if err := compiler.AddResource(resource, strings.NewReader(schemaJSON)); err != nil {
			return nil, fmt.Errorf("adding schema for %q: %w", tool.Name, err)
		}
		schema, err := compiler.Compile(resource)
		if err != nil {
			return nil, fmt.Errorf("compiling schema for %q: %w", tool.Name, err)
		}

		r.tools[tool.Name] = &registeredTool{
			tool:       tool,
			schemaJSON: schemaJSON,
			schema:     schema,
		}
		r.order = append(r.order, tool.Name)
	}

	logger.Info("tool registry initialized", "tool_count", len(r.order))
	return r, nil
}

// lookup returns the registered tool by name, or nil.
func (r *Registry) lookup(name string) *registeredTool {
	return r.tools[name]
}

// List returns tool descriptions in registration order.
func (r *Registry) List() []ToolInfo {
	infos := make([]ToolInfo, 0, len(r.order))
	for _, name := range r.order {
		rt := r.tools[name]
		infos = append(infos, ToolInfo{
			Name:            rt.tool.Name,
			Description:     rt.tool.Description,
			InputSchemaJSON: rt.schemaJSON,
		})
	}
	return infos
}

// validateArgs checks raw arguments against the compiled schema and
// applies field defaults. Runs before any credential or upstream I/O.
func (rt *registeredTool) validateArgs(raw json.RawMessage) (Args, error) {
	var decoded any = map[string]any{}
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
	}

	if err := rt.schema.Validate(decoded); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}

	obj, ok := decoded.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("invalid arguments: expected an object")
	}

	args := Args(obj)
	for _, f := range rt.tool.Fields {
		if f.Default == nil || args.Has(f.Name) {
			continue
		}
		args[f.Name] = normalizeDefault(f.Default)
	}

	return args, nil
}

// normalizeDefault converts Go literals to their JSON-decoded shape so
// handlers see the same types for provided and defaulted values.
func normalizeDefault(v any) any {
	switch d := v.(type) {
	case int:
		return float64(d)
	case int64:
		return float64(d)
	case float32:
		return float64(d)
	}
	return v
}

// buildSchemaJSON renders a JSON Schema object for the field set.
func buildSchemaJSON(fields []Field) (string, error) {
	props := make(map[string]any, len(fields))
	var required []string

	for _, f := range fields {
		if f.Name == "" {
			return "", fmt.Errorf("field with empty name")
		}
		prop := map[string]any{"type": string(f.Type)}
		if f.Description != "" {
			prop["description"] = f.Description
		}
		if f.Default != nil {
			prop["default"] = f.Default
		}
		props[f.Name] = prop
		if f.Required {
			required = append(required, f.Name)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}

	data, err := json.Marshal(schema)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

package agentwire

import (
	"encoding/json"
	"fmt"
	"reflect"
	"runtime"
	"strings"

	"github.com/agentwire/agentwire/wire"
)

// Tool is a host-side function the agent can call back into. Build one
// with CreateTool and register it via WithTools; the session declares
// it in the handshake and dispatches matching requests automatically.
type Tool struct {
	def wire.ExternalTool
	fn  func(json.RawMessage) (string, error)
}

// Definition returns the wire declaration sent in the handshake.
func (t *Tool) Definition() wire.ExternalTool {
	return t.def
}

// Name returns the tool's wire name.
func (t *Tool) Name() string {
	return t.def.Name
}

// call decodes args into the parameter struct, invokes the function,
// and stringifies the result.
func (t *Tool) call(args json.RawMessage) (string, error) {
	return t.fn(args)
}

type toolOption struct {
	name              string
	description       string
	fieldDescriptions map[string]string
}

// ToolOption customizes CreateTool.
type ToolOption func(*toolOption)

// WithName overrides the derived tool name.
func WithName(name string) ToolOption {
	return func(o *toolOption) {
		o.name = name
	}
}

// WithDescription sets the tool description sent to the agent.
func WithDescription(desc string) ToolOption {
	return func(o *toolOption) {
		o.description = desc
	}
}

// WithFieldDescription overrides the description of one top-level
// parameter field, keyed by the Go field name. Overrides do not apply
// to fields of nested structs.
func WithFieldDescription(field, desc string) ToolOption {
	return func(o *toolOption) {
		if o.fieldDescriptions == nil {
			o.fieldDescriptions = make(map[string]string)
		}
		o.fieldDescriptions[field] = desc
	}
}

// CreateTool builds a Tool from a function of the form
//
//	func(params P) (R, error)
//
// where P is a struct. The parameter schema is derived from P by
// reflection: json tags name the properties, omitempty/omitzero and
// pointer fields are optional, and `description` tags annotate fields.
// R is stringified for the wire: string as-is, fmt.Stringer via
// String(), anything else JSON-marshalled.
//
// The default name is the function's symbol with dots replaced by
// underscores; override it with WithName.
func CreateTool(fn any, opts ...ToolOption) (*Tool, error) {
	var o toolOption
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	fv := reflect.ValueOf(fn)
	ft := fv.Type()
	if ft.Kind() != reflect.Func {
		return nil, fmt.Errorf("agentwire: tool must be a function, got %s", ft.Kind())
	}
	if ft.NumIn() != 1 || ft.NumOut() != 2 {
		return nil, fmt.Errorf("agentwire: tool must be func(P) (R, error), got %s", ft)
	}
	if !ft.Out(1).Implements(errorType) {
		return nil, fmt.Errorf("agentwire: tool's second return must be error, got %s", ft.Out(1))
	}

	paramType := ft.In(0)
	if paramType.Kind() != reflect.Struct {
		return nil, fmt.Errorf("agentwire: tool parameter must be a struct, got %s", paramType.Kind())
	}

	schema, err := generateSchema(paramType, o.fieldDescriptions)
	if err != nil {
		return nil, err
	}
	params, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("agentwire: marshal schema: %w", err)
	}

	name := o.name
	if name == "" {
		name = deriveToolName(fv)
	}

	t := &Tool{
		def: wire.ExternalTool{
			Name:        name,
			Description: o.description,
			Parameters:  params,
		},
	}
	t.fn = func(args json.RawMessage) (string, error) {
		pv := reflect.New(paramType)
		if len(args) > 0 {
			if err := json.Unmarshal(args, pv.Interface()); err != nil {
				return "", fmt.Errorf("agentwire: decode %s arguments: %w", name, err)
			}
		}
		out := fv.Call([]reflect.Value{pv.Elem()})
		if errv := out[1]; !errv.IsNil() {
			return "", errv.Interface().(error)
		}
		return stringifyResult(out[0].Interface())
	}
	return t, nil
}

var (
	errorType    = reflect.TypeFor[error]()
	stringerType = reflect.TypeFor[fmt.Stringer]()
)

// deriveToolName turns the function symbol into a wire-safe name.
func deriveToolName(fv reflect.Value) string {
	name := runtime.FuncForPC(fv.Pointer()).Name()
	return strings.ReplaceAll(name, ".", "_")
}

// stringifyResult converts a tool return value to its wire string.
func stringifyResult(v any) (string, error) {
	switch r := v.(type) {
	case string:
		return r, nil
	case fmt.Stringer:
		return r.String(), nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("agentwire: marshal tool result: %w", err)
		}
		return string(data), nil
	}
}

// jsonSchema is the subset of JSON Schema the agent understands. Field
// order here fixes the key order of the marshalled schema; properties
// marshal in map-key (alphabetical) order, required in field
// declaration order.
type jsonSchema struct {
	Type        string                 `json:"type"`
	Description string                 `json:"description,omitempty"`
	Properties  map[string]*jsonSchema `json:"properties,omitempty"`
	Required    []string               `json:"required,omitempty"`
	Items       *jsonSchema            `json:"items,omitempty"`
}

// generateSchema derives a schema from a Go type. fieldDescs overrides
// top-level struct field descriptions by Go field name and is not
// propagated into nested structs.
func generateSchema(t reflect.Type, fieldDescs map[string]string) (*jsonSchema, error) {
	switch t.Kind() {
	case reflect.Bool:
		return &jsonSchema{Type: "boolean"}, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return &jsonSchema{Type: "integer"}, nil
	case reflect.Float32, reflect.Float64:
		return &jsonSchema{Type: "number"}, nil
	case reflect.String:
		return &jsonSchema{Type: "string"}, nil
	case reflect.Slice, reflect.Array:
		items, err := generateSchema(t.Elem(), nil)
		if err != nil {
			return nil, err
		}
		return &jsonSchema{Type: "array", Items: items}, nil
	case reflect.Pointer:
		return generateSchema(t.Elem(), fieldDescs)
	case reflect.Map:
		if t.Key().Kind() != reflect.String {
			return nil, fmt.Errorf("agentwire: unsupported map key type %s", t.Key())
		}
		// Open object: value types are not constrained.
		return &jsonSchema{Type: "object"}, nil
	case reflect.Struct:
		return structSchema(t, fieldDescs)
	default:
		return nil, fmt.Errorf("agentwire: unsupported type %s", t)
	}
}

func structSchema(t reflect.Type, fieldDescs map[string]string) (*jsonSchema, error) {
	s := &jsonSchema{Type: "object"}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		tag := f.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")
		if name == "" {
			name = f.Name
		}

		prop, err := generateSchema(f.Type, nil)
		if err != nil {
			return nil, fmt.Errorf("agentwire: field %s: %w", f.Name, err)
		}
		if desc, ok := fieldDescs[f.Name]; ok {
			prop.Description = desc
		} else if desc := f.Tag.Get("description"); desc != "" {
			prop.Description = desc
		}

		if s.Properties == nil {
			s.Properties = make(map[string]*jsonSchema)
		}
		s.Properties[name] = prop

		if !hasTagOption(opts, "omitempty") && !hasTagOption(opts, "omitzero") &&
			f.Type.Kind() != reflect.Pointer {
			s.Required = append(s.Required, name)
		}
	}
	return s, nil
}

func hasTagOption(opts, want string) bool {
	for opts != "" {
		var o string
		o, opts, _ = strings.Cut(opts, ",")
		if o == want {
			return true
		}
	}
	return false
}

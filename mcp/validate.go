package mcp

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// integer marks a number property as integral.
func integer() mcp.PropertyOption {
	return func(schema map[string]any) {
		schema["type"] = "integer"
	}
}

// validateArgs checks raw against the tool's input schema and returns the
// argument bag with defaults applied.
func validateArgs(tool mcp.Tool, raw map[string]any) (Args, *ValidationError) {
	verr := NewValidationError(tool.Name, "Invalid arguments")
	args := make(Args, len(tool.InputSchema.Properties))
	props := tool.InputSchema.Properties

	for name, value := range raw {
		if _, ok := props[name]; !ok {
			verr.AddFieldError(name, value, "unknown field", false)
		}
	}

	required := make(map[string]bool, len(tool.InputSchema.Required))
	for _, name := range tool.InputSchema.Required {
		required[name] = true
	}

	for name, p := range props {
		schema, _ := p.(map[string]any)
		value, present := raw[name]
		if !present || value == nil {
			if def, ok := schema["default"]; ok {
				value = def
			} else if required[name] {
				verr.AddFieldError(name, nil, "is required", true)
				continue
			} else {
				continue
			}
		}

		coerced, err := coerce(schema, value)
		if err != nil {
			if te, ok := err.(typeError); ok {
				verr.AddTypeError(name, value, string(te))
			} else {
				verr.AddFieldError(name, value, err.Error(), false)
			}
			continue
		}
		args[name] = coerced
	}

	if verr.HasErrors() {
		return nil, verr
	}
	return args, nil
}

type typeError string

func (e typeError) Error() string { return "expected type " + string(e) }

func coerce(schema map[string]any, value any) (any, error) {
	typ, _ := schema["type"].(string)
	var out any
	switch typ {
	case "string":
		s, ok := value.(string)
		if !ok {
			return nil, typeError("string")
		}
		if lo, ok := number(schema["minLength"]); ok && float64(len(s)) < lo {
			return nil, fmt.Errorf("must be at least %d characters", int(lo))
		}
		out = s
	case "number", "integer":
		f, ok := number(value)
		if !ok {
			return nil, typeError(typ)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("must be a finite number")
		}
		if lo, ok := number(schema["minimum"]); ok && f < lo {
			return nil, fmt.Errorf("must be >= %v", lo)
		}
		if hi, ok := number(schema["maximum"]); ok && f > hi {
			return nil, fmt.Errorf("must be <= %v", hi)
		}
		if typ == "integer" {
			if f != math.Trunc(f) || math.Abs(f) > 1<<53 {
				return nil, typeError("integer")
			}
			out = int64(f)
		} else {
			out = f
		}
	case "boolean":
		b, ok := value.(bool)
		if !ok {
			return nil, typeError("boolean")
		}
		out = b
	case "array":
		a, ok := value.([]any)
		if !ok {
			return nil, typeError("array")
		}
		out = a
	case "object":
		m, ok := value.(map[string]any)
		if !ok {
			return nil, typeError("object")
		}
		out = m
	default:
		out = value
	}

	if allowed := enumValues(schema["enum"]); len(allowed) > 0 {
		s := fmt.Sprint(out)
		for _, a := range allowed {
			if a == s {
				return out, nil
			}
		}
		return nil, fmt.Errorf("must be one of: %s", strings.Join(allowed, ", "))
	}
	return out, nil
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func enumValues(v any) []string {
	switch e := v.(type) {
	case []string:
		return e
	case []any:
		out := make([]string, 0, len(e))
		for _, x := range e {
			out = append(out, fmt.Sprint(x))
		}
		return out
	}
	return nil
}

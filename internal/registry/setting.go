package registry

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// Kind is the declared type of a setting.
type Kind uint8

const (
	// KindString holds a plain string.
	KindString Kind = iota + 1
	// KindOptionalString holds a string or nothing (nil).
	KindOptionalString
	// KindBool holds a boolean.
	KindBool
	// KindInt holds an int.
	KindInt
	// KindFloat holds a float64.
	KindFloat
	// KindStructured holds a JSON-shaped map[string]any or []any.
	KindStructured
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindOptionalString:
		return "optional string"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindStructured:
		return "structured"
	default:
		return "unknown"
	}
}

func (k Kind) valid() bool {
	return k >= KindString && k <= KindStructured
}

func (k Kind) zero() any {
	switch k {
	case KindString:
		return ""
	case KindBool:
		return false
	case KindInt:
		return 0
	case KindFloat:
		return 0.0
	case KindStructured:
		return map[string]any{}
	default:
		return nil
	}
}

// check validates value against the kind and returns its stored form.
// Only representation changes are made: integer widths collapse to int,
// *string dereferences, and structured values take their JSON form.
func (k Kind) check(value any) (any, error) {
	switch k {
	case KindString:
		if s, ok := value.(string); ok {
			return s, nil
		}
	case KindOptionalString:
		switch v := value.(type) {
		case nil:
			return nil, nil
		case string:
			return v, nil
		case *string:
			if v == nil {
				return nil, nil
			}
			return *v, nil
		}
	case KindBool:
		if b, ok := value.(bool); ok {
			return b, nil
		}
	case KindInt:
		return checkInt(value)
	case KindFloat:
		switch v := value.(type) {
		case float64:
			return checkFinite(v)
		case float32:
			return checkFinite(float64(v))
		}
	case KindStructured:
		switch v := value.(type) {
		case map[string]any:
			if v == nil {
				return map[string]any{}, nil
			}
			return canonicalize(v)
		case []any:
			if v == nil {
				return []any{}, nil
			}
			return canonicalize(v)
		}
	default:
		return nil, fmt.Errorf("%w: kind %d", ErrUnsupportedType, k)
	}
	return nil, fmt.Errorf("expected %s, got %T", k, value)
}

// checkDecoded is check for values that came out of a text codec, where
// numbers lose their Go type. It never applies to live writes.
func (k Kind) checkDecoded(value any) (any, error) {
	switch k {
	case KindInt:
		switch v := value.(type) {
		case float64:
			if v == math.Trunc(v) && v >= math.MinInt && v < math.MaxInt {
				return int(v), nil
			}
		case json.Number:
			if i, err := v.Int64(); err == nil {
				return checkInt(i)
			}
			if f, err := v.Float64(); err == nil {
				return k.checkDecoded(f)
			}
		}
	case KindFloat:
		switch v := value.(type) {
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case json.Number:
			if f, err := v.Float64(); err == nil {
				return checkFinite(f)
			}
		}
	}
	return k.check(value)
}

func checkInt(value any) (any, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int8:
		return int(v), nil
	case int16:
		return int(v), nil
	case int32:
		return int(v), nil
	case int64:
		if v < math.MinInt || v > math.MaxInt {
			return nil, fmt.Errorf("integer %d overflows int", v)
		}
		return int(v), nil
	case uint:
		if v > math.MaxInt {
			return nil, fmt.Errorf("integer %d overflows int", v)
		}
		return int(v), nil
	case uint8:
		return int(v), nil
	case uint16:
		return int(v), nil
	case uint32:
		return int(v), nil
	case uint64:
		if v > math.MaxInt {
			return nil, fmt.Errorf("integer %d overflows int", v)
		}
		return int(v), nil
	}
	return nil, fmt.Errorf("expected int, got %T", value)
}

// checkFinite rejects NaN and infinities, which have no JSON form.
func checkFinite(f float64) (any, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("float %v is not finite", f)
	}
	return f, nil
}

// parseEnv converts environment text into the kind's stored form.
func (k Kind) parseEnv(raw string) (any, error) {
	switch k {
	case KindString, KindOptionalString:
		return raw, nil
	case KindBool:
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case "1", "true", "yes", "on":
			return true, nil
		case "0", "false", "no", "off":
			return false, nil
		}
		return nil, fmt.Errorf("cannot parse %q as bool", raw)
	case KindInt:
		i, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("cannot parse %q as int", raw)
		}
		return i, nil
	case KindFloat:
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("cannot parse %q as float", raw)
		}
		return checkFinite(f)
	case KindStructured:
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("cannot parse %q as JSON: %w", raw, err)
		}
		return k.check(v)
	}
	return nil, fmt.Errorf("%w: kind %d", ErrUnsupportedType, k)
}

// canonicalize round-trips a structured value through JSON so that every
// stored structured value uses map[string]any, []any, string, float64, bool
// and nil only. Nested json.Number values from decoded snapshots encode as
// their literal text and come back as float64 like every other number.
func canonicalize(value any) (any, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("structured value is not JSON-encodable: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("structured value is not JSON-encodable: %w", err)
	}
	return out, nil
}

// Setting declares one named, typed configuration value.
type Setting struct {
	// Name is unique within the namespace (e.g. "job_id").
	Name string

	// Kind is the declared type.
	Kind Kind

	// Default is used when neither Value nor the environment supplies one.
	// A nil Default means the kind's zero value.
	Default any

	// Value, when non-nil, is an explicit literal that outranks the environment.
	Value any

	// Env names the environment variable read once at registration.
	Env string

	// ReadOnly rejects writes after registration.
	ReadOnly bool

	// Doc is human-readable documentation.
	Doc string
}

// Source indicates where a setting's current value came from.
type Source uint8

const (
	SourceDefault Source = iota
	SourceEnv
	SourceExplicit
	SourceRuntime
	SourceOverride
	SourceSnapshot
)

// String returns a human-readable name for the source.
func (s Source) String() string {
	switch s {
	case SourceDefault:
		return "default"
	case SourceEnv:
		return "environment"
	case SourceExplicit:
		return "explicit"
	case SourceRuntime:
		return "runtime"
	case SourceOverride:
		return "override"
	case SourceSnapshot:
		return "snapshot"
	default:
		return "unknown"
	}
}

// Provenance explains how a setting got its value. Environment details are
// captured at registration and never re-read.
type Provenance struct {
	Namespace string
	Name      string
	Kind      Kind
	Source    Source
	Initial   Source
	Env       string
	EnvValue  string
	// EnvPresent is true when Env was set and non-empty at registration.
	EnvPresent bool
	Default    any
	ReadOnly   bool
	Doc        string
}

// String renders the provenance as a single line.
func (p Provenance) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", QualifiedName(p.Namespace, p.Name), p.Source)
	if p.Source != p.Initial {
		fmt.Fprintf(&b, " (registered from %s)", p.Initial)
	}
	if p.Env != "" {
		if p.EnvPresent {
			fmt.Fprintf(&b, ", environment variable %s=%q", p.Env, p.EnvValue)
		} else {
			fmt.Fprintf(&b, ", environment variable %s unset", p.Env)
		}
	}
	fmt.Fprintf(&b, ", default %v", formatValue(p.Default))
	return b.String()
}

func formatValue(v any) string {
	if v == nil {
		return "<unset>"
	}
	if s, ok := v.(string); ok {
		return strconv.Quote(s)
	}
	return fmt.Sprintf("%v", v)
}

// cloneValue deep-copies structured values; scalars are returned as is.
func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		return cloneSlice(t)
	default:
		return v
	}
}

func cloneMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	dst := make(map[string]any, len(src))
	for key, val := range src {
		dst[key] = cloneValue(val)
	}
	return dst
}

func cloneSlice(src []any) []any {
	if src == nil {
		return nil
	}
	dst := make([]any, len(src))
	for i, val := range src {
		dst[i] = cloneValue(val)
	}
	return dst
}

func equalValues(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

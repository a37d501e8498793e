package registry

import (
	"fmt"
	"reflect"
	"strings"
	"unicode"
)

// RegisterStruct registers one setting per exported, non-func field of a
// declaration struct (or pointer to one). The field's Go type decides the
// Kind and its current value is the default.
//
// Field tags:
//
//	config:"name[,readonly]"  setting name (default: snake_case field name); "-" skips the field
//	env:"VAR"                 environment variable supplying the initial value
//	doc:"..."                 documentation
//
// Every field is checked before anything is registered, so an unsupported
// or colliding field leaves the namespace untouched.
func RegisterStruct(ns *Namespace, decl any) error {
	rv := reflect.ValueOf(decl)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return newError(KindUnsupportedType, ns.name, "", "nil declaration")
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return newError(KindUnsupportedType, ns.name, "", fmt.Sprintf("declaration must be a struct, got %T", decl))
	}

	rt := rv.Type()
	settings := make([]Setting, 0, rt.NumField())
	seen := make(map[string]string, rt.NumField())
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() || field.Type.Kind() == reflect.Func {
			continue
		}
		tag := field.Tag.Get("config")
		if tag == "-" {
			continue
		}

		name, readOnly := parseConfigTag(tag)
		if name == "" {
			name = snakeCase(field.Name)
		}
		if other, dup := seen[name]; dup {
			return newError(KindDuplicateSetting, ns.name, name, fmt.Sprintf("fields %s and %s", other, field.Name))
		}
		seen[name] = field.Name
		if ns.Has(name) {
			return newError(KindDuplicateSetting, ns.name, name, "")
		}

		kind, ok := kindOfType(field.Type)
		if !ok {
			return newError(KindUnsupportedType, ns.name, name, fmt.Sprintf("field %s has type %s", field.Name, field.Type))
		}

		settings = append(settings, Setting{
			Name:     name,
			Kind:     kind,
			Default:  fieldDefault(rv.Field(i), kind),
			Env:      field.Tag.Get("env"),
			ReadOnly: readOnly,
			Doc:      field.Tag.Get("doc"),
		})
	}

	for _, s := range settings {
		if err := ns.Register(s); err != nil {
			return err
		}
	}
	return nil
}

func parseConfigTag(tag string) (name string, readOnly bool) {
	parts := strings.Split(tag, ",")
	name = strings.TrimSpace(parts[0])
	for _, opt := range parts[1:] {
		if strings.TrimSpace(opt) == "readonly" {
			readOnly = true
		}
	}
	return name, readOnly
}

var anyType = reflect.TypeOf((*any)(nil)).Elem()

func kindOfType(t reflect.Type) (Kind, bool) {
	switch t.Kind() {
	case reflect.String:
		return KindString, true
	case reflect.Bool:
		return KindBool, true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return KindInt, true
	case reflect.Float32, reflect.Float64:
		return KindFloat, true
	case reflect.Pointer:
		if t.Elem().Kind() == reflect.String {
			return KindOptionalString, true
		}
	case reflect.Map:
		if t.Key().Kind() == reflect.String && t.Elem() == anyType {
			return KindStructured, true
		}
	case reflect.Slice:
		if t.Elem() == anyType {
			return KindStructured, true
		}
	}
	return 0, false
}

func fieldDefault(v reflect.Value, kind Kind) any {
	switch kind {
	case KindOptionalString:
		if v.IsNil() {
			return nil
		}
		return v.Elem().String()
	case KindString:
		return v.String()
	case KindBool:
		return v.Bool()
	case KindInt:
		if v.CanInt() {
			return v.Int()
		}
		return v.Uint()
	case KindFloat:
		return v.Float()
	case KindStructured:
		return v.Interface()
	}
	return nil
}

// snakeCase converts a Go field name such as "JobID" to "job_id".
func snakeCase(name string) string {
	runes := []rune(name)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					b.WriteByte('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

package registry

import "fmt"

// Value reads a setting and asserts its stored Go type.
//
// Stored types are string, bool, int, float64, map[string]any and []any;
// an unset optional string is nil and reads as the zero T.
func Value[T any](ns *Namespace, name string) (T, error) {
	var zero T
	v, err := ns.Get(name)
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	t, ok := v.(T)
	if !ok {
		return zero, &ConfigError{
			Kind:      KindTypeMismatch,
			Namespace: ns.name,
			Setting:   name,
			Err:       fmt.Errorf("stored %T, requested %T", v, zero),
		}
	}
	return t, nil
}

// String reads a string setting.
func (ns *Namespace) String(name string) (string, error) {
	return Value[string](ns, name)
}

// OptionalString reads an optional string; ok is false when it is unset.
func (ns *Namespace) OptionalString(name string) (value string, ok bool, err error) {
	v, err := ns.Get(name)
	if err != nil {
		return "", false, err
	}
	if v == nil {
		return "", false, nil
	}
	s, isString := v.(string)
	if !isString {
		return "", false, &ConfigError{Kind: KindTypeMismatch, Namespace: ns.name, Setting: name, Err: fmt.Errorf("stored %T, requested string", v)}
	}
	return s, true, nil
}

// Bool reads a bool setting.
func (ns *Namespace) Bool(name string) (bool, error) {
	return Value[bool](ns, name)
}

// Int reads an int setting.
func (ns *Namespace) Int(name string) (int, error) {
	return Value[int](ns, name)
}

// Float reads a float setting.
func (ns *Namespace) Float(name string) (float64, error) {
	return Value[float64](ns, name)
}

// Structured reads a structured setting.
func (ns *Namespace) Structured(name string) (any, error) {
	v, err := ns.Get(name)
	if err != nil {
		return nil, err
	}
	switch v.(type) {
	case map[string]any, []any:
		return v, nil
	}
	return nil, &ConfigError{Kind: KindTypeMismatch, Namespace: ns.name, Setting: name, Err: fmt.Errorf("stored %T, requested structured", v)}
}

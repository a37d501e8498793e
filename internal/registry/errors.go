package registry

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateSetting is returned when a name is registered twice in one namespace.
	ErrDuplicateSetting = errors.New("setting already registered")
	// ErrUnsupportedType is returned when a declared type cannot be represented by the registry.
	ErrUnsupportedType = errors.New("unsupported setting type")
	// ErrImmutableSetting is returned when writing a read-only setting.
	ErrImmutableSetting = errors.New("setting is read-only")
	// ErrTypeMismatch is returned when a value does not match the setting's declared kind.
	ErrTypeMismatch = errors.New("type mismatch")
	// ErrUnknownSetting is returned when a name is not registered in the namespace.
	ErrUnknownSetting = errors.New("unknown setting")
	// ErrDuplicateNamespace is returned when a namespace name is created twice.
	ErrDuplicateNamespace = errors.New("namespace already exists")
	// ErrUnknownNamespace is returned when a namespace does not exist.
	ErrUnknownNamespace = errors.New("unknown namespace")
	// ErrOverrideOrder is returned when override frames are restored out of LIFO order.
	ErrOverrideOrder = errors.New("override frames must be restored in reverse order")
)

// ErrorKind categorizes configuration errors.
type ErrorKind uint8

const (
	KindDuplicateSetting ErrorKind = iota + 1
	KindUnsupportedType
	KindImmutableSetting
	KindTypeMismatch
	KindUnknownSetting
	KindDuplicateNamespace
	KindUnknownNamespace
	KindOverrideOrder
)

// String returns a stable name for the error kind.
func (k ErrorKind) String() string {
	switch k {
	case KindDuplicateSetting:
		return "duplicate_setting"
	case KindUnsupportedType:
		return "unsupported_type"
	case KindImmutableSetting:
		return "immutable_setting"
	case KindTypeMismatch:
		return "type_mismatch"
	case KindUnknownSetting:
		return "unknown_setting"
	case KindDuplicateNamespace:
		return "duplicate_namespace"
	case KindUnknownNamespace:
		return "unknown_namespace"
	case KindOverrideOrder:
		return "override_order"
	default:
		return "unknown"
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindDuplicateSetting:
		return ErrDuplicateSetting
	case KindUnsupportedType:
		return ErrUnsupportedType
	case KindImmutableSetting:
		return ErrImmutableSetting
	case KindTypeMismatch:
		return ErrTypeMismatch
	case KindUnknownSetting:
		return ErrUnknownSetting
	case KindDuplicateNamespace:
		return ErrDuplicateNamespace
	case KindUnknownNamespace:
		return ErrUnknownNamespace
	case KindOverrideOrder:
		return ErrOverrideOrder
	default:
		return nil
	}
}

// ConfigError identifies the namespace, setting and kind of a configuration violation.
type ConfigError struct {
	Kind      ErrorKind
	Namespace string
	Setting   string
	Detail    string
	Err       error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	msg := e.Kind.sentinel().Error()
	switch {
	case e.Namespace != "" && e.Setting != "":
		msg = fmt.Sprintf("%s: %s.%s", msg, e.Namespace, e.Setting)
	case e.Namespace != "":
		msg = fmt.Sprintf("%s: %s", msg, e.Namespace)
	case e.Setting != "":
		msg = fmt.Sprintf("%s: %s", msg, e.Setting)
	}
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel error for the kind.
func (e *ConfigError) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

func newError(kind ErrorKind, namespace, setting, detail string) *ConfigError {
	return &ConfigError{Kind: kind, Namespace: namespace, Setting: setting, Detail: detail}
}

// KindOf reports the ErrorKind carried by err, or zero if err is not a *ConfigError.
func KindOf(err error) ErrorKind {
	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) {
		return cfgErr.Kind
	}
	return 0
}

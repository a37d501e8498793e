package registry

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

type entry struct {
	setting Setting

	value  any
	source Source

	initial       any
	initialSource Source
	envValue      string
	envPresent    bool
}

// Namespace is a named, disjoint collection of settings belonging to one
// logical module. Values are read and written by name.
//
// Get, Set, Save and Load are safe for concurrent use. Override frames are
// not: a namespace's frames must be opened and restored by one goroutine at
// a time, in strictly nested order.
type Namespace struct {
	name   string
	logger *zap.Logger
	lookup func(string) (string, bool)

	mu      sync.RWMutex
	entries map[string]*entry
	frames  []*Frame
}

// Name returns the namespace name.
func (ns *Namespace) Name() string {
	return ns.name
}

// Register declares a setting and resolves its initial value once:
// explicit Value, then the environment variable, then Default.
func (ns *Namespace) Register(s Setting) error {
	if s.Name == "" {
		return newError(KindUnsupportedType, ns.name, "", "setting name must not be empty")
	}
	if !s.Kind.valid() {
		return newError(KindUnsupportedType, ns.name, s.Name, fmt.Sprintf("kind %d", s.Kind))
	}

	var def any
	if s.Default == nil {
		def = s.Kind.zero()
	} else {
		v, err := s.Kind.check(s.Default)
		if err != nil {
			return &ConfigError{Kind: KindTypeMismatch, Namespace: ns.name, Setting: s.Name, Detail: "default", Err: err}
		}
		def = v
	}
	s.Default = def

	e := &entry{setting: s, value: def, source: SourceDefault}

	if s.Env != "" {
		if raw, ok := ns.lookup(s.Env); ok && raw != "" {
			e.envValue = raw
			e.envPresent = true
		}
	}

	switch {
	case s.Value != nil:
		v, err := s.Kind.check(s.Value)
		if err != nil {
			return &ConfigError{Kind: KindTypeMismatch, Namespace: ns.name, Setting: s.Name, Detail: "explicit value", Err: err}
		}
		e.value, e.source = v, SourceExplicit
	case e.envPresent:
		v, err := s.Kind.parseEnv(e.envValue)
		if err != nil {
			return &ConfigError{Kind: KindTypeMismatch, Namespace: ns.name, Setting: s.Name, Detail: "environment variable " + s.Env, Err: err}
		}
		e.value, e.source = v, SourceEnv
	}
	e.initial, e.initialSource = e.value, e.source

	ns.mu.Lock()
	if _, exists := ns.entries[s.Name]; exists {
		ns.mu.Unlock()
		return newError(KindDuplicateSetting, ns.name, s.Name, "")
	}
	ns.entries[s.Name] = e
	ns.mu.Unlock()

	ns.logger.Debug("setting registered",
		zap.String("namespace", ns.name),
		zap.String("setting", s.Name),
		zap.Stringer("kind", s.Kind),
		zap.Stringer("source", e.source),
	)
	return nil
}

// MustRegister registers a setting and panics on error.
// Useful for declaring built-in settings at init time.
func (ns *Namespace) MustRegister(s Setting) {
	if err := ns.Register(s); err != nil {
		panic(err)
	}
}

// Has reports whether name is registered.
func (ns *Namespace) Has(name string) bool {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	_, ok := ns.entries[name]
	return ok
}

// Settings returns all declarations sorted by name.
func (ns *Namespace) Settings() []Setting {
	ns.mu.RLock()
	defer ns.mu.RUnlock()

	result := make([]Setting, 0, len(ns.entries))
	for _, e := range ns.entries {
		s := e.setting
		s.Default = cloneValue(s.Default)
		s.Value = cloneValue(s.Value)
		result = append(result, s)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})
	return result
}

// Get returns the current value of a setting.
func (ns *Namespace) Get(name string) (any, error) {
	ns.mu.RLock()
	defer ns.mu.RUnlock()

	e, ok := ns.entries[name]
	if !ok {
		return nil, newError(KindUnknownSetting, ns.name, name, "")
	}
	return cloneValue(e.value), nil
}

// Set writes a setting after checking mutability and type. On error the
// stored value is unchanged.
func (ns *Namespace) Set(name string, value any) error {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	e, v, err := ns.prepareWrite(name, value)
	if err != nil {
		return err
	}
	e.value, e.source = v, SourceRuntime
	return nil
}

// SetDecoded is Set for a value decoded from JSON or YAML, where numbers
// lose their Go type: an integral float64 is accepted for an int setting.
func (ns *Namespace) SetDecoded(name string, value any) error {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	e, ok := ns.entries[name]
	if !ok {
		return newError(KindUnknownSetting, ns.name, name, "")
	}
	if e.setting.ReadOnly {
		return newError(KindImmutableSetting, ns.name, name, "")
	}
	v, err := e.setting.Kind.checkDecoded(value)
	if err != nil {
		return &ConfigError{Kind: KindTypeMismatch, Namespace: ns.name, Setting: name, Err: err}
	}
	e.value, e.source = v, SourceRuntime
	return nil
}

// Reset restores a setting to the value resolved at registration.
func (ns *Namespace) Reset(name string) error {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	e, ok := ns.entries[name]
	if !ok {
		return newError(KindUnknownSetting, ns.name, name, "")
	}
	e.value, e.source = cloneValue(e.initial), e.initialSource
	return nil
}

// Provenance reports where the setting's value came from.
func (ns *Namespace) Provenance(name string) (Provenance, error) {
	ns.mu.RLock()
	defer ns.mu.RUnlock()

	e, ok := ns.entries[name]
	if !ok {
		return Provenance{}, newError(KindUnknownSetting, ns.name, name, "")
	}
	return Provenance{
		Namespace:  ns.name,
		Name:       name,
		Kind:       e.setting.Kind,
		Source:     e.source,
		Initial:    e.initialSource,
		Env:        e.setting.Env,
		EnvValue:   e.envValue,
		EnvPresent: e.envPresent,
		Default:    cloneValue(e.setting.Default),
		ReadOnly:   e.setting.ReadOnly,
		Doc:        e.setting.Doc,
	}, nil
}

// prepareWrite validates a write. Callers must hold ns.mu.
func (ns *Namespace) prepareWrite(name string, value any) (*entry, any, error) {
	e, ok := ns.entries[name]
	if !ok {
		return nil, nil, newError(KindUnknownSetting, ns.name, name, "")
	}
	if e.setting.ReadOnly {
		return nil, nil, newError(KindImmutableSetting, ns.name, name, "")
	}
	v, err := e.setting.Kind.check(value)
	if err != nil {
		return nil, nil, &ConfigError{Kind: KindTypeMismatch, Namespace: ns.name, Setting: name, Err: err}
	}
	return e, v, nil
}

// Save captures every current value in the namespace.
func (ns *Namespace) Save() Snapshot {
	ns.mu.RLock()
	defer ns.mu.RUnlock()

	values := make(map[string]any, len(ns.entries))
	ns.saveLocked(values)
	return Snapshot{values: values}
}

func (ns *Namespace) saveLocked(into map[string]any) {
	for name, e := range ns.entries {
		into[QualifiedName(ns.name, name)] = cloneValue(e.value)
	}
}

// Load applies a snapshot's values to the namespace. Every entry is
// validated before anything is written, so a failed load changes nothing.
func (ns *Namespace) Load(s Snapshot, opts ...LoadOption) error {
	o := newLoadOptions(opts)

	ns.mu.Lock()
	defer ns.mu.Unlock()

	var errs error
	local := make(map[string]any, len(s.values))
	for qualified, value := range s.values {
		nsName, name, ok := SplitName(qualified)
		if !ok || nsName != ns.name {
			if !o.ignoreUnknown {
				errs = appendError(errs, newError(KindUnknownSetting, ns.name, qualified, "not in namespace"))
			}
			continue
		}
		local[name] = value
	}

	plan, err := ns.planLoadLocked(local, s.decoded, o)
	errs = appendError(errs, err)
	if errs != nil {
		return errs
	}
	ns.applyLocked(plan)

	ns.logger.Info("snapshot loaded",
		zap.String("namespace", ns.name),
		zap.Int("applied", len(plan)),
	)
	return nil
}

type assignment struct {
	entry *entry
	value any
}

// planLoadLocked validates values keyed by unqualified name.
func (ns *Namespace) planLoadLocked(values map[string]any, decoded bool, o loadOptions) ([]assignment, error) {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs error
	plan := make([]assignment, 0, len(names))
	for _, name := range names {
		e, ok := ns.entries[name]
		if !ok {
			if !o.ignoreUnknown {
				errs = appendError(errs, newError(KindUnknownSetting, ns.name, name, ""))
			}
			continue
		}

		check := e.setting.Kind.check
		if decoded {
			check = e.setting.Kind.checkDecoded
		}
		v, err := check(values[name])
		if err != nil {
			errs = appendError(errs, &ConfigError{Kind: KindTypeMismatch, Namespace: ns.name, Setting: name, Err: err})
			continue
		}

		if e.setting.ReadOnly {
			if !equalValues(v, e.value) {
				errs = appendError(errs, newError(KindImmutableSetting, ns.name, name, ""))
			}
			continue
		}
		plan = append(plan, assignment{entry: e, value: v})
	}
	return plan, errs
}

func (ns *Namespace) applyLocked(plan []assignment) {
	for _, a := range plan {
		a.entry.value, a.entry.source = a.value, SourceSnapshot
	}
}

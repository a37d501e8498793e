package registry

import (
	"fmt"
	"sort"

	"go.uber.org/zap"
)

type savedValue struct {
	name   string
	value  any
	source Source
}

// Frame is one scoped override. It remembers the prior value of every
// setting it touched so Restore can put them back.
type Frame struct {
	ns       *Namespace
	saved    []savedValue
	restored bool
}

// Override validates and applies values, then pushes a frame that restores
// them. Values are applied in name order; if any value is rejected nothing
// is applied and no frame is pushed.
//
//	frame, err := ns.Override(map[string]any{"debug": true})
//	if err != nil {
//		return err
//	}
//	defer frame.Restore()
func (ns *Namespace) Override(values map[string]any) (*Frame, error) {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	ns.mu.Lock()
	defer ns.mu.Unlock()

	entries := make([]*entry, len(names))
	normalized := make([]any, len(names))
	for i, name := range names {
		e, v, err := ns.prepareWrite(name, values[name])
		if err != nil {
			return nil, err
		}
		entries[i], normalized[i] = e, v
	}

	frame := &Frame{ns: ns, saved: make([]savedValue, 0, len(names))}
	for i, e := range entries {
		frame.saved = append(frame.saved, savedValue{name: names[i], value: e.value, source: e.source})
		e.value, e.source = normalized[i], SourceOverride
	}
	ns.frames = append(ns.frames, frame)

	ns.logger.Debug("override pushed",
		zap.String("namespace", ns.name),
		zap.Strings("settings", names),
		zap.Int("depth", len(ns.frames)),
	)
	return frame, nil
}

// Restore pops the frame and puts back every captured value in reverse order
// of application. Restoring twice is a no-op.
//
// If frames pushed after this one are still open they are unwound first and
// an ErrOverrideOrder error is returned; the namespace still ends up in the
// state it had before this frame was pushed.
func (f *Frame) Restore() error {
	if f == nil {
		return nil
	}
	ns := f.ns

	ns.mu.Lock()
	defer ns.mu.Unlock()

	if f.restored {
		return nil
	}

	idx := -1
	for i := len(ns.frames) - 1; i >= 0; i-- {
		if ns.frames[i] == f {
			idx = i
			break
		}
	}
	if idx < 0 {
		f.restored = true
		return newError(KindOverrideOrder, ns.name, "", "frame is not on the override stack")
	}

	var err error
	if leaked := len(ns.frames) - 1 - idx; leaked > 0 {
		err = newError(KindOverrideOrder, ns.name, "", fmt.Sprintf("%d newer frame(s) still open", leaked))
		ns.logger.Warn("override frames restored out of order",
			zap.String("namespace", ns.name),
			zap.Int("leaked", leaked),
		)
	}
	for i := len(ns.frames) - 1; i >= idx; i-- {
		ns.frames[i].unwindLocked()
	}
	ns.frames = ns.frames[:idx]

	ns.logger.Debug("override popped",
		zap.String("namespace", ns.name),
		zap.Int("depth", len(ns.frames)),
	)
	return err
}

func (f *Frame) unwindLocked() {
	for i := len(f.saved) - 1; i >= 0; i-- {
		sv := f.saved[i]
		e := f.ns.entries[sv.name]
		e.value, e.source = sv.value, sv.source
	}
	f.restored = true
}

// WithOverrides runs fn with values applied and restores the prior values on
// every exit path: normal return, error, or panic (re-raised after restore).
func (ns *Namespace) WithOverrides(values map[string]any, fn func() error) (err error) {
	frame, err := ns.Override(values)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := frame.Restore(); rerr != nil && err == nil {
			err = rerr
		}
	}()
	return fn()
}

// Depth returns the number of open override frames.
func (ns *Namespace) Depth() int {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return len(ns.frames)
}

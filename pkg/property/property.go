package property

import (
	"fmt"

	"github.com/iprivit/uhd/pkg/chdrerr"
)

// Source identifies where a property's value originates from. INPUT_EDGE
// and OUTPUT_EDGE sources carry the port index they are attached to.
type Source uint8

const (
	SourceUser Source = iota
	SourceInputEdge
	SourceOutputEdge
	SourceFramework
)

func (s Source) String() string {
	switch s {
	case SourceUser:
		return "user"
	case SourceInputEdge:
		return "input_edge"
	case SourceOutputEdge:
		return "output_edge"
	case SourceFramework:
		return "framework"
	default:
		return "unknown"
	}
}

// AccessMode forms a small lattice governing who may write a property.
type AccessMode uint8

const (
	ReadOnly AccessMode = iota
	ReadWrite
	ReadWriteLocked
)

func (m AccessMode) String() string {
	switch m {
	case ReadOnly:
		return "read_only"
	case ReadWrite:
		return "read_write"
	case ReadWriteLocked:
		return "read_write_locked"
	default:
		return "unknown"
	}
}

// Key identifies a property within a node: (id, source) per spec, with Port
// distinguishing same-id properties attached to different edge-typed ports
// (INPUT_EDGE(0) and INPUT_EDGE(1) are different properties).
type Key struct {
	ID     string
	Source Source
	Port   int
}

func (k Key) String() string {
	if k.Source == SourceInputEdge || k.Source == SourceOutputEdge {
		return fmt.Sprintf("%s@%s[%d]", k.ID, k.Source, k.Port)
	}
	return fmt.Sprintf("%s@%s", k.ID, k.Source)
}

// UserKey builds the Key for a USER-sourced property — the common case for
// properties a node declares in its own constructor.
func UserKey(id string) Key { return Key{ID: id, Source: SourceUser} }

// EdgeKey builds the Key for an INPUT_EDGE or OUTPUT_EDGE-sourced property.
func EdgeKey(id string, source Source, port int) Key {
	return Key{ID: id, Source: source, Port: port}
}

// Property is the full tuple the graph runtime tracks: identity, current
// value, and the dirty/valid/access-mode bookkeeping the propagation
// algorithm and access guard depend on.
//
// Framework-scoped properties may set AlwaysDirty, a degenerate variant
// (always dirty, never compares equal, never forwarded across an edge) used
// to force a resolver to run on every sweep regardless of whether its
// declared inputs actually changed.
type Property struct {
	Key         Key
	Type        ValueType
	Value       Value
	Dirty       bool
	Valid       bool
	AccessMode  AccessMode
	AlwaysDirty bool

	cleanCallback func()
}

// New constructs a property in the dirty, invalid state — it becomes valid
// once first written via Set.
func New(key Key, t ValueType, mode AccessMode) *Property {
	return &Property{Key: key, Type: t, AccessMode: mode, Dirty: true}
}

// NewWithClean is New plus a clean callback, invoked exactly when this
// property transitions from dirty to clean during clean_props.
func NewWithClean(key Key, t ValueType, mode AccessMode, onClean func()) *Property {
	p := New(key, t, mode)
	p.cleanCallback = onClean
	return p
}

// Set writes a new value. The property becomes dirty only if the value
// actually changed (or it was never valid, or it is AlwaysDirty, which by
// definition never compares equal) — an idempotent Set of an already-clean
// property must not re-dirty it, or propagation would never reach a clean
// fixed point. Returns a type_error-shaped error if v's type doesn't match
// the property's declared type.
func (p *Property) Set(v Value) error {
	if v.Type != p.Type {
		return chdrerr.New("set_property").On("property", p.Key.String()).
			Type(fmt.Errorf("cannot assign %s value to %s property", v.Type, p.Type))
	}
	changed := p.AlwaysDirty || !p.Valid || !p.Value.Equal(v)
	p.Value = v
	p.Valid = true
	if changed {
		p.Dirty = true
	}
	return nil
}

// MarkClean transitions the property to clean, invoking its clean callback
// if one is registered and the transition is real (dirty -> clean).
// AlwaysDirty properties never actually clean; MarkClean on one is a no-op
// beyond firing the callback, matching "never equal, not forwardable".
func (p *Property) MarkClean() {
	wasDirty := p.Dirty
	if !p.AlwaysDirty {
		p.Dirty = false
	}
	if wasDirty && p.cleanCallback != nil {
		p.cleanCallback()
	}
}

// Forwardable reports whether this property's value may be copied across a
// propagation-active edge. Only AlwaysDirty framework properties opt out.
func (p *Property) Forwardable() bool {
	return !p.AlwaysDirty
}

// Clone returns an independent copy sharing no mutable state with p, used
// when a dynamic property is created on an opposite-direction port.
func (p *Property) Clone(newKey Key) *Property {
	c := &Property{
		Key:         newKey,
		Type:        p.Type,
		Value:       Value{Type: p.Value.Type, Data: append([]byte(nil), p.Value.Data...)},
		Dirty:       p.Dirty,
		Valid:       p.Valid,
		AccessMode:  p.AccessMode,
		AlwaysDirty: p.AlwaysDirty,
	}
	return c
}

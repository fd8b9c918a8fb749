// Package chdrerr defines the error taxonomy shared by every package in
// this module: a structured error type plus one sentinel-backed
// constructor per kind named in the graph runtime's error handling design.
package chdrerr

import (
	"errors"
	"fmt"
)

// Kind is one of the error taxonomy rows. Kinds are not type names; several
// packages can share a Kind while carrying different Op/Entity context.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindLookup
	KindType
	KindAccess
	KindValue
	KindResolve
	KindCycle
	KindTopology
	KindMalformed
	KindUnsupported
	KindOverflow
	KindUnderflow
	KindTimeout
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindLookup:
		return "lookup_error"
	case KindType:
		return "type_error"
	case KindAccess:
		return "access_error"
	case KindValue:
		return "value_error"
	case KindResolve:
		return "resolve_error"
	case KindCycle:
		return "cycle_error"
	case KindTopology:
		return "topology_error"
	case KindMalformed:
		return "malformed"
	case KindUnsupported:
		return "unsupported"
	case KindOverflow:
		return "overflow"
	case KindUnderflow:
		return "underflow"
	case KindTimeout:
		return "timeout"
	case KindFatal:
		return "fatal"
	default:
		return "unknown_error"
	}
}

// Error is the structured error value produced by this module. Every
// exported constructor in this package returns one of these.
type Error struct {
	Kind   Kind
	Op     string // operation that failed, e.g. "set_property", "connect"
	Entity string // what the error is about, e.g. "property", "node", "edge"
	ID     string // identifier of the entity, if any (node id, property id, channel)
	Cause  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.ID != "" {
		if e.Cause != nil {
			return fmt.Sprintf("%s: %s %s %q: %v", e.Kind, e.Op, e.Entity, e.ID, e.Cause)
		}
		return fmt.Sprintf("%s: %s %s %q", e.Kind, e.Op, e.Entity, e.ID)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s %s: %v", e.Kind, e.Op, e.Entity, e.Cause)
	}
	return fmt.Sprintf("%s: %s %s", e.Kind, e.Op, e.Entity)
}

// Unwrap supports errors.Is / errors.As chains.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target shares this error's Kind, or matches the
// wrapped cause.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Kind == e.Kind
	}
	return errors.Is(e.Cause, target)
}

// Builder provides a fluent interface for constructing Errors, mirroring
// the pattern used for storage errors: collect Op/Entity/ID context, then
// attach a Kind and optional Cause.
type Builder struct {
	err Error
}

// New starts a builder for the named operation.
func New(op string) *Builder {
	return &Builder{err: Error{Op: op}}
}

// On attaches the entity kind and identifier this error concerns.
func (b *Builder) On(entity, id string) *Builder {
	b.err.Entity = entity
	b.err.ID = id
	return b
}

func (b *Builder) build(kind Kind, cause error) *Error {
	b.err.Kind = kind
	b.err.Cause = cause
	e := b.err
	return &e
}

// Lookup builds a lookup_error: unknown block, property id, channel, filter name.
func (b *Builder) Lookup(cause error) *Error { return b.build(KindLookup, cause) }

// Type builds a type_error: property read/written with a value of a different type.
func (b *Builder) Type(cause error) *Error { return b.build(KindType, cause) }

// Access builds an access_error: resolver wrote outside its declared outputs,
// or read a non-local property.
func (b *Builder) Access(cause error) *Error { return b.build(KindAccess, cause) }

// Value builds a value_error: out-of-range numeric or malformed argument.
func (b *Builder) Value(cause error) *Error { return b.build(KindValue, cause) }

// Resolve builds a resolve_error: propagation didn't converge, or
// back-edges disagree.
func (b *Builder) Resolve(cause error) *Error { return b.build(KindResolve, cause) }

// Cycle builds a cycle_error: the graph has a propagation cycle.
func (b *Builder) Cycle(cause error) *Error { return b.build(KindCycle, cause) }

// Topology builds a topology_error: a node rejected the connection pattern at commit.
func (b *Builder) Topology(cause error) *Error { return b.build(KindTopology, cause) }

// Malformed builds a CHDR parse failure.
func (b *Builder) Malformed(cause error) *Error { return b.build(KindMalformed, cause) }

// Unsupported builds a CHDR parse failure for an unsupported configuration (e.g. bus width).
func (b *Builder) Unsupported(cause error) *Error { return b.build(KindUnsupported, cause) }

// Fatal builds an assertion/invariant-violation error. Callers that
// construct one of these are expected to terminate the process.
func (b *Builder) Fatal(cause error) *Error { return b.build(KindFatal, cause) }

// Overflow builds a streamer-level overrun error, surfaced through recv
// metadata rather than as an exception.
func (b *Builder) Overflow(cause error) *Error { return b.build(KindOverflow, cause) }

// Underflow builds a streamer-level underrun error, surfaced through send
// metadata rather than as an exception.
func (b *Builder) Underflow(cause error) *Error { return b.build(KindUnderflow, cause) }

// Timeout builds a non-fatal timeout error, surfaced through recv/send
// metadata.
func (b *Builder) Timeout(cause error) *Error { return b.build(KindTimeout, cause) }

// Is reports whether err carries the given Kind, unwrapping through any
// wrapped chdrerr.Error values.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Package arraynode provides Transformer and Qualifier helpers over
// map[string]any records: the concrete associative-array node
// implementations the engine's node-interface surface is designed around.
package arraynode

import (
	"context"
	"fmt"

	"github.com/fab2s/yaetl"
)

// TransformFunc adapts a plain function to yaetl.Transformer.
type TransformFunc func(ctx context.Context, rec map[string]any) (map[string]any, *yaetl.Interrupter, error)

func (f TransformFunc) Transform(ctx context.Context, rec yaetl.Record) (yaetl.Record, *yaetl.Interrupter, error) {
	m, ok := rec.(map[string]any)
	if !ok {
		return nil, nil, fmt.Errorf("arraynode: expected map[string]any, got %T", rec)
	}
	out, dir, err := f(ctx, m)
	return out, dir, err
}

// QualifyFunc adapts a plain predicate to yaetl.Qualifier.
type QualifyFunc func(rec map[string]any) bool

func (f QualifyFunc) Qualify(ctx context.Context, rec yaetl.Record) (*yaetl.Interrupter, error) {
	m, ok := rec.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("arraynode: expected map[string]any, got %T", rec)
	}
	if f(m) {
		return nil, nil
	}
	return yaetl.Reject(), nil
}

// Set assigns field to the result of value on every record.
func Set(field string, value func() any) TransformFunc {
	return func(ctx context.Context, rec map[string]any) (map[string]any, *yaetl.Interrupter, error) {
		rec[field] = value()
		return rec, nil, nil
	}
}

// SetValue assigns field to a fixed value on every record.
func SetValue(field string, value any) TransformFunc {
	return Set(field, func() any { return value })
}

// Rename moves the value at from to to, deleting from.
func Rename(from, to string) TransformFunc {
	return func(ctx context.Context, rec map[string]any) (map[string]any, *yaetl.Interrupter, error) {
		if v, ok := rec[from]; ok {
			rec[to] = v
			delete(rec, from)
		}
		return rec, nil, nil
	}
}

// Drop removes the named fields from every record.
func Drop(fields ...string) TransformFunc {
	return func(ctx context.Context, rec map[string]any) (map[string]any, *yaetl.Interrupter, error) {
		for _, f := range fields {
			delete(rec, f)
		}
		return rec, nil, nil
	}
}

// Default assigns field to value only when it is absent or nil.
func Default(field string, value any) TransformFunc {
	return func(ctx context.Context, rec map[string]any) (map[string]any, *yaetl.Interrupter, error) {
		if v, ok := rec[field]; !ok || v == nil {
			rec[field] = value
		}
		return rec, nil, nil
	}
}

// Cast converts field's value using convert, dropping the record (via a
// confined continue) if convert fails.
func Cast(field string, convert func(any) (any, error)) TransformFunc {
	return func(ctx context.Context, rec map[string]any) (map[string]any, *yaetl.Interrupter, error) {
		v, ok := rec[field]
		if !ok {
			return rec, nil, nil
		}
		out, err := convert(v)
		if err != nil {
			return nil, yaetl.Continue(), nil
		}
		rec[field] = out
		return rec, nil, nil
	}
}

// HasField qualifies records that contain a non-nil value at field.
func HasField(field string) QualifyFunc {
	return func(rec map[string]any) bool {
		v, ok := rec[field]
		return ok && v != nil
	}
}

// Equals qualifies records whose field equals value.
func Equals(field string, value any) QualifyFunc {
	return func(rec map[string]any) bool {
		return rec[field] == value
	}
}

// And combines qualifiers, passing only if every one passes.
func And(qs ...QualifyFunc) QualifyFunc {
	return func(rec map[string]any) bool {
		for _, q := range qs {
			if !q(rec) {
				return false
			}
		}
		return true
	}
}

// Or combines qualifiers, passing if any one passes.
func Or(qs ...QualifyFunc) QualifyFunc {
	return func(rec map[string]any) bool {
		for _, q := range qs {
			if q(rec) {
				return true
			}
		}
		return false
	}
}

// Not negates a qualifier.
func Not(q QualifyFunc) QualifyFunc {
	return func(rec map[string]any) bool { return !q(rec) }
}

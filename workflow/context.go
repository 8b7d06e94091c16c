package workflow

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/medscribe/conductor"
)

// MissingKeyError reports a lookup of a key no step has produced yet.
// Typed accessors fail fast with it instead of returning zero values, so
// a handler that forgot to produce a prerequisite is caught immediately
// rather than silently propagating empty state.
type MissingKeyError struct {
	Key string
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("workflow: context key %q not set", e.Key)
}

// WrongTypeError reports a typed lookup whose stored value has a
// different dynamic type.
type WrongTypeError struct {
	Key  string
	Want string
	Got  string
}

func (e *WrongTypeError) Error() string {
	return fmt.Sprintf("workflow: context key %q holds %s, not %s", e.Key, e.Got, e.Want)
}

// Context is the typed key/value store for intermediate and final
// results of one workflow run. Keys are unique; insertion order is
// preserved for audit logging but irrelevant to lookup. A Context is
// owned exclusively by one instance and never shared; the executor is
// single-threaded per instance, so no locking is needed.
//
// Values must be gob-encodable for Snapshot/Restore. Custom types used
// as context values should be registered with gob.Register at startup.
type Context struct {
	order  []string
	values map[string]any
}

// NewContext creates an empty Context.
func NewContext() *Context {
	return &Context{values: make(map[string]any)}
}

// Set stores a value under key, preserving first-insertion order.
func (c *Context) Set(key string, value any) {
	if _, exists := c.values[key]; !exists {
		c.order = append(c.order, key)
	}
	c.values[key] = value
}

// Get returns the value for key, or a MissingKeyError.
func (c *Context) Get(key string) (any, error) {
	v, ok := c.values[key]
	if !ok {
		return nil, &MissingKeyError{Key: key}
	}
	return v, nil
}

// Has reports whether key has been set.
func (c *Context) Has(key string) bool {
	_, ok := c.values[key]
	return ok
}

// Keys returns all keys in insertion order.
func (c *Context) Keys() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Len returns the number of stored keys.
func (c *Context) Len() int { return len(c.values) }

// Value returns the value for key asserted to type T. It fails with
// MissingKeyError when the key is absent and WrongTypeError when the
// stored value is not a T.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func Value[T any](c *Context, key string) (T, error) {
	var zero T
	v, ok := c.values[key]
	if !ok {
		return zero, &MissingKeyError{Key: key}
	}
	typed, ok := v.(T)
	if !ok {
		return zero, &WrongTypeError{
			Key:  key,
			Want: fmt.Sprintf("%T", zero),
			Got:  fmt.Sprintf("%T", v),
		}
	}
	return typed, nil
}

// contextSnapshot is the gob wire form of a Context.
type contextSnapshot struct {
	Order  []string
	Values map[string]any
}

// Snapshot serializes the full context, preserving insertion order.
func (c *Context) Snapshot() ([]byte, error) {
	var buf bytes.Buffer
	snap := contextSnapshot{Order: c.order, Values: c.values}
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return nil, fmt.Errorf("workflow: snapshot context: %w", err)
	}
	return buf.Bytes(), nil
}

// Restore replaces the context's contents with a previously taken
// snapshot. A snapshot that fails to decode is fatal: Restore returns
// conductor.ErrCheckpointCorrupt and leaves the context untouched,
// never reinitializing over corrupt state.
func (c *Context) Restore(data []byte) error {
	var snap contextSnapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return fmt.Errorf("%w: decode context: %v", conductor.ErrCheckpointCorrupt, err)
	}
	c.order = snap.Order
	c.values = snap.Values
	if c.values == nil {
		c.values = make(map[string]any)
	}
	return nil
}

// Clone returns a deep copy of the context via a snapshot round trip.
// The executor clones before each handler invocation so a Fail can
// restore the pre-step state exactly.
func (c *Context) Clone() (*Context, error) {
	data, err := c.Snapshot()
	if err != nil {
		return nil, err
	}
	out := NewContext()
	if err := out.Restore(data); err != nil {
		return nil, err
	}
	return out, nil
}

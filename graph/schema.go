package graph

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"reflect"
	"slices"
)

// Reducer defines how a state value should be updated.
// It takes the current value and the update, and returns the merged value.
// Reducers must not modify either argument.
type Reducer[T any] func(current, update T) (T, error)

// Field declares one key of the state together with its merge strategy.
type Field interface {
	// Name is the state key.
	Name() string

	// Merge combines the current value (nil when absent) with an update.
	Merge(current, update any) (any, error)

	// Restore converts a value read back from a store into the declared type.
	Restore(value any) (any, error)
}

type typedField[T any] struct {
	name   string
	coerce func(v any) (T, bool)
	reduce Reducer[T]
}

func (f *typedField[T]) Name() string {
	return f.name
}

func (f *typedField[T]) Merge(current, update any) (any, error) {
	var cur T
	if current != nil {
		restored, err := f.Restore(current)
		if err != nil {
			return nil, err
		}
		cur, _ = restored.(T)
	}
	upd, ok := f.coerce(update)
	if !ok {
		return nil, &SchemaError{
			Field:  f.name,
			Reason: fmt.Sprintf("expected %s, got %T", typeName[T](), update),
		}
	}
	return f.reduce(cur, upd)
}

func (f *typedField[T]) Restore(value any) (any, error) {
	switch v := value.(type) {
	case T:
		return v, nil
	case nil:
		var zero T
		return zero, nil
	case json.RawMessage:
		var out T
		if err := json.Unmarshal(v, &out); err != nil {
			return nil, &SchemaError{Field: f.name, Reason: "cannot decode stored value", Err: err}
		}
		return out, nil
	}
	return nil, &SchemaError{
		Field:  f.name,
		Reason: fmt.Sprintf("stored value has type %T, expected %s", value, typeName[T]()),
	}
}

func typeName[T any]() string {
	return reflect.TypeFor[T]().String()
}

func coerceValue[T any](v any) (T, bool) {
	if v == nil {
		var zero T
		return zero, true
	}
	t, ok := v.(T)
	return t, ok
}

func coerceSlice[E any](v any) ([]E, bool) {
	switch x := v.(type) {
	case nil:
		return nil, true
	case []E:
		return x, true
	case E:
		return []E{x}, true
	}
	return nil, false
}

// NewField declares a field of type T merged with a custom reducer. A nil update
// is passed to the reducer as the zero value of T.
func NewField[T any](name string, reducer Reducer[T]) Field {
	return &typedField[T]{name: name, coerce: coerceValue[T], reduce: reducer}
}

// NewSliceField declares a []E field merged with a custom reducer. Updates may be
// a []E or a single E.
func NewSliceField[E any](name string, reducer Reducer[[]E]) Field {
	return &typedField[[]E]{name: name, coerce: coerceSlice[E], reduce: reducer}
}

// ReplaceField declares a field whose update replaces the current value.
func ReplaceField[T any](name string) Field {
	return NewField[T](name, func(_, update T) (T, error) {
		return update, nil
	})
}

// AppendField declares a []E field whose updates are appended in order.
func AppendField[E any](name string) Field {
	return NewSliceField[E](name, func(current, update []E) ([]E, error) {
		return slices.Concat(current, update), nil
	})
}

// Schema is the static declaration of a graph's state.
type Schema struct {
	fields map[string]Field
	names  []string
}

// NewSchema builds a schema from fields. It panics on an empty or repeated field
// name, like regexp.MustCompile does on a bad pattern.
func NewSchema(fields ...Field) *Schema {
	s := &Schema{fields: make(map[string]Field, len(fields))}
	for _, f := range fields {
		name := f.Name()
		if name == "" {
			panic("graph: schema field with empty name")
		}
		if _, dup := s.fields[name]; dup {
			panic(fmt.Sprintf("graph: schema field %q declared twice", name))
		}
		s.fields[name] = f
		s.names = append(s.names, name)
	}
	return s
}

// Names returns the declared field names in declaration order.
func (s *Schema) Names() []string {
	return slices.Clone(s.names)
}

// Field returns the declaration of name.
func (s *Schema) Field(name string) (Field, bool) {
	f, ok := s.fields[name]
	return f, ok
}

// Merge applies update to current field by field and returns a new state.
// Fields missing from update keep their current value. Neither argument is
// modified.
func (s *Schema) Merge(current, update State) (State, error) {
	result := current.Clone()
	for _, name := range slices.Sorted(maps.Keys(update)) {
		f, ok := s.fields[name]
		if !ok {
			return nil, &SchemaError{Field: name, Reason: "field not declared in schema"}
		}
		merged, err := f.Merge(result[name], update[name])
		if err != nil {
			var se *SchemaError
			if errors.As(err, &se) {
				return nil, err
			}
			return nil, &SchemaError{Field: name, Reason: err.Error(), Err: err}
		}
		result[name] = merged
	}
	return result, nil
}

// Restore converts values read from a store into the declared field types.
// Keys the schema no longer declares are kept as they are.
func (s *Schema) Restore(values map[string]any) (State, error) {
	result := make(State, len(values))
	for name, v := range values {
		f, ok := s.fields[name]
		if !ok {
			result[name] = v
			continue
		}
		restored, err := f.Restore(v)
		if err != nil {
			return nil, err
		}
		result[name] = restored
	}
	return result, nil
}

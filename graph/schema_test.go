package graph

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chatSchema() *Schema {
	return NewSchema(
		AppendField[string]("messages"),
		ReplaceField[bool]("ask_human"),
		ReplaceField[int]("count"),
	)
}

func TestSchema_ReplaceField(t *testing.T) {
	s := chatSchema()

	merged, err := s.Merge(State{"ask_human": true}, State{"ask_human": false})
	require.NoError(t, err)
	assert.Equal(t, false, merged["ask_human"])

	merged, err = s.Merge(State{}, State{"count": 7})
	require.NoError(t, err)
	assert.Equal(t, 7, merged["count"])
}

func TestSchema_AppendField(t *testing.T) {
	s := chatSchema()

	merged, err := s.Merge(State{"messages": []string{"a"}}, State{"messages": []string{"b", "c"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, merged["messages"])

	merged, err = s.Merge(merged, State{"messages": "d"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, merged["messages"])
}

func TestSchema_AppendToMissingField(t *testing.T) {
	merged, err := chatSchema().Merge(State{}, State{"messages": "hello"})
	require.NoError(t, err)
	assert.Equal(t, []string{"hello"}, merged["messages"])
}

func TestSchema_NilUpdateClearsReplaceField(t *testing.T) {
	merged, err := chatSchema().Merge(State{"ask_human": true}, State{"ask_human": nil})
	require.NoError(t, err)
	assert.Equal(t, false, merged["ask_human"])
}

func TestSchema_FieldsMissingFromUpdateKeepTheirValue(t *testing.T) {
	merged, err := chatSchema().Merge(State{"count": 3, "messages": []string{"a"}}, State{"ask_human": true})
	require.NoError(t, err)
	assert.Equal(t, 3, merged["count"])
	assert.Equal(t, []string{"a"}, merged["messages"])
}

func TestSchema_UndeclaredField(t *testing.T) {
	_, err := chatSchema().Merge(State{}, State{"colour": "blue"})

	var se *SchemaError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "colour", se.Field)
	assert.Contains(t, se.Error(), "not declared")
}

func TestSchema_WrongType(t *testing.T) {
	s := chatSchema()

	_, err := s.Merge(State{}, State{"count": "seven"})
	var se *SchemaError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "count", se.Field)
	assert.Contains(t, se.Reason, "expected int")

	_, err = s.Merge(State{}, State{"messages": 42})
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "messages", se.Field)
}

func TestSchema_MergeDoesNotMutateInputs(t *testing.T) {
	current := State{"messages": []string{"a"}, "count": 1}
	update := State{"messages": []string{"b"}, "count": 2}

	merged, err := chatSchema().Merge(current, update)
	require.NoError(t, err)

	assert.Equal(t, State{"messages": []string{"a"}, "count": 1}, current)
	assert.Equal(t, State{"messages": []string{"b"}, "count": 2}, update)
	assert.Equal(t, []string{"a", "b"}, merged["messages"])
}

func TestSchema_ReducerErrorBecomesSchemaError(t *testing.T) {
	boom := errors.New("negative total")
	s := NewSchema(NewField[int]("total", func(current, update int) (int, error) {
		if current+update < 0 {
			return 0, boom
		}
		return current + update, nil
	}))

	merged, err := s.Merge(State{"total": 2}, State{"total": 3})
	require.NoError(t, err)
	assert.Equal(t, 5, merged["total"])

	_, err = s.Merge(merged, State{"total": -10})
	var se *SchemaError
	require.ErrorAs(t, err, &se)
	assert.ErrorIs(t, err, boom)
}

func TestSchema_RestoreFromJSON(t *testing.T) {
	s := chatSchema()

	restored, err := s.Restore(map[string]any{
		"messages":  json.RawMessage(`["a","b"]`),
		"ask_human": json.RawMessage(`true`),
		"count":     json.RawMessage(`4`),
		"legacy":    json.RawMessage(`"kept"`),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, restored["messages"])
	assert.Equal(t, true, restored["ask_human"])
	assert.Equal(t, 4, restored["count"])
	assert.Equal(t, json.RawMessage(`"kept"`), restored["legacy"])

	merged, err := s.Merge(State{"messages": json.RawMessage(`["a"]`)}, State{"messages": "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, merged["messages"])
}

func TestSchema_RestoreBadValue(t *testing.T) {
	_, err := chatSchema().Restore(map[string]any{"count": json.RawMessage(`"x"`)})
	var se *SchemaError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "count", se.Field)

	_, err = chatSchema().Restore(map[string]any{"count": 1.5})
	require.ErrorAs(t, err, &se)
}

func TestNewSchema_Panics(t *testing.T) {
	assert.Panics(t, func() {
		NewSchema(ReplaceField[int]("a"), AppendField[string]("a"))
	})
	assert.Panics(t, func() {
		NewSchema(ReplaceField[int](""))
	})
}

func TestSchema_Names(t *testing.T) {
	s := chatSchema()
	assert.Equal(t, []string{"messages", "ask_human", "count"}, s.Names())

	f, ok := s.Field("count")
	require.True(t, ok)
	assert.Equal(t, "count", f.Name())

	_, ok = s.Field("nope")
	assert.False(t, ok)
}

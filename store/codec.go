package store

import (
	"encoding/json"
	"fmt"
)

// EncodeValues marshals checkpoint values for durable backends.
func EncodeValues(values map[string]any) ([]byte, error) {
	if values == nil {
		values = map[string]any{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal values: %w", err)
	}
	return data, nil
}

// DecodeValues unmarshals values written by EncodeValues. Each value is left as a
// json.RawMessage; the graph schema turns it back into the declared Go type.
func DecodeValues(data []byte) (map[string]any, error) {
	raw := map[string]json.RawMessage{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to unmarshal values: %w", err)
		}
	}
	values := make(map[string]any, len(raw))
	for k, v := range raw {
		values[k] = v
	}
	return values, nil
}

// EncodeMetadata marshals checkpoint metadata; nil metadata encodes as nil.
func EncodeMetadata(metadata map[string]any) ([]byte, error) {
	if len(metadata) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return data, nil
}

// DecodeMetadata unmarshals metadata written by EncodeMetadata.
func DecodeMetadata(data []byte) (map[string]any, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var metadata map[string]any
	if err := json.Unmarshal(data, &metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return metadata, nil
}

// EncodeNext marshals the pending node list.
func EncodeNext(next []string) ([]byte, error) {
	if next == nil {
		next = []string{}
	}
	data, err := json.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal next: %w", err)
	}
	return data, nil
}

// DecodeNext unmarshals the pending node list.
func DecodeNext(data []byte) ([]string, error) {
	next := []string{}
	if len(data) == 0 {
		return next, nil
	}
	if err := json.Unmarshal(data, &next); err != nil {
		return nil, fmt.Errorf("failed to unmarshal next: %w", err)
	}
	return next, nil
}

// MarshalCheckpoint encodes a whole checkpoint as one JSON document.
func MarshalCheckpoint(cp *Checkpoint) ([]byte, error) {
	data, err := json.Marshal(cp)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	return data, nil
}

// UnmarshalCheckpoint decodes a document written by MarshalCheckpoint. Values are
// left as json.RawMessage, like DecodeValues.
func UnmarshalCheckpoint(data []byte) (*Checkpoint, error) {
	var wire struct {
		Checkpoint
		Values map[string]json.RawMessage `json:"values"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	cp := wire.Checkpoint
	cp.Values = make(map[string]any, len(wire.Values))
	for k, v := range wire.Values {
		cp.Values[k] = v
	}
	if cp.Next == nil {
		cp.Next = []string{}
	}
	return &cp, nil
}

package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MarshalCollection encodes the full lead collection. A nil collection encodes as [].
func MarshalCollection(entities []TrackedEntity) ([]byte, error) {
	if entities == nil {
		entities = []TrackedEntity{}
	}
	return json.Marshal(entities)
}

// UnmarshalCollection decodes a collection written by MarshalCollection or by
// the browser export. Empty input yields an empty, non-nil collection.
func UnmarshalCollection(data []byte) ([]TrackedEntity, error) {
	out := []TrackedEntity{}
	if len(bytes.TrimSpace(data)) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode collection: %w", err)
	}
	if out == nil {
		out = []TrackedEntity{}
	}
	return out, nil
}

// ValidateCollection checks every entity and rejects duplicate ids or threads.
func ValidateCollection(entities []TrackedEntity) error {
	ids := make(map[string]struct{}, len(entities))
	threads := make(map[string]struct{})
	for i, e := range entities {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("entity %d: %w", i, err)
		}
		if _, dup := ids[e.ID]; dup {
			return fmt.Errorf("entity %d: %w", i, &ValidationError{Field: "id", Reason: "duplicate " + e.ID})
		}
		ids[e.ID] = struct{}{}
		if e.ThreadID == "" {
			continue
		}
		if _, dup := threads[e.ThreadID]; dup {
			return fmt.Errorf("entity %d: %w", i, &ValidationError{Field: "threadId", Reason: "duplicate " + e.ThreadID})
		}
		threads[e.ThreadID] = struct{}{}
	}
	return nil
}

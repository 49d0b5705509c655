package documents

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const idField = "id"

// ErrInvalidPayload indicates that a document payload is not a JSON object.
var ErrInvalidPayload = errors.New("documents: payload must be a JSON object")

// Record is a stored document: its id and its JSON object payload without the id field.
type Record struct {
	ID      string
	Payload json.RawMessage
}

// Object returns the payload with the id merged in as the "id" field.
func (r Record) Object() (json.RawMessage, error) {
	fields, err := decodeObject(r.Payload)
	if err != nil {
		return nil, err
	}
	encodedID, err := json.Marshal(r.ID)
	if err != nil {
		return nil, err
	}
	fields[idField] = encodedID
	return json.Marshal(fields)
}

// RecordFromObject splits a JSON object carrying an "id" field into a Record.
func RecordFromObject(raw json.RawMessage) (Record, error) {
	fields, err := decodeObject(raw)
	if err != nil {
		return Record{}, err
	}
	var id string
	if encodedID, ok := fields[idField]; ok {
		if err := json.Unmarshal(encodedID, &id); err != nil {
			return Record{}, fmt.Errorf("%w: id is not a string", ErrInvalidPayload)
		}
	}
	if strings.TrimSpace(id) == "" {
		return Record{}, fmt.Errorf("%w: missing id", ErrInvalidPayload)
	}
	delete(fields, idField)
	payload, err := json.Marshal(fields)
	if err != nil {
		return Record{}, err
	}
	return Record{ID: id, Payload: payload}, nil
}

// EncodePayload marshals value and strips any id field, producing a storable payload.
func EncodePayload(value any) (json.RawMessage, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return normalizePayload(encoded)
}

// DecodeRecord decodes a record into T with the record id placed in the "id" field.
func DecodeRecord[T any](record Record) (T, error) {
	var value T
	object, err := record.Object()
	if err != nil {
		return value, err
	}
	if err := json.Unmarshal(object, &value); err != nil {
		return value, fmt.Errorf("documents: decode %s: %w", record.ID, err)
	}
	return value, nil
}

// DecodeRecords decodes every record into T, failing on the first undecodable record.
func DecodeRecords[T any](records []Record) ([]T, error) {
	values := make([]T, 0, len(records))
	for _, record := range records {
		value, err := DecodeRecord[T](record)
		if err != nil {
			return nil, err
		}
		values = append(values, value)
	}
	return values, nil
}

func normalizePayload(raw json.RawMessage) (json.RawMessage, error) {
	fields, err := decodeObject(raw)
	if err != nil {
		return nil, err
	}
	delete(fields, idField)
	return json.Marshal(fields)
}

func decodeObject(raw json.RawMessage) (map[string]json.RawMessage, error) {
	if len(raw) == 0 {
		return map[string]json.RawMessage{}, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: null", ErrInvalidPayload)
	}
	return fields, nil
}

package documents

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleDisc struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func TestEncodePayloadStripsID(t *testing.T) {
	payload, err := EncodePayload(sampleDisc{ID: "d1", Name: "Firebird"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Firebird"}`, string(payload))
}

func TestEncodePayloadRejectsNonObjects(t *testing.T) {
	_, err := EncodePayload([]int{1})
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestDecodeRecordsPlacesIdentifier(t *testing.T) {
	discs, err := DecodeRecords[sampleDisc]([]Record{
		{ID: "d1", Payload: json.RawMessage(`{"name":"Firebird"}`)},
		{ID: "d2", Payload: json.RawMessage(`{"name":"Envy","id":"stale"}`)},
	})
	require.NoError(t, err)
	assert.Equal(t, []sampleDisc{{ID: "d1", Name: "Firebird"}, {ID: "d2", Name: "Envy"}}, discs)
}

func TestRecordFromObject(t *testing.T) {
	record, err := RecordFromObject(json.RawMessage(`{"id":"t1","name":"Chains"}`))
	require.NoError(t, err)
	assert.Equal(t, "t1", record.ID)
	assert.JSONEq(t, `{"name":"Chains"}`, string(record.Payload))

	_, err = RecordFromObject(json.RawMessage(`{"name":"Chains"}`))
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = RecordFromObject(json.RawMessage(`null`))
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

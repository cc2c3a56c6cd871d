package event

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/launchthat/openclaw-connector/pkg/types"
)

func TestParse_DerivesIdempotencyKeyAndMetadata(t *testing.T) {
	ev, err := Parse([]byte(`{"eventId":"e-1","eventType":"task_started","occurredAt":1700000000000}`))
	require.NoError(t, err)

	assert.Equal(t, "task_started:e-1:1700000000000", ev.IdempotencyKey)
	assert.NotNil(t, ev.Metadata)
	assert.Empty(t, ev.Metadata)
	assert.Equal(t, types.EventTaskStarted, ev.EventType)
	assert.Equal(t, int64(1700000000000), ev.OccurredAt)
}

func TestParse_KeepsSuppliedKey(t *testing.T) {
	ev, err := Parse([]byte(`{"eventId":"e-1","eventType":"room_updated","occurredAt":5,"idempotencyKey":"custom","metadata":{"a":"b"}}`))
	require.NoError(t, err)

	assert.Equal(t, "custom", ev.IdempotencyKey)
	assert.Equal(t, map[string]string{"a": "b"}, ev.Metadata)
}

func TestParse_KeepsExplicitEmptyKey(t *testing.T) {
	ev, err := Parse([]byte(`{"eventId":"e-1","eventType":"task_started","occurredAt":5,"idempotencyKey":""}`))
	require.NoError(t, err)
	assert.Equal(t, "", ev.IdempotencyKey)

	// The empty key survives a snapshot round trip.
	raw, err := json.Marshal(ev)
	require.NoError(t, err)
	again, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "", again.IdempotencyKey)
}

func TestParse_TypedPayloads(t *testing.T) {
	raw := `{
		"eventId":"e-2","eventType":"agent_moved_room","occurredAt":10,
		"agent":{"agentId":"a-1","name":"Ada","status":"meeting","roomId":"r-1"},
		"room":{"roomId":"r-1","name":"War room","occupancyCount":3}
	}`
	ev, err := Parse([]byte(raw))
	require.NoError(t, err)

	require.NotNil(t, ev.Agent)
	assert.Equal(t, "meeting", ev.Agent.Status)
	require.NotNil(t, ev.Room)
	require.NotNil(t, ev.Room.OccupancyCount)
	assert.Equal(t, 3, *ev.Room.OccupancyCount)
	assert.Nil(t, ev.Task)
}

func TestParse_IgnoresUnknownProperties(t *testing.T) {
	ev, err := Parse([]byte(`{"eventId":"e","eventType":"task_completed","occurredAt":1,"extra":true}`))
	require.NoError(t, err)
	assert.Equal(t, "e", ev.EventID)
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		field string
	}{
		{"unknown type", `{"eventId":"e","eventType":"bogus","occurredAt":1}`, "/eventType"},
		{"fractional time", `{"eventId":"e","eventType":"task_started","occurredAt":1.5}`, "/occurredAt"},
		{"string time", `{"eventId":"e","eventType":"task_started","occurredAt":"1"}`, "/occurredAt"},
		{"missing id", `{"eventType":"task_started","occurredAt":1}`, "/eventId"},
		{"bad agent status", `{"eventId":"e","eventType":"agent_status_changed","occurredAt":1,"agent":{"agentId":"a","name":"n","status":"asleep"}}`, "/agent/status"},
		{"agent missing name", `{"eventId":"e","eventType":"agent_status_changed","occurredAt":1,"agent":{"agentId":"a"}}`, "/agent/name"},
		{"bad task status", `{"eventId":"e","eventType":"task_started","occurredAt":1,"task":{"taskId":"t","title":"x","status":"paused"}}`, "/task/status"},
		{"nested metadata", `{"eventId":"e","eventType":"task_started","occurredAt":1,"metadata":{"a":{"b":"c"}}}`, "/metadata/a"},
		{"numeric metadata", `{"eventId":"e","eventType":"task_started","occurredAt":1,"metadata":{"a":1}}`, "/metadata/a"},
		{"not an object", `[1,2]`, "/"},
		{"malformed", `{"eventId":`, "/"},
		{"trailing data", `{"eventId":"e","eventType":"task_started","occurredAt":1} {"x":1}`, "/"},
		{"trailing garbage", `{"eventId":"e","eventType":"task_started","occurredAt":1}x`, "/"},
		{"fractional occupancy", `{"eventId":"e","eventType":"room_updated","occurredAt":1,"room":{"roomId":"r","name":"n","occupancyCount":2.0}}`, "/room/occupancyCount"},
		{"time beyond int64", `{"eventId":"e","eventType":"task_started","occurredAt":99999999999999999999}`, "/occurredAt"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.raw))
			require.Error(t, err)

			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tc.field, ve.Field)
			assert.True(t, IsValidationError(err))
		})
	}
}

func TestIdempotencyKey_Deterministic(t *testing.T) {
	a := IdempotencyKey(types.EventTaskCompleted, "id", -42)
	b := IdempotencyKey(types.EventTaskCompleted, "id", -42)
	assert.Equal(t, a, b)
	assert.Equal(t, "task_completed:id:-42", a)
	assert.NotEqual(t, a, IdempotencyKey(types.EventTaskStarted, "id", -42))
}

func TestNormalize(t *testing.T) {
	ev, err := Normalize(types.Event{
		EventID:    "e-9",
		EventType:  types.EventRoomUpdated,
		OccurredAt: 99,
		Room:       &types.RoomPayload{RoomID: "r", Name: "Lobby"},
	})
	require.NoError(t, err)
	assert.Equal(t, "room_updated:e-9:99", ev.IdempotencyKey)

	_, err = Normalize(types.Event{EventID: "e", EventType: "nope", OccurredAt: 1})
	assert.True(t, IsValidationError(err))
}

func TestRecords(t *testing.T) {
	single, err := Records([]byte(` {"eventId":"a"} `))
	require.NoError(t, err)
	assert.Len(t, single, 1)

	list, err := Records([]byte(`[{"eventId":"a"},{"eventId":"b"}]`))
	require.NoError(t, err)
	assert.Len(t, list, 2)

	env, err := Records([]byte(`{"events":[{"eventId":"a"},{"eventId":"b"},{"eventId":"c"}]}`))
	require.NoError(t, err)
	assert.Len(t, env, 3)

	_, err = Records([]byte("  "))
	assert.True(t, IsValidationError(err))
}

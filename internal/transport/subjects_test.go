package transport

import (
	"encoding/json"
	"testing"

	"github.com/dosco/livequery/internal/snapshot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubjectSubIDFromSuffixExtractsMiddleSegment(t *testing.T) {
	id, ok := subjectSubIDFromSuffix("livequery", "livequery.abc-123.subscribe", "subscribe")
	require.True(t, ok)
	assert.Equal(t, "abc-123", id)
}

func TestSubjectSubIDFromSuffixRejectsWrongPrefix(t *testing.T) {
	_, ok := subjectSubIDFromSuffix("livequery", "other.abc.subscribe", "subscribe")
	assert.False(t, ok)
}

func TestSubjectSubIDFromSuffixRejectsEmptyID(t *testing.T) {
	_, ok := subjectSubIDFromSuffix("livequery", "livequery..subscribe", "subscribe")
	assert.False(t, ok)
}

func TestSubjectSubIDFromSuffixRejectsWrongTail(t *testing.T) {
	_, ok := subjectSubIDFromSuffix("livequery", "livequery.abc.heartbeat", "subscribe")
	assert.False(t, ok)
}

func TestEventsSubjectShape(t *testing.T) {
	assert.Equal(t, "livequery.abc.events", eventsSubject("livequery", "abc"))
}

func TestWildcardSubjectShapes(t *testing.T) {
	assert.Equal(t, "livequery.*.subscribe", subscribeWildcard("livequery"))
	assert.Equal(t, "livequery.*.unsubscribe", unsubscribeWildcard("livequery"))
	assert.Equal(t, "livequery.*.heartbeat", heartbeatWildcard("livequery"))
	assert.Equal(t, "livequery.health", healthSubject("livequery"))
}

func TestModeWireRoundTrip(t *testing.T) {
	assert.Equal(t, "events", modeToWire(snapshot.ModeEvents))
	assert.Equal(t, "snapshot", modeToWire(snapshot.ModeSnapshot))
	assert.Equal(t, snapshot.ModeEvents, modeFromWire("events"))
	assert.Equal(t, snapshot.ModeSnapshot, modeFromWire("snapshot"))
	assert.Equal(t, snapshot.ModeEvents, modeFromWire(""))
}

func TestEventsPayloadMarshalShape(t *testing.T) {
	p := snapshot.Batch{Seq: 3, Ts: 1000, Events: []snapshot.Event{{Timestamp: 1000, Diff: 1, Data: map[string]any{"id": 1.0}}}}
	b, err := json.Marshal(p)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, float64(3), decoded["seq"])
	events := decoded["events"].([]any)
	require.Len(t, events, 1)
	ev := events[0].(map[string]any)
	assert.Equal(t, float64(1), ev["mz_diff"])
}

func TestSubscribeResponseOmitsEmptyFields(t *testing.T) {
	b, err := json.Marshal(subscribeResponse{Success: true, SubscriptionID: "s1", Subject: "livequery.s1.events", IsNew: true})
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(b, &decoded))
	_, hasRows := decoded["rows"]
	assert.False(t, hasRows)
	_, hasError := decoded["error"]
	assert.False(t, hasError)
}

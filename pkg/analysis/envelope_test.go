package analysis

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEnvelopeSummary(t *testing.T) {
	body := []byte(`{
		"data": {"summary": "Planned the garden bed rotation."},
		"model": "memoflow-cloud-v3",
		"tokens": {"input": 412, "output": 36},
		"latency_ms": 2210
	}`)

	env, err := DecodeEnvelope(ModeSummary, body)
	require.NoError(t, err)
	assert.Equal(t, ModeSummary, env.Mode)
	assert.Equal(t, KindSummary, env.Result.Kind)
	require.NotNil(t, env.Result.Summary)
	assert.Equal(t, "Planned the garden bed rotation.", env.Result.Summary.Summary)
	assert.Equal(t, 412, env.Tokens.Input)
	assert.Equal(t, 36, env.Tokens.Output)
	assert.Equal(t, int64(2210), env.LatencyMS)
	assert.Nil(t, env.Moderation)
}

func TestDecodeEnvelopeEventsISODates(t *testing.T) {
	body := []byte(`{
		"data": {"events": [
			{"title": "Dentist", "date": "2026-09-03T14:30:00Z"},
			{"title": "Team offsite", "date": "2026-09-10T09:00:00Z", "notes": "bring laptop"}
		]},
		"model": "memoflow-cloud-v3",
		"tokens": {"input": 300, "output": 52},
		"latency_ms": 1840
	}`)

	env, err := DecodeEnvelope(ModeEvents, body)
	require.NoError(t, err)
	require.NotNil(t, env.Result.Events)
	require.Len(t, env.Result.Events.Events, 2)
	first := env.Result.Events.Events[0]
	assert.Equal(t, "Dentist", first.Title)
	assert.Equal(t, time.Date(2026, 9, 3, 14, 30, 0, 0, time.UTC), first.Date)
	assert.Equal(t, "bring laptop", env.Result.Events.Events[1].Notes)
}

func TestDecodeEnvelopeDistill(t *testing.T) {
	body := []byte(`{
		"data": {
			"summary": "Weekly review of project blockers.",
			"action_items": ["email the vendor", "book the room"],
			"key_themes": ["delegation", "time pressure"],
			"reflection_questions": ["What could you hand off this week?"],
			"personal_insight": "You default to taking on work yourself.",
			"closing_note": "Small handoffs compound."
		},
		"model": "memoflow-cloud-v3",
		"tokens": {"input": 980, "output": 240},
		"latency_ms": 6100,
		"moderation": {"flagged": false}
	}`)

	env, err := DecodeEnvelope(ModeDistill, body)
	require.NoError(t, err)
	require.NotNil(t, env.Result.Distill)
	d := env.Result.Distill
	assert.Equal(t, []string{"email the vendor", "book the room"}, d.ActionItems)
	assert.Equal(t, []string{"delegation", "time pressure"}, d.KeyThemes)
	require.NotNil(t, env.Moderation)
	assert.False(t, env.Moderation.Flagged)
}

func TestDecodeEnvelopeMalformed(t *testing.T) {
	_, err := DecodeEnvelope(ModeSummary, []byte(`{"data": 17`))
	require.Error(t, err)
	ae, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, ErrCodeDecoding, ae.Code)
	assert.Contains(t, ae.Details, "body")
}

func TestEnvelopeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		mode Mode
		data string
	}{
		{"lite distill", ModeLiteDistill, `{"summary":"s","action_items":["a"]}`},
		{"themes", ModeThemes, `{"themes":["focus","rest"]}`},
		{"clarity", ModeCognitiveClarity, `{"patterns":["catastrophizing"],"reframe":"Name the actual worst case."}`},
		{"echoes", ModePhilosophicalEchoes, `{"echoes":[{"thinker":"Seneca","idea":"premeditatio malorum","connection":"rehearsing setbacks"}]}`},
		{"values", ModeValuesRecognition, `{"values":["autonomy"],"insight":"You protect unstructured time."}`},
		{"reminders", ModeReminders, `{"reminders":[{"title":"renew passport","due":"2026-10-01T00:00:00Z"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := []byte(`{"data":` + tt.data + `,"model":"m","tokens":{"input":1,"output":2},"latency_ms":3}`)
			env, err := DecodeEnvelope(tt.mode, body)
			require.NoError(t, err)

			out, err := EncodeEnvelope(env)
			require.NoError(t, err)

			again, err := DecodeEnvelope(tt.mode, out)
			require.NoError(t, err)
			assert.Equal(t, env.Result, again.Result)
			assert.Equal(t, env.Tokens, again.Tokens)
		})
	}
}

func TestResultPayloadMatchesKind(t *testing.T) {
	r, err := DecodeResult(ModeActions, json.RawMessage(`{"items":["x"]}`))
	require.NoError(t, err)
	payload, ok := r.Payload().(*ActionsData)
	require.True(t, ok)
	assert.Equal(t, []string{"x"}, payload.Items)
}

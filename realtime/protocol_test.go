package realtime

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageWireForm(t *testing.T) {
	msg := Message{
		JoinRef: "1",
		Ref:     "2",
		Topic:   "user:lobby",
		Event:   EventJoin,
		Payload: json.RawMessage(`{"foo":"bar"}`),
	}

	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `["1","2","user:lobby","phx_join",{"foo":"bar"}]`, string(data))

	var back Message
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, msg.JoinRef, back.JoinRef)
	assert.Equal(t, msg.Topic, back.Topic)
	assert.Equal(t, msg.Event, back.Event)
	assert.JSONEq(t, `{"foo":"bar"}`, string(back.Payload))
}

func TestMessageNullRefs(t *testing.T) {
	// Server-pushed events carry null refs.
	var msg Message
	require.NoError(t, json.Unmarshal(
		[]byte(`[null,null,"user:lobby","new_notification",{"message":"hi"}]`), &msg))
	assert.Empty(t, msg.JoinRef)
	assert.Empty(t, msg.Ref)
	assert.Equal(t, "new_notification", msg.Event)

	data, err := json.Marshal(Message{Topic: "user:lobby", Event: "new_notification"})
	require.NoError(t, err)
	assert.JSONEq(t, `[null,null,"user:lobby","new_notification",{}]`, string(data))
}

func TestMessageRejectsMalformedFrames(t *testing.T) {
	for _, raw := range []string{
		`{"topic":"user:lobby"}`,
		`["1","2","topic","event"]`,
		`["1","2","topic","event",{},"extra"]`,
		`[1,"2",3,"event",{}]`,
	} {
		var msg Message
		assert.Error(t, json.Unmarshal([]byte(raw), &msg), "frame %s", raw)
	}
}

func TestParseReply(t *testing.T) {
	r, err := ParseReply(json.RawMessage(`{"status":"ok","response":{"id":1}}`))
	require.NoError(t, err)
	assert.True(t, r.OK())
	assert.JSONEq(t, `{"id":1}`, string(r.Response))

	r, err = ParseReply(json.RawMessage(`{"status":"error","response":{"reason":"unauthorized"}}`))
	require.NoError(t, err)
	assert.False(t, r.OK())

	_, err = ParseReply(json.RawMessage(`nope`))
	assert.Error(t, err)
}

package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageType(t *testing.T) {
	for _, mt := range AllMessageTypes {
		assert.True(t, mt.Valid(), mt)
	}
	assert.False(t, MessageType("FOCUS").Valid())
	assert.False(t, MessageType("").Valid())

	assert.True(t, MessageUpdatePosition.HighFrequency())
	assert.True(t, MessageUpdateSize.HighFrequency())
	assert.False(t, MessageCreate.HighFrequency())
	assert.False(t, MessageSolo.HighFrequency())
	assert.Equal(t, "MINIMIZE", MessageMinimize.String())
}

func TestSyncMessage_Validate(t *testing.T) {
	valid := func() *SyncMessage {
		return &SyncMessage{
			Type:     MessageClose,
			Payload:  json.RawMessage(`{"id":"qt-1"}`),
			SenderID: "sender-a",
			Sequence: 1,
		}
	}
	require.NoError(t, valid().Validate())

	var nilMsg *SyncMessage
	assert.ErrorIs(t, nilMsg.Validate(), ErrMalformedMessage)

	tests := []struct {
		name   string
		mutate func(m *SyncMessage)
		want   error
	}{
		{"no sender", func(m *SyncMessage) { m.SenderID = "" }, ErrMalformedMessage},
		{"zero sequence", func(m *SyncMessage) { m.Sequence = 0 }, ErrMalformedMessage},
		{"no payload", func(m *SyncMessage) { m.Payload = nil }, ErrMalformedMessage},
		{"no type", func(m *SyncMessage) { m.Type = "" }, ErrMalformedMessage},
		{"unknown type", func(m *SyncMessage) { m.Type = "FOCUS" }, ErrUnknownMessageType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := valid()
			tt.mutate(m)
			assert.ErrorIs(t, m.Validate(), tt.want)
		})
	}
}

func TestEncodeDecodeMessage(t *testing.T) {
	payload, err := json.Marshal(PositionPayload{ID: "qt-7", Left: 5, Top: 6})
	require.NoError(t, err)
	data, err := EncodeMessage(&SyncMessage{
		Type:        MessageUpdatePosition,
		Payload:     payload,
		SenderID:    "sender-a",
		Sequence:    42,
		ContainerID: "work",
	})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"senderId":"sender-a"`)
	assert.NotContains(t, string(data), "timestamp")

	m, err := DecodeMessage(data)
	require.NoError(t, err)
	assert.Equal(t, "qt-7", m.OverlayID())
	assert.Equal(t, "work", m.ContainerID)

	var pos PositionPayload
	require.NoError(t, m.DecodePayload(&pos))
	assert.Equal(t, PositionPayload{ID: "qt-7", Left: 5, Top: 6}, pos)
	assert.ErrorIs(t, m.DecodePayload(&[]int{}), ErrMalformedMessage)
}

func TestDecodeMessage_Rejects(t *testing.T) {
	_, err := DecodeMessage([]byte("not json"))
	assert.ErrorIs(t, err, ErrMalformedMessage)

	_, err = DecodeMessage([]byte(`{"type":"CREATE","senderId":"a","sequence":1}`))
	assert.ErrorIs(t, err, ErrMalformedMessage)

	_, err = DecodeMessage([]byte(`{"type":"DRAG","senderId":"a","sequence":1,"payload":{}}`))
	assert.ErrorIs(t, err, ErrUnknownMessageType)
}

func TestSyncMessage_OverlayIDFromCreatePayload(t *testing.T) {
	payload, err := json.Marshal(sampleOverlay())
	require.NoError(t, err)
	m := &SyncMessage{Type: MessageCreate, Payload: payload}
	assert.Equal(t, "qt-0-1a2b3c4d", m.OverlayID())

	m.Payload = json.RawMessage(`[1,2]`)
	assert.Empty(t, m.OverlayID())
}

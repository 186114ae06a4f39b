package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frame(event, payload string) Frame {
	f := Frame{Event: event}
	if payload != "" {
		f.Payload = json.RawMessage(payload)
	}
	return f
}

func TestParseEvent(t *testing.T) {
	tests := []struct {
		name string
		in   Frame
		want Inbound
	}{
		{
			name: "setup",
			in:   frame(EventSetup, `{"_id":"u1","name":"Alice"}`),
			want: Setup{UserID: "u1"},
		},
		{
			name: "join chat",
			in:   frame(EventJoinChat, `"c1"`),
			want: JoinChat{RoomID: "c1"},
		},
		{
			name: "typing",
			in:   frame(EventTyping, `"c1"`),
			want: Typing{RoomID: "c1", Payload: json.RawMessage(`"c1"`)},
		},
		{
			name: "stop typing",
			in:   frame(EventStopTyping, `"c1"`),
			want: StopTyping{RoomID: "c1", Payload: json.RawMessage(`"c1"`)},
		},
		{
			name: "messages read",
			in:   frame(EventMessagesRead, `{"chatId":"c1","userId":"u2"}`),
			want: MessagesRead{
				ChatID:  "c1",
				UserID:  "u2",
				Payload: json.RawMessage(`{"chatId":"c1","userId":"u2"}`),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseEvent(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.in.Event, got.EventName())
		})
	}
}

func TestParseEvent_NewMessage(t *testing.T) {
	payload := `{
		"_id": "m1",
		"content": "hi",
		"sender": {"_id": "u1", "name": "Alice"},
		"chat": {"_id": "c1", "users": [{"_id": "u1"}, "u2", {"_id": "u3"}, "u2"]}
	}`
	got, err := ParseEvent(frame(EventNewMessage, payload))
	require.NoError(t, err)

	msg, ok := got.(NewMessage)
	require.True(t, ok)
	assert.Equal(t, "u1", msg.SenderID)
	assert.Equal(t, []string{"u1", "u2", "u3"}, msg.Participants)
	assert.JSONEq(t, payload, string(msg.Payload))
}

func TestParseEvent_NewMessageSkipsUsersWithoutID(t *testing.T) {
	payload := `{"sender":{"_id":"u1"},"chat":{"users":[{"name":"Bob"},"u1","",{"_id":"u3"}]}}`
	got, err := ParseEvent(frame(EventNewMessage, payload))
	require.NoError(t, err)

	msg, ok := got.(NewMessage)
	require.True(t, ok)
	assert.Equal(t, []string{"u1", "u3"}, msg.Participants)
	assert.Equal(t, 2, msg.Skipped)
}

func TestParseEvent_NoParticipants(t *testing.T) {
	payloads := map[string]string{
		"no chat":        `{"sender":{"_id":"u1"}}`,
		"no users":       `{"sender":{"_id":"u1"},"chat":{"_id":"c1"}}`,
		"null users":     `{"sender":{"_id":"u1"},"chat":{"users":null}}`,
		"users not list": `{"sender":{"_id":"u1"},"chat":{"users":"u2"}}`,
		"user not an id": `{"sender":{"_id":"u1"},"chat":{"users":[42]}}`,
	}
	for name, payload := range payloads {
		t.Run(name, func(t *testing.T) {
			_, err := ParseEvent(frame(EventNewMessage, payload))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrNoParticipants)
			assert.ErrorIs(t, err, ErrMalformedPayload)
		})
	}
}

func TestParseEvent_Malformed(t *testing.T) {
	tests := []struct {
		name string
		in   Frame
	}{
		{"setup without payload", frame(EventSetup, "")},
		{"setup without id", frame(EventSetup, `{"name":"Alice"}`)},
		{"setup with numeric id", frame(EventSetup, `{"_id":42}`)},
		{"join chat with object", frame(EventJoinChat, `{"room":"c1"}`)},
		{"join chat with empty room", frame(EventJoinChat, `""`)},
		{"typing with null", frame(EventTyping, `null`)},
		{"stop typing without payload", frame(EventStopTyping, "")},
		{"new message without sender", frame(EventNewMessage, `{"chat":{"users":["u1"]}}`)},
		{"new message not an object", frame(EventNewMessage, `[1,2]`)},
		{"messages read without chat", frame(EventMessagesRead, `{"userId":"u2"}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseEvent(tt.in)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformedPayload)
			assert.NotErrorIs(t, err, ErrUnknownEvent)
		})
	}
}

func TestParseEvent_Unknown(t *testing.T) {
	_, err := ParseEvent(frame("leave chat", `"c1"`))
	assert.ErrorIs(t, err, ErrUnknownEvent)
}

func TestNewFrame(t *testing.T) {
	f, err := NewFrame(EventConnected, nil)
	require.NoError(t, err)
	assert.Equal(t, Frame{Event: EventConnected}, f)

	raw := json.RawMessage(`"c1"`)
	f, err = NewFrame(EventTyping, raw)
	require.NoError(t, err)
	assert.Equal(t, raw, f.Payload)

	f, err = NewFrame(EventMessagesMarkedRead, map[string]string{"chatId": "c1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"chatId":"c1"}`, string(f.Payload))

	b, err := json.Marshal(Frame{Event: EventConnected})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"connected"}`, string(b))
}

func TestChatHasUser(t *testing.T) {
	chat := &Chat{Users: []User{{ID: "u1"}, {ID: "u2"}}}
	assert.True(t, chat.HasUser("u2"))
	assert.False(t, chat.HasUser("u3"))
}

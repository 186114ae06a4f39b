package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Inbound event names (client -> server).
const (
	EventSetup        = "setup"
	EventJoinChat     = "join chat"
	EventTyping       = "typing"
	EventStopTyping   = "stop typing"
	EventNewMessage   = "new message"
	EventMessagesRead = "messages read"
)

// Outbound event names (server -> client).
const (
	EventConnected          = "connected"
	EventMessageReceived    = "message received"
	EventMessagesMarkedRead = "messages updated as read"
)

var (
	ErrUnknownEvent     = errors.New("unknown event")
	ErrMalformedPayload = errors.New("malformed payload")
	ErrNoParticipants   = errors.New("chat participants are not defined")
)

// Inbound is one of the closed set of events a client may send.
type Inbound interface {
	EventName() string
}

type (
	Setup struct {
		UserID string
	}

	JoinChat struct {
		RoomID string
	}

	Typing struct {
		RoomID  string
		Payload json.RawMessage
	}

	StopTyping struct {
		RoomID  string
		Payload json.RawMessage
	}

	// NewMessage keeps the original payload so that it is relayed untouched.
	// Skipped counts participant entries that carried no id.
	NewMessage struct {
		SenderID     string
		Participants []string
		Skipped      int
		Payload      json.RawMessage
	}

	MessagesRead struct {
		ChatID  string
		UserID  string
		Payload json.RawMessage
	}
)

func (Setup) EventName() string        { return EventSetup }
func (JoinChat) EventName() string     { return EventJoinChat }
func (Typing) EventName() string       { return EventTyping }
func (StopTyping) EventName() string   { return EventStopTyping }
func (NewMessage) EventName() string   { return EventNewMessage }
func (MessagesRead) EventName() string { return EventMessagesRead }

// Ref is a reference to a record that may arrive either as a bare id
// string or as a populated object carrying "_id".
type Ref struct {
	ID string
}

func (r *Ref) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		r.ID = s
		return nil
	}
	var obj struct {
		ID string `json:"_id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	r.ID = obj.ID
	return nil
}

// ParseEvent validates a frame and converts it to its typed variant.
func ParseEvent(f Frame) (Inbound, error) {
	switch f.Event {
	case EventSetup:
		var ref Ref
		if err := decode(f.Payload, &ref); err != nil {
			return nil, err
		}
		if ref.ID == "" {
			return nil, malformed(f.Event, "missing _id")
		}
		return Setup{UserID: ref.ID}, nil

	case EventJoinChat:
		room, err := parseRoomID(f)
		if err != nil {
			return nil, err
		}
		return JoinChat{RoomID: room}, nil

	case EventTyping:
		room, err := parseRoomID(f)
		if err != nil {
			return nil, err
		}
		return Typing{RoomID: room, Payload: f.Payload}, nil

	case EventStopTyping:
		room, err := parseRoomID(f)
		if err != nil {
			return nil, err
		}
		return StopTyping{RoomID: room, Payload: f.Payload}, nil

	case EventNewMessage:
		return parseNewMessage(f)

	case EventMessagesRead:
		var body struct {
			ChatID string `json:"chatId"`
			UserID string `json:"userId"`
		}
		if err := decode(f.Payload, &body); err != nil {
			return nil, err
		}
		if body.ChatID == "" {
			return nil, malformed(f.Event, "missing chatId")
		}
		return MessagesRead{ChatID: body.ChatID, UserID: body.UserID, Payload: f.Payload}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, f.Event)
}

func parseRoomID(f Frame) (string, error) {
	var room string
	if err := decode(f.Payload, &room); err != nil {
		return "", err
	}
	if room == "" {
		return "", malformed(f.Event, "empty room id")
	}
	return room, nil
}

func parseNewMessage(f Frame) (Inbound, error) {
	var body struct {
		Chat *struct {
			Users json.RawMessage `json:"users"`
		} `json:"chat"`
		Sender *Ref `json:"sender"`
	}
	if err := decode(f.Payload, &body); err != nil {
		return nil, err
	}
	if body.Sender == nil || body.Sender.ID == "" {
		return nil, malformed(f.Event, "missing sender")
	}
	if body.Chat == nil || isNull(body.Chat.Users) {
		return nil, errors.Join(ErrMalformedPayload, ErrNoParticipants)
	}
	var refs []Ref
	if err := json.Unmarshal(body.Chat.Users, &refs); err != nil {
		return nil, errors.Join(ErrMalformedPayload, ErrNoParticipants, err)
	}

	var (
		skipped      int
		seen         = make(map[string]struct{}, len(refs))
		participants = make([]string, 0, len(refs))
	)
	for _, ref := range refs {
		if ref.ID == "" {
			skipped++
			continue
		}
		if _, ok := seen[ref.ID]; ok {
			continue
		}
		seen[ref.ID] = struct{}{}
		participants = append(participants, ref.ID)
	}
	return NewMessage{
		SenderID:     body.Sender.ID,
		Participants: participants,
		Skipped:      skipped,
		Payload:      f.Payload,
	}, nil
}

func decode(payload json.RawMessage, v any) error {
	if isNull(payload) {
		return errors.Join(ErrMalformedPayload, errors.New("empty payload"))
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return errors.Join(ErrMalformedPayload, err)
	}
	return nil
}

func isNull(b json.RawMessage) bool {
	b = bytes.TrimSpace(b)
	return len(b) == 0 || bytes.Equal(b, []byte("null"))
}

func malformed(event, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrMalformedPayload, event, reason)
}

// NewFrame builds an outbound frame, marshalling payload unless it is
// already raw JSON. A nil payload produces a frame without payload.
func NewFrame(event string, payload any) (Frame, error) {
	switch p := payload.(type) {
	case nil:
		return Frame{Event: event}, nil
	case json.RawMessage:
		return Frame{Event: event, Payload: p}, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Event: event, Payload: b}, nil
}

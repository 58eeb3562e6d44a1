package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Names the kind of event carried by an envelope
type EventType string

const (
	// Client to service
	EventJoinRoom  EventType = "join-room"
	EventLeaveRoom EventType = "leave-room"

	// Both directions: buffer replacement inbound, new buffer outbound
	EventCodeUpdate EventType = "code-update"

	// Both directions: chat post inbound, appended entry outbound
	EventChatMessage EventType = "chat-message"

	// Both directions: the room's file tree, relayed as opaque JSON
	EventFileSystemUpdate EventType = "file-system-update"

	// Service to client
	EventChatHistory EventType = "chat-history"
	EventRoomMembers EventType = "room-members"
	EventUserJoined  EventType = "user-joined"
	EventUserLeft    EventType = "user-left"
)

// Room ids are bounded only by the transport's frame size limit.
const MaxNameLength = 64

var (
	ErrEmptyFrame   = errors.New("empty frame")
	ErrUnknownEvent = errors.New("unknown event")
	ErrFileTree     = errors.New("fileSystem must be a JSON array")
)

// The JSON frame exchanged over the wire
type Envelope struct {
	Event EventType       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Payload of join-room
type JoinRoom struct {
	RoomID   string `json:"roomId"`
	Username string `json:"username"`
}

// Payload of an inbound code-update
type CodeUpdate struct {
	RoomID string `json:"roomId"`
	Code   string `json:"code"`
}

// Payload of an inbound chat-message
type ChatMessage struct {
	RoomID   string `json:"roomId"`
	Username string `json:"username"`
	Message  string `json:"message"`
}

// Payload of leave-room. Username is informational; the connection leaves.
type LeaveRoom struct {
	RoomID   string `json:"roomId"`
	Username string `json:"username"`
}

// Payload of an inbound file-system-update. FileSystem is never interpreted
// beyond checking that it is an array.
type FileSystemUpdate struct {
	RoomID     string          `json:"roomId"`
	FileSystem json.RawMessage `json:"fileSystem"`
}

// Decode parses a frame and its payload. The returned value is one of
// JoinRoom, LeaveRoom, CodeUpdate, ChatMessage or FileSystemUpdate.
func Decode(frame []byte) (EventType, any, error) {
	if len(frame) == 0 {
		return "", nil, ErrEmptyFrame
	}

	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return "", nil, fmt.Errorf("decode envelope: %w", err)
	}

	switch env.Event {
	case EventJoinRoom, EventLeaveRoom, EventCodeUpdate, EventChatMessage, EventFileSystemUpdate:
	default:
		return env.Event, nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
	if len(env.Data) == 0 {
		return env.Event, nil, fmt.Errorf("%s: missing data", env.Event)
	}

	var (
		payload any
		err     error
	)
	switch env.Event {
	case EventJoinRoom:
		var p JoinRoom
		err = json.Unmarshal(env.Data, &p)
		payload = p
	case EventCodeUpdate:
		var p CodeUpdate
		err = json.Unmarshal(env.Data, &p)
		payload = p
	case EventChatMessage:
		var p ChatMessage
		err = json.Unmarshal(env.Data, &p)
		payload = p
	case EventLeaveRoom:
		var p LeaveRoom
		err = json.Unmarshal(env.Data, &p)
		payload = p
	case EventFileSystemUpdate:
		var p FileSystemUpdate
		err = json.Unmarshal(env.Data, &p)
		if err == nil && !isArray(p.FileSystem) {
			err = ErrFileTree
		}
		payload = p
	}
	if err != nil {
		return env.Event, nil, fmt.Errorf("decode %s: %w", env.Event, err)
	}
	return env.Event, payload, nil
}

// Encode wraps data in an envelope and marshals the frame.
func Encode(event EventType, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

func isArray(raw json.RawMessage) bool {
	trimmed := strings.TrimLeft(string(raw), " \t\r\n")
	return strings.HasPrefix(trimmed, "[")
}

// ValidateRoomID rejects blank room identifiers.
// Comparison elsewhere is exact, so the id itself is never trimmed.
func ValidateRoomID(id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("room id is required")
	}
	return nil
}

// ValidateName rejects blank or oversized display names.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("display name is required")
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("display name longer than %d bytes", MaxNameLength)
	}
	return nil
}

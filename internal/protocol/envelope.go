// Package protocol defines the JSON envelopes exchanged between participants
// and the room they joined.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ScoreBoard/internal/state"
)

type MessageType string

const (
	TypeUserJoin           MessageType = "user:join"
	TypeUserConnect        MessageType = "user:connect"
	TypeUserDisconnect     MessageType = "user:disconnect"
	TypeAnnotationStart    MessageType = "annotation:start"
	TypeAnnotationUpdate   MessageType = "annotation:update"
	TypeAnnotationComplete MessageType = "annotation:complete"
	TypeAnnotationDelete   MessageType = "annotation:delete"
	TypeCursorMove         MessageType = "cursor:move"
	TypeCommandSend        MessageType = "command:send"
	TypeCommandBroadcast   MessageType = "command:broadcast"
	TypeServerStatus       MessageType = "server:status"
	TypeSyncResponse       MessageType = "sync:response"
	TypeWelcome            MessageType = "welcome"
	TypeError              MessageType = "error"
)

// Error codes carried by TypeError envelopes.
const (
	CodeBadEnvelope  = "bad_envelope"
	CodeUnknownType  = "unknown_type"
	CodeMissingField = "missing_field"
	CodeNotJoined    = "not_joined"
	CodeForbidden    = "forbidden"
	CodeNotFound     = "not_found"
	CodeUnexpected   = "unexpected_type"
)

var (
	ErrUnknownType  = errors.New("unknown message type")
	ErrMissingField = errors.New("missing required field")
)

// Envelope is the single wire shape. Type-specific fields are flattened next
// to the common header and omitted when unused.
type Envelope struct {
	Type              MessageType `json:"type"`
	Timestamp         int64       `json:"timestamp"`
	SenderID          string      `json:"senderId"`
	SenderDisplayName string      `json:"senderDisplayName"`

	ItemID       string      `json:"itemId,omitempty"`
	Tool         state.Tool  `json:"tool,omitempty"`
	Color        string      `json:"color,omitempty"`
	LayerLabel   string      `json:"layerLabel,omitempty"`
	Opacity      float64     `json:"opacity,omitempty"`
	Path         *state.Path `json:"path,omitempty"`
	AnnotationID string      `json:"annotationId,omitempty"`
	ClientRef    string      `json:"clientRef,omitempty"`

	X         float32 `json:"x,omitempty"`
	Y         float32 `json:"y,omitempty"`
	IsDrawing bool    `json:"isDrawing,omitempty"`

	Message   string `json:"message,omitempty"`
	CommandID string `json:"commandId,omitempty"`
	Code      string `json:"code,omitempty"`

	ConnectedCount     int                 `json:"connectedCount,omitempty"`
	ActiveParticipants []state.Participant `json:"activeParticipants,omitempty"`
	Participant        *state.Participant  `json:"participant,omitempty"`

	Annotations []state.Annotation       `json:"annotations,omitempty"`
	InProgress  []state.InProgressStroke `json:"inProgress,omitempty"`
	Cursors     []state.LiveCursor       `json:"cursors,omitempty"`
}

// Stamp sets the timestamp in epoch milliseconds.
func (e *Envelope) Stamp(t time.Time) {
	e.Timestamp = t.UnixMilli()
}

// Time converts the timestamp back to a time.Time.
func (e *Envelope) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// Known reports whether the type is part of the protocol.
func (t MessageType) Known() bool {
	_, ok := requiredFields[t]
	return ok
}

var requiredFields = map[MessageType][]string{
	TypeUserJoin:           {"itemId"},
	TypeUserConnect:        nil,
	TypeUserDisconnect:     nil,
	TypeAnnotationStart:    {"itemId", "tool", "color", "layerLabel"},
	TypeAnnotationUpdate:   {"itemId", "path", "tool", "color"},
	TypeAnnotationComplete: {"itemId", "path", "tool", "color", "layerLabel"},
	TypeAnnotationDelete:   {"annotationId"},
	TypeCursorMove:         {"itemId", "tool"},
	TypeCommandSend:        {"message"},
	TypeCommandBroadcast:   {"message", "commandId"},
	TypeServerStatus:       nil,
	TypeSyncResponse:       nil,
	TypeWelcome:            nil,
	TypeError:              {"code", "message"},
}

// Validate checks the fields a type requires. Ordering problems, such as a
// complete without a start, are not validation errors.
func (e *Envelope) Validate() error {
	fields, ok := requiredFields[e.Type]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownType, e.Type)
	}
	for _, f := range fields {
		if !e.has(f) {
			return fmt.Errorf("%w: %s requires %s", ErrMissingField, e.Type, f)
		}
	}
	if e.Tool != "" && !e.Tool.Valid() {
		return fmt.Errorf("%w: tool %q", ErrMissingField, e.Tool)
	}
	return nil
}

func (e *Envelope) has(field string) bool {
	switch field {
	case "itemId":
		return e.ItemID != ""
	case "tool":
		return e.Tool != ""
	case "color":
		return e.Color != ""
	case "layerLabel":
		return e.LayerLabel != ""
	case "path":
		return e.Path != nil
	case "annotationId":
		return e.AnnotationID != ""
	case "message":
		return e.Message != ""
	case "commandId":
		return e.CommandID != ""
	case "code":
		return e.Code != ""
	}
	return false
}

// ErrorCode maps a validation error to the code sent back to the peer.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrUnknownType):
		return CodeUnknownType
	case errors.Is(err, ErrMissingField):
		return CodeMissingField
	}
	return CodeBadEnvelope
}

// Decode parses a single envelope. Validation is separate so callers can
// answer bad input with a typed error envelope.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}

func Encode(env Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

// MarshalJSON always writes the position fields of cursor:move and the
// count of server:status, which the flat shape would drop at zero.
func (e Envelope) MarshalJSON() ([]byte, error) {
	type plain Envelope
	switch e.Type {
	case TypeCursorMove:
		return json.Marshal(struct {
			plain
			X         float32 `json:"x"`
			Y         float32 `json:"y"`
			IsDrawing bool    `json:"isDrawing"`
		}{plain(e), e.X, e.Y, e.IsDrawing})
	case TypeServerStatus:
		return json.Marshal(struct {
			plain
			ConnectedCount     int                 `json:"connectedCount"`
			ActiveParticipants []state.Participant `json:"activeParticipants"`
		}{plain(e), e.ConnectedCount, nonNil(e.ActiveParticipants)})
	}
	return json.Marshal(plain(e))
}

func nonNil(ps []state.Participant) []state.Participant {
	if ps == nil {
		return []state.Participant{}
	}
	return ps
}

package protocol

import (
	"time"

	"ScoreBoard/internal/state"
)

func header(t MessageType, at time.Time, p state.Participant) Envelope {
	env := Envelope{Type: t, SenderID: p.ID, SenderDisplayName: p.DisplayName}
	env.Stamp(at)
	return env
}

// NewError builds an error envelope sent by the room itself.
func NewError(at time.Time, code, message string) Envelope {
	env := header(TypeError, at, ServerIdentity)
	env.Code = code
	env.Message = message
	return env
}

func NewJoin(at time.Time, p state.Participant, itemID string) Envelope {
	env := header(TypeUserJoin, at, p)
	env.ItemID = itemID
	env.Color = p.Color
	return env
}

// ServerIdentity signs envelopes produced by the room rather than relayed.
var ServerIdentity = state.Participant{ID: "server", DisplayName: "server"}

// NewWelcome tells a joiner the identity the server recorded for it.
func NewWelcome(at time.Time, p state.Participant, itemID string) Envelope {
	env := header(TypeWelcome, at, ServerIdentity)
	env.ItemID = itemID
	env.Participant = &p
	return env
}

func NewPresenceChange(t MessageType, at time.Time, p state.Participant, itemID string) Envelope {
	env := header(t, at, p)
	env.ItemID = itemID
	env.Color = p.Color
	return env
}

func NewStatus(at time.Time, itemID string, participants []state.Participant) Envelope {
	env := header(TypeServerStatus, at, ServerIdentity)
	env.ItemID = itemID
	env.ConnectedCount = len(participants)
	env.ActiveParticipants = participants
	return env
}

func NewSyncResponse(at time.Time, itemID string, annotations []state.Annotation, strokes []state.InProgressStroke, cursors []state.LiveCursor) Envelope {
	env := header(TypeSyncResponse, at, ServerIdentity)
	env.ItemID = itemID
	env.Annotations = annotations
	env.InProgress = strokes
	env.Cursors = cursors
	return env
}

func NewStart(at time.Time, p state.Participant, itemID string, tool state.Tool, color, layerLabel string) Envelope {
	env := header(TypeAnnotationStart, at, p)
	env.ItemID = itemID
	env.Tool = tool
	env.Color = color
	env.LayerLabel = layerLabel
	return env
}

func NewUpdate(at time.Time, p state.Participant, itemID string, tool state.Tool, color string, path *state.Path) Envelope {
	env := header(TypeAnnotationUpdate, at, p)
	env.ItemID = itemID
	env.Tool = tool
	env.Color = color
	env.Path = path
	return env
}

func NewComplete(at time.Time, p state.Participant, itemID string, tool state.Tool, color, layerLabel string, opacity float64, path *state.Path) Envelope {
	env := header(TypeAnnotationComplete, at, p)
	env.ItemID = itemID
	env.Tool = tool
	env.Color = color
	env.LayerLabel = layerLabel
	env.Opacity = opacity
	env.Path = path
	return env
}

func NewDelete(at time.Time, p state.Participant, itemID, annotationID string) Envelope {
	env := header(TypeAnnotationDelete, at, p)
	env.ItemID = itemID
	env.AnnotationID = annotationID
	return env
}

func NewCursorMove(at time.Time, p state.Participant, itemID string, x, y float32, drawing bool, tool state.Tool, color string) Envelope {
	env := header(TypeCursorMove, at, p)
	env.ItemID = itemID
	env.X = x
	env.Y = y
	env.IsDrawing = drawing
	env.Tool = tool
	env.Color = color
	return env
}

func NewCommandSend(at time.Time, p state.Participant, itemID, message string) Envelope {
	env := header(TypeCommandSend, at, p)
	env.ItemID = itemID
	env.Message = message
	return env
}

// NewCommandBroadcast echoes a stored command to the room.
func NewCommandBroadcast(c state.Command) Envelope {
	env := header(TypeCommandBroadcast, c.CreatedAt, state.Participant{ID: c.SenderID, DisplayName: c.SenderDisplayName})
	env.ItemID = c.ItemID
	env.CommandID = c.ID
	env.Message = c.Message
	return env
}

// NewCompleteBroadcast announces a committed annotation with its durable id.
func NewCompleteBroadcast(a state.Annotation) Envelope {
	env := header(TypeAnnotationComplete, a.CreatedAt, state.Participant{ID: a.AuthorID, DisplayName: a.AuthorDisplayName})
	env.ItemID = a.ItemID
	env.AnnotationID = a.ID
	env.Tool = a.Tool
	env.Color = a.Color
	env.LayerLabel = a.LayerLabel
	env.Opacity = a.Opacity
	env.Path = a.Path
	env.ClientRef = a.ClientRef
	return env
}

// AnnotationOf turns a complete envelope into the record it describes.
func AnnotationOf(env Envelope) state.Annotation {
	a := state.Annotation{
		ID:                env.AnnotationID,
		ItemID:            env.ItemID,
		AuthorID:          env.SenderID,
		AuthorDisplayName: env.SenderDisplayName,
		LayerLabel:        env.LayerLabel,
		Path:              env.Path.Clone(),
		Color:             env.Color,
		Tool:              env.Tool,
		Opacity:           env.Opacity,
		CreatedAt:         env.Time(),
		ClientRef:         env.ClientRef,
	}
	a.Normalize()
	return a
}

// StrokeOf turns a start or update envelope into an in-progress stroke.
func StrokeOf(env Envelope) state.InProgressStroke {
	return state.InProgressStroke{
		AuthorID:          env.SenderID,
		AuthorDisplayName: env.SenderDisplayName,
		ItemID:            env.ItemID,
		Tool:              env.Tool,
		Color:             env.Color,
		LayerLabel:        env.LayerLabel,
		CurrentPath:       env.Path,
	}
}

// CursorOf turns a cursor:move envelope into a live cursor stamped at at.
func CursorOf(env Envelope, at time.Time) state.LiveCursor {
	return state.LiveCursor{
		AuthorID:          env.SenderID,
		AuthorDisplayName: env.SenderDisplayName,
		X:                 env.X,
		Y:                 env.Y,
		IsDrawing:         env.IsDrawing,
		Tool:              env.Tool,
		Color:             env.Color,
		LastUpdate:        at,
	}
}

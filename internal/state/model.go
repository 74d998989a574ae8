package state

import (
	"fmt"
	"time"
)

// Tool selects the blend rule used when a path is drawn.
type Tool string

const (
	ToolPen         Tool = "pen"
	ToolHighlighter Tool = "highlighter"
	ToolEraser      Tool = "eraser"
)

// Valid reports whether t is one of the known tools.
func (t Tool) Valid() bool {
	switch t {
	case ToolPen, ToolHighlighter, ToolEraser:
		return true
	}
	return false
}

// ParseTool maps an empty value to ToolPen and rejects unknown names.
func ParseTool(s string) (Tool, error) {
	if s == "" {
		return ToolPen, nil
	}
	t := Tool(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown tool %q", s)
	}
	return t, nil
}

type Point struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
}

// Path is the vector payload carried by strokes. Coordinates are in item space.
type Path struct {
	Points []Point `json:"points"`
	Width  float32 `json:"width,omitempty"`
}

// Clone returns a deep copy so stored paths never alias wire buffers.
func (p *Path) Clone() *Path {
	if p == nil {
		return nil
	}
	cp := &Path{Width: p.Width, Points: make([]Point, len(p.Points))}
	copy(cp.Points, p.Points)
	return cp
}

// Annotation is a committed stroke. It is never edited once stored.
type Annotation struct {
	ID                string    `json:"id"`
	ItemID            string    `json:"itemId"`
	AuthorID          string    `json:"authorId"`
	AuthorDisplayName string    `json:"authorDisplayName"`
	LayerLabel        string    `json:"layerLabel"`
	Path              *Path     `json:"path"`
	Color             string    `json:"color"`
	Tool              Tool      `json:"tool"`
	Opacity           float64   `json:"opacity"`
	CreatedAt         time.Time `json:"createdAt"`
	// ClientRef is the provisional id the author drew it under, if any.
	ClientRef         string    `json:"clientRef,omitempty"`
}

// DefaultLayerLabel is used when a stroke arrives without an explicit label.
func DefaultLayerLabel(author string) string {
	return author + "'s annotation"
}

// Normalize fills defaults for optional fields.
func (a *Annotation) Normalize() {
	if a.Tool == "" {
		a.Tool = ToolPen
	}
	if a.Opacity <= 0 || a.Opacity > 1 {
		a.Opacity = 1
	}
	if a.LayerLabel == "" {
		name := a.AuthorDisplayName
		if name == "" {
			name = a.AuthorID
		}
		a.LayerLabel = DefaultLayerLabel(name)
	}
}

// InProgressStroke is the uncommitted version of an annotation.
type InProgressStroke struct {
	AuthorID          string    `json:"authorId"`
	AuthorDisplayName string    `json:"authorDisplayName"`
	ItemID            string    `json:"itemId"`
	Tool              Tool      `json:"tool"`
	Color             string    `json:"color"`
	LayerLabel        string    `json:"layerLabel,omitempty"`
	CurrentPath       *Path     `json:"currentPath,omitempty"`
	StartedAt         time.Time `json:"startedAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

type LiveCursor struct {
	AuthorID          string    `json:"authorId"`
	AuthorDisplayName string    `json:"authorDisplayName"`
	X                 float32   `json:"x"`
	Y                 float32   `json:"y"`
	IsDrawing         bool      `json:"isDrawing"`
	Tool              Tool      `json:"tool"`
	Color             string    `json:"color"`
	LastUpdate        time.Time `json:"lastUpdate"`
}

// Command is a short directive broadcast to the whole room.
type Command struct {
	ID                string    `json:"id"`
	ItemID            string    `json:"itemId"`
	SenderID          string    `json:"senderId"`
	SenderDisplayName string    `json:"senderDisplayName"`
	Message           string    `json:"message"`
	CreatedAt         time.Time `json:"createdAt"`
}

// Participant is derived from an active transport session and never stored.
type Participant struct {
	ID             string    `json:"id"`
	DisplayName    string    `json:"displayName"`
	Color          string    `json:"color"`
	ConnectedAt    time.Time `json:"connectedAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
}

package engine

import (
	"sort"
	"sync"
	"time"

	"ScoreBoard/internal/state"
)

const (
	CommandHold = 3 * time.Second
	CommandFade = 500 * time.Millisecond
)

// VisibleCommand is a command still on screen with its current opacity.
type VisibleCommand struct {
	Command state.Command `json:"command"`
	Opacity float64       `json:"opacity"`
}

// CommandBoard is a participant's local display of broadcast commands.
// Each command is shown for CommandHold and then fades out linearly over
// CommandFade, counted from when this participant first received it.
type CommandBoard struct {
	mu      sync.Mutex
	entries map[string]boardEntry
}

type boardEntry struct {
	cmd        state.Command
	receivedAt time.Time
}

func NewCommandBoard() *CommandBoard {
	return &CommandBoard{entries: make(map[string]boardEntry)}
}

// Add shows a command. Receiving an id again does not restart its window.
func (b *CommandBoard) Add(c state.Command, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.entries[c.ID]; ok {
		return false
	}
	b.entries[c.ID] = boardEntry{cmd: c, receivedAt: now}
	return true
}

func opacityAt(age time.Duration) float64 {
	switch {
	case age < CommandHold:
		return 1
	case age < CommandHold+CommandFade:
		return 1 - float64(age-CommandHold)/float64(CommandFade)
	}
	return 0
}

// Visible returns the commands still on screen, oldest first.
func (b *CommandBoard) Visible(now time.Time) []VisibleCommand {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []VisibleCommand
	for _, e := range b.entries {
		if op := opacityAt(now.Sub(e.receivedAt)); op > 0 {
			out = append(out, VisibleCommand{Command: e.cmd, Opacity: op})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Command.CreatedAt.Equal(out[j].Command.CreatedAt) {
			return out[i].Command.ID < out[j].Command.ID
		}
		return out[i].Command.CreatedAt.Before(out[j].Command.CreatedAt)
	})
	return out
}

// Sweep forgets commands whose window has passed and returns their ids.
func (b *CommandBoard) Sweep(now time.Time) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var gone []string
	for id, e := range b.entries {
		if now.Sub(e.receivedAt) >= CommandHold+CommandFade {
			delete(b.entries, id)
			gone = append(gone, id)
		}
	}
	sort.Strings(gone)
	return gone
}

func (b *CommandBoard) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

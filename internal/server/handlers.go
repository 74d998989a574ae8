package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"ScoreBoard/internal/engine"
	"ScoreBoard/internal/export"
	"ScoreBoard/internal/persist"
	"ScoreBoard/internal/state"
)

const (
	maxBodyBytes        = 8 << 20
	defaultCommandLimit = 50
)

// respondJSON writes a JSON response
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// respondError writes a JSON error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// StatusResponse is served by GET /api/status.
type StatusResponse struct {
	Time   time.Time            `json:"time"`
	Bridge persist.Status       `json:"bridge"`
	Rooms  []engine.RoomSummary `json:"rooms"`
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, StatusResponse{
		Time:   s.clock.Now(),
		Bridge: s.bridge.Status(),
		Rooms:  s.hub.Rooms(),
	})
}

func validAnnotation(a state.Annotation) string {
	switch {
	case a.ItemID == "":
		return "itemId is required"
	case a.AuthorID == "":
		return "authorId is required"
	case a.Path == nil:
		return "path is required"
	case a.Tool != "" && !a.Tool.Valid():
		return "unknown tool " + string(a.Tool)
	}
	return ""
}

// commit writes through the bridge and tells the live room. It reports
// whether the write reached the store or was queued.
func (s *Server) commit(ctx context.Context, a state.Annotation) (state.Annotation, bool) {
	receipt := s.bridge.Commit(ctx, a)
	s.hub.AnnotationCreated(receipt.Annotation)
	return receipt.Annotation, receipt.Saved
}

// createAnnotation handles POST /api/annotations
func (s *Server) createAnnotation(w http.ResponseWriter, r *http.Request) {
	var a state.Annotation
	if !decode(w, r, &a) {
		return
	}
	if msg := validAnnotation(a); msg != "" {
		respondError(w, http.StatusBadRequest, msg)
		return
	}
	saved, durable := s.commit(r.Context(), a)
	status := http.StatusCreated
	if !durable {
		status = http.StatusAccepted
	}
	respondJSON(w, status, saved)
}

// bulkCreateAnnotations handles POST /api/annotations/bulk
func (s *Server) bulkCreateAnnotations(w http.ResponseWriter, r *http.Request) {
	var in []state.Annotation
	if !decode(w, r, &in) {
		return
	}
	for i, a := range in {
		if msg := validAnnotation(a); msg != "" {
			respondError(w, http.StatusBadRequest, "annotation "+strconv.Itoa(i)+": "+msg)
			return
		}
	}
	out := make([]state.Annotation, 0, len(in))
	status := http.StatusCreated
	for _, a := range in {
		saved, durable := s.commit(r.Context(), a)
		if !durable {
			status = http.StatusAccepted
		}
		out = append(out, saved)
	}
	respondJSON(w, status, out)
}

// deleteAnnotation handles DELETE /api/annotations/{id}
func (s *Server) deleteAnnotation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.bridge.Delete(r.Context(), id); err != nil {
		if errors.Is(err, persist.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Annotation not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to delete annotation")
		return
	}
	s.hub.AnnotationDeleted(id)
	w.WriteHeader(http.StatusNoContent)
}

// annotations is the item's current set: the live room when there is one,
// otherwise the store merged with the bridge queue.
func (s *Server) annotations(ctx context.Context, itemID string) ([]state.Annotation, error) {
	if room, ok := s.hub.Room(itemID); ok {
		return room.Annotations(), nil
	}
	stored, err := s.store.ListByItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	deleted := s.bridge.PendingDeletes()
	seen := make(map[string]bool, len(stored))
	out := make([]state.Annotation, 0, len(stored))
	for _, a := range stored {
		if !deleted[a.ID] {
			out = append(out, a)
			seen[a.ID] = true
		}
	}
	for _, a := range s.bridge.Pending(itemID) {
		if !seen[a.ID] {
			out = append(out, a)
		}
	}
	return out, nil
}

// listAnnotations handles GET /api/items/{itemId}/annotations
func (s *Server) listAnnotations(w http.ResponseWriter, r *http.Request) {
	list, err := s.annotations(r.Context(), chi.URLParam(r, "itemId"))
	if err != nil {
		s.log.Warn().Err(err).Msg("list annotations failed")
		respondError(w, http.StatusServiceUnavailable, "Store unavailable")
		return
	}
	if list == nil {
		list = []state.Annotation{}
	}
	respondJSON(w, http.StatusOK, list)
}

// createCommand handles POST /api/commands
func (s *Server) createCommand(w http.ResponseWriter, r *http.Request) {
	var c state.Command
	if !decode(w, r, &c) {
		return
	}
	if c.ItemID == "" || c.Message == "" {
		respondError(w, http.StatusBadRequest, "itemId and message are required")
		return
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.clock.Now()
	}
	saved, err := s.store.CreateCommand(r.Context(), c)
	if err != nil {
		s.log.Warn().Err(err).Msg("create command failed")
		respondError(w, http.StatusServiceUnavailable, "Store unavailable")
		return
	}
	respondJSON(w, http.StatusCreated, saved)
}

// listCommands handles GET /api/items/{itemId}/commands
func (s *Server) listCommands(w http.ResponseWriter, r *http.Request) {
	limit := defaultCommandLimit
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}
	list, err := s.store.ListCommands(r.Context(), chi.URLParam(r, "itemId"), limit)
	if err != nil {
		s.log.Warn().Err(err).Msg("list commands failed")
		respondError(w, http.StatusServiceUnavailable, "Store unavailable")
		return
	}
	if list == nil {
		list = []state.Command{}
	}
	respondJSON(w, http.StatusOK, list)
}

// exportPDF handles GET /api/items/{itemId}/export.pdf?hide=<authorId>
func (s *Server) exportPDF(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "itemId")
	list, err := s.annotations(r.Context(), itemID)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "Store unavailable")
		return
	}
	hidden := make(map[string]bool)
	for _, id := range r.URL.Query()["hide"] {
		hidden[id] = true
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+itemID+`.pdf"`)
	if err := export.WritePDF(w, list, export.Options{Title: itemID, Hidden: hidden}); err != nil {
		s.log.Error().Err(err).Str("item_id", itemID).Msg("pdf export failed")
	}
}

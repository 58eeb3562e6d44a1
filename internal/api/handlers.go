package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/manpreetbhatti/coderoom/internal/registry"
	"github.com/manpreetbhatti/coderoom/internal/room"
)

// Rooms is the read and admin surface of the registry
type Rooms interface {
	Rooms(ctx context.Context) ([]room.Summary, error)
	Room(ctx context.Context, id string) (*registry.RoomDetail, error)
	Stats(ctx context.Context) (registry.Stats, error)
	DeleteRoom(ctx context.Context, id string) error
}

type API struct {
	rooms  Rooms
	logger zerolog.Logger
	now    func() time.Time
}

func New(rooms Rooms, logger zerolog.Logger) *API {
	return &API{
		rooms:  rooms,
		logger: logger.With().Str("component", "api").Logger(),
		now:    time.Now,
	}
}

func (a *API) jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		a.logger.Error().Err(err).Msg("encoding JSON response")
	}
}

func (a *API) errorResponse(w http.ResponseWriter, status int, message string) {
	a.jsonResponse(w, status, map[string]string{"error": message})
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	a.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": a.now().UTC().Format(time.RFC3339),
	})
}

func (a *API) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := a.rooms.Stats(r.Context())
	if err != nil {
		a.logger.Error().Err(err).Msg("loading stats")
		a.errorResponse(w, http.StatusInternalServerError, "Failed to load stats")
		return
	}

	a.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"total_rooms":    stats.Rooms,
		"active_rooms":   stats.ActiveRooms,
		"active_members": stats.Members,
		"timestamp":      a.now().UTC().Format(time.RFC3339),
	})
}

// Room handlers

func (a *API) ListRoomsHandler(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	rooms, err := a.rooms.Rooms(r.Context())
	if err != nil {
		a.logger.Error().Err(err).Msg("listing rooms")
		a.errorResponse(w, http.StatusInternalServerError, "Failed to list rooms")
		return
	}

	total := len(rooms)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	a.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"rooms":  rooms[offset:end],
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

func (a *API) GetRoomHandler(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")

	detail, err := a.rooms.Room(r.Context(), roomID)
	if errors.Is(err, registry.ErrRoomNotFound) {
		a.errorResponse(w, http.StatusNotFound, "Room not found")
		return
	}
	if err != nil {
		a.logger.Error().Err(err).Str("room", roomID).Msg("loading room")
		a.errorResponse(w, http.StatusInternalServerError, "Failed to get room")
		return
	}

	a.jsonResponse(w, http.StatusOK, detail)
}

func (a *API) DeleteRoomHandler(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")

	err := a.rooms.DeleteRoom(r.Context(), roomID)
	switch {
	case errors.Is(err, registry.ErrRoomNotFound):
		a.errorResponse(w, http.StatusNotFound, "Room not found")
	case errors.Is(err, registry.ErrRoomActive):
		a.errorResponse(w, http.StatusConflict, "Room has connected members")
	case err != nil:
		a.logger.Error().Err(err).Str("room", roomID).Msg("deleting room")
		a.errorResponse(w, http.StatusInternalServerError, "Failed to delete room")
	default:
		a.jsonResponse(w, http.StatusOK, map[string]string{"message": "Room deleted"})
	}
}

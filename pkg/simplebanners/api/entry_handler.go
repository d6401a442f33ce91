package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/tendant/simple-banners/pkg/simplebanners"
)

const maxDuplicatesPerRequest = 100

// EntryHandler handles HTTP requests for banner entries
type EntryHandler struct {
	service simplebanners.Service
}

// NewEntryHandler creates a new entry handler
func NewEntryHandler(service simplebanners.Service) *EntryHandler {
	return &EntryHandler{service: service}
}

// Routes returns the routes for entries
func (h *EntryHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.CreateEntry)
	r.Get("/", h.ListEntries)
	r.Post("/duplicate", h.DuplicateEntries)
	r.Get("/{id}", h.GetEntry)
	r.Put("/{id}", h.UpdateEntry)
	r.Delete("/{id}", h.DeleteEntry)
	r.Get("/{id}/snapshots", h.ListEntrySnapshots)

	return r
}

// EntryRequest is the request body for creating or updating an entry
type EntryRequest struct {
	Name        string     `json:"name"`
	SlotID      string     `json:"slot_id"`
	Priority    *int       `json:"priority,omitempty"`
	Countries   []string   `json:"countries"`
	Languages   []string   `json:"languages"`
	StartTime   *time.Time `json:"start_time"`
	EndTime     *time.Time `json:"end_time"`
	Dismissible *bool      `json:"dismissible,omitempty"`
	Stopped     bool       `json:"stopped"`
	Body        string     `json:"body"`
	Segments    []string   `json:"segments"`
}

// EntryResponse is the response body for an entry
type EntryResponse struct {
	*simplebanners.Entry
	HasChangesToPublish bool `json:"has_changes_to_publish"`
}

// DuplicateRequest is the request body for duplicating entries
type DuplicateRequest struct {
	IDs []string `json:"ids"`
}

// DuplicateResponse lists the ids of the copies in request order
type DuplicateResponse struct {
	IDs []uuid.UUID `json:"ids"`
}

func (req EntryRequest) fields() (simplebanners.EntryFields, error) {
	slotID, err := uuid.Parse(req.SlotID)
	if err != nil {
		return simplebanners.EntryFields{}, err
	}
	return simplebanners.EntryFields{
		Name:        req.Name,
		SlotID:      slotID,
		Priority:    req.Priority,
		Countries:   req.Countries,
		Languages:   req.Languages,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		Dismissible: req.Dismissible,
		Stopped:     req.Stopped,
		Body:        req.Body,
		Segments:    req.Segments,
	}, nil
}

func newEntryResponse(entry *simplebanners.Entry) EntryResponse {
	return EntryResponse{Entry: entry, HasChangesToPublish: entry.HasChangesToPublish()}
}

func (h *EntryHandler) decode(w http.ResponseWriter, r *http.Request) (simplebanners.EntryFields, bool) {
	var req EntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, r, err.Error())
		return simplebanners.EntryFields{}, false
	}
	fields, err := req.fields()
	if err != nil {
		slog.Warn("Invalid slot ID", "slot_id", req.SlotID, "error", err)
		badRequest(w, r, "Invalid slot ID")
		return simplebanners.EntryFields{}, false
	}
	return fields, true
}

// CreateEntry creates a new entry
func (h *EntryHandler) CreateEntry(w http.ResponseWriter, r *http.Request) {
	fields, ok := h.decode(w, r)
	if !ok {
		return
	}

	entry, err := h.service.CreateEntry(r.Context(), simplebanners.CreateEntryRequest{EntryFields: fields})
	if err != nil {
		writeError(w, r, "Failed to create entry", err)
		return
	}

	slog.Info("Entry created", "entry_id", entry.ID)
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, newEntryResponse(entry))
}

// GetEntry retrieves an entry by ID
func (h *EntryHandler) GetEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "entry")
	if !ok {
		return
	}
	entry, err := h.service.GetEntry(r.Context(), id)
	if err != nil {
		writeError(w, r, "Failed to get entry", err)
		return
	}
	render.JSON(w, r, newEntryResponse(entry))
}

// UpdateEntry replaces the editable fields of an entry
func (h *EntryHandler) UpdateEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "entry")
	if !ok {
		return
	}
	fields, ok := h.decode(w, r)
	if !ok {
		return
	}

	entry, err := h.service.UpdateEntry(r.Context(), simplebanners.UpdateEntryRequest{ID: id, EntryFields: fields})
	if err != nil {
		writeError(w, r, "Failed to update entry", err)
		return
	}
	render.JSON(w, r, newEntryResponse(entry))
}

// DeleteEntry soft-deletes an entry
func (h *EntryHandler) DeleteEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "entry")
	if !ok {
		return
	}
	if err := h.service.DeleteEntry(r.Context(), id); err != nil {
		writeError(w, r, "Failed to delete entry", err)
		return
	}
	slog.Info("Entry deleted", "entry_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// ListEntries lists entries, optionally filtered by slot_id and
// include_inactive
func (h *EntryHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	var filter simplebanners.EntryFilter
	q := r.URL.Query()
	if raw := q.Get("slot_id"); raw != "" {
		slotID, err := uuid.Parse(raw)
		if err != nil {
			badRequest(w, r, "Invalid slot ID")
			return
		}
		filter.SlotID = &slotID
	}
	if raw := q.Get("include_inactive"); raw != "" {
		include, err := strconv.ParseBool(raw)
		if err != nil {
			badRequest(w, r, "Invalid include_inactive")
			return
		}
		filter.IncludeInactive = include
	}

	entries, err := h.service.ListEntries(r.Context(), filter)
	if err != nil {
		writeError(w, r, "Failed to list entries", err)
		return
	}

	resp := make([]EntryResponse, 0, len(entries))
	for _, entry := range entries {
		resp = append(resp, newEntryResponse(entry))
	}
	render.JSON(w, r, resp)
}

// DuplicateEntries copies entries under fresh names
func (h *EntryHandler) DuplicateEntries(w http.ResponseWriter, r *http.Request) {
	var req DuplicateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	if len(req.IDs) == 0 {
		badRequest(w, r, "Missing required 'ids'")
		return
	}
	if len(req.IDs) > maxDuplicatesPerRequest {
		badRequest(w, r, "Too many IDs requested")
		return
	}

	ids := make([]uuid.UUID, 0, len(req.IDs))
	for _, raw := range req.IDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			badRequest(w, r, "Invalid entry ID: "+raw)
			return
		}
		ids = append(ids, id)
	}

	newIDs, err := h.service.DuplicateEntries(r.Context(), ids)
	if err != nil {
		writeError(w, r, "Failed to duplicate entries", err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, DuplicateResponse{IDs: newIDs})
}

// ListEntrySnapshots lists every snapshot captured for an entry
func (h *EntryHandler) ListEntrySnapshots(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "entry")
	if !ok {
		return
	}
	snapshots, err := h.service.ListEntrySnapshots(r.Context(), id)
	if err != nil {
		writeError(w, r, "Failed to list entry snapshots", err)
		return
	}
	render.JSON(w, r, nonNilSnapshots(snapshots))
}

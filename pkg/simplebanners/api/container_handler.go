package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/tendant/simple-banners/pkg/simplebanners"
)

// ContainerHandler handles HTTP requests for pages and slots
type ContainerHandler struct {
	service simplebanners.Service
}

// NewContainerHandler creates a new page/slot handler
func NewContainerHandler(service simplebanners.Service) *ContainerHandler {
	return &ContainerHandler{service: service}
}

// PageRoutes returns the routes for pages
func (h *ContainerHandler) PageRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.CreatePage)
	r.Get("/", h.ListPages)
	r.Get("/{id}", h.GetPage)
	r.Put("/{id}", h.UpdatePage)
	r.Delete("/{id}", h.DeletePage)
	return r
}

// SlotRoutes returns the routes for slots
func (h *ContainerHandler) SlotRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.CreateSlot)
	r.Get("/", h.ListSlots)
	r.Get("/{id}", h.GetSlot)
	r.Put("/{id}", h.UpdateSlot)
	r.Delete("/{id}", h.DeleteSlot)
	return r
}

// PageRequest is the request body for creating or updating a page
type PageRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// SlotRequest is the request body for creating or updating a slot
type SlotRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	PageID      string `json:"page_id"`
	Hidden      bool   `json:"hidden"`
}

// CreatePage creates a new page
func (h *ContainerHandler) CreatePage(w http.ResponseWriter, r *http.Request) {
	var req PageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, r, err.Error())
		return
	}

	page, err := h.service.CreatePage(r.Context(), simplebanners.CreatePageRequest{
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		writeError(w, r, "Failed to create page", err)
		return
	}

	slog.Info("Page created", "page_id", page.ID)
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, page)
}

// GetPage retrieves a page by ID
func (h *ContainerHandler) GetPage(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "page")
	if !ok {
		return
	}
	page, err := h.service.GetPage(r.Context(), id)
	if err != nil {
		writeError(w, r, "Failed to get page", err)
		return
	}
	render.JSON(w, r, page)
}

// UpdatePage renames or redescribes a page; attached entries are rehashed
func (h *ContainerHandler) UpdatePage(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "page")
	if !ok {
		return
	}
	var req PageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, r, err.Error())
		return
	}

	page, err := h.service.UpdatePage(r.Context(), simplebanners.UpdatePageRequest{
		ID:          id,
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		writeError(w, r, "Failed to update page", err)
		return
	}
	render.JSON(w, r, page)
}

// DeletePage deletes a page no slot refers to
func (h *ContainerHandler) DeletePage(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "page")
	if !ok {
		return
	}
	if err := h.service.DeletePage(r.Context(), id); err != nil {
		writeError(w, r, "Failed to delete page", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListPages lists all pages
func (h *ContainerHandler) ListPages(w http.ResponseWriter, r *http.Request) {
	pages, err := h.service.ListPages(r.Context())
	if err != nil {
		writeError(w, r, "Failed to list pages", err)
		return
	}
	if pages == nil {
		pages = []*simplebanners.Page{}
	}
	render.JSON(w, r, pages)
}

func (h *ContainerHandler) decodeSlot(w http.ResponseWriter, r *http.Request) (SlotRequest, uuid.UUID, bool) {
	var req SlotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, r, err.Error())
		return req, uuid.Nil, false
	}
	pageID, err := uuid.Parse(req.PageID)
	if err != nil {
		slog.Warn("Invalid page ID", "page_id", req.PageID, "error", err)
		badRequest(w, r, "Invalid page ID")
		return req, uuid.Nil, false
	}
	return req, pageID, true
}

// CreateSlot creates a new slot on a page
func (h *ContainerHandler) CreateSlot(w http.ResponseWriter, r *http.Request) {
	req, pageID, ok := h.decodeSlot(w, r)
	if !ok {
		return
	}

	slot, err := h.service.CreateSlot(r.Context(), simplebanners.CreateSlotRequest{
		Name:        req.Name,
		Description: req.Description,
		PageID:      pageID,
		Hidden:      req.Hidden,
	})
	if err != nil {
		writeError(w, r, "Failed to create slot", err)
		return
	}

	slog.Info("Slot created", "slot_id", slot.ID)
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, slot)
}

// GetSlot retrieves a slot by ID
func (h *ContainerHandler) GetSlot(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "slot")
	if !ok {
		return
	}
	slot, err := h.service.GetSlot(r.Context(), id)
	if err != nil {
		writeError(w, r, "Failed to get slot", err)
		return
	}
	render.JSON(w, r, slot)
}

// UpdateSlot updates a slot; attached entries are rehashed
func (h *ContainerHandler) UpdateSlot(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "slot")
	if !ok {
		return
	}
	req, pageID, ok := h.decodeSlot(w, r)
	if !ok {
		return
	}

	slot, err := h.service.UpdateSlot(r.Context(), simplebanners.UpdateSlotRequest{
		ID:          id,
		Name:        req.Name,
		Description: req.Description,
		PageID:      pageID,
		Hidden:      req.Hidden,
	})
	if err != nil {
		writeError(w, r, "Failed to update slot", err)
		return
	}
	render.JSON(w, r, slot)
}

// DeleteSlot deletes a slot no entry refers to
func (h *ContainerHandler) DeleteSlot(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "slot")
	if !ok {
		return
	}
	if err := h.service.DeleteSlot(r.Context(), id); err != nil {
		writeError(w, r, "Failed to delete slot", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListSlots lists all slots
func (h *ContainerHandler) ListSlots(w http.ResponseWriter, r *http.Request) {
	slots, err := h.service.ListSlots(r.Context())
	if err != nil {
		writeError(w, r, "Failed to list slots", err)
		return
	}
	if slots == nil {
		slots = []*simplebanners.Slot{}
	}
	render.JSON(w, r, slots)
}

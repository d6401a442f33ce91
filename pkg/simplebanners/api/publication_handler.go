package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/tendant/simple-banners/pkg/simplebanners"
)

// PublicationHandler serves the live banner set, publishing and the
// publication history.
type PublicationHandler struct {
	service         simplebanners.Service
	defaultPageSize int
}

// NewPublicationHandler creates a new publication handler. A non-positive
// pageSize uses simplebanners.DefaultSnapshotLimit.
func NewPublicationHandler(service simplebanners.Service, pageSize int) *PublicationHandler {
	if pageSize <= 0 {
		pageSize = simplebanners.DefaultSnapshotLimit
	}
	return &PublicationHandler{service: service, defaultPageSize: pageSize}
}

// LiveRoutes returns the public read routes
func (h *PublicationHandler) LiveRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.GetLive)
	return r
}

// PublicationRoutes returns the admin routes for publications
func (h *PublicationHandler) PublicationRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.ListPublications)
	r.Get("/{id}", h.GetPublication)
	r.Get("/{id}/snapshots", h.ListCurrentSnapshots)
	r.Get("/{id}/log", h.ListPublicationLog)
	return r
}

// SnapshotRoutes returns the admin routes for snapshots
func (h *PublicationHandler) SnapshotRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{id}", h.GetSnapshot)
	r.Get("/{id}/publications", h.ListSnapshotPublications)
	return r
}

// LiveResponse is the consumer view of the live publication
type LiveResponse struct {
	Count       int                        `json:"count"`
	Next        *string                    `json:"next"`
	Previous    *string                    `json:"previous"`
	ID          uuid.UUID                  `json:"id"`
	PublishedAt time.Time                  `json:"published_at"`
	Banners     []simplebanners.BannerView `json:"banners"`
}

// PublishRequest is the request body for publishing
type PublishRequest struct {
	ActorID string `json:"actor_id"`
}

// PublishResponse summarizes a publish
type PublishResponse struct {
	PublicationID uuid.UUID `json:"publication_id"`
	Reused        int       `json:"reused"`
	Created       int       `json:"created"`
	Total         int       `json:"total"`
}

// SnapshotPageResponse is one page of a publication's current snapshots
type SnapshotPageResponse struct {
	Count     int                       `json:"count"`
	Next      *string                   `json:"next"`
	Previous  *string                   `json:"previous"`
	Snapshots []*simplebanners.Snapshot `json:"snapshots"`
}

// GetLive returns the live publication with a page of its banners, or an
// empty object when nothing is live.
func (h *PublicationHandler) GetLive(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := h.window(w, r)
	if !ok {
		return
	}

	page, err := h.service.GetLiveSnapshots(r.Context(), limit, offset)
	if errors.Is(err, simplebanners.ErrNoLivePublication) {
		render.JSON(w, r, struct{}{})
		return
	}
	if err != nil {
		writeError(w, r, "Failed to get live publication", err)
		return
	}

	next, previous := pageLinks(r, page.Count, page.Limit, page.Offset)
	render.JSON(w, r, LiveResponse{
		Count:       page.Count,
		Next:        next,
		Previous:    previous,
		ID:          page.Publication.ID,
		PublishedAt: page.Publication.PublishedAt,
		Banners:     simplebanners.NewBannerViews(page.Snapshots),
	})
}

// Publish snapshots every eligible entry into a new live publication
func (h *PublicationHandler) Publish(w http.ResponseWriter, r *http.Request) {
	var req PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, r, err.Error())
		return
	}

	result, err := h.service.Publish(r.Context(), req.ActorID)
	if err != nil {
		writeError(w, r, "Failed to publish", err)
		return
	}

	slog.Info("Publication published",
		"publication_id", result.PublicationID,
		"actor", req.ActorID,
		"kept", result.Reused,
		"newly_published", result.Created,
		"total", result.Total())
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, PublishResponse{
		PublicationID: result.PublicationID,
		Reused:        result.Reused,
		Created:       result.Created,
		Total:         result.Total(),
	})
}

// ListPublications lists publications newest first
func (h *PublicationHandler) ListPublications(w http.ResponseWriter, r *http.Request) {
	publications, err := h.service.ListPublications(r.Context())
	if err != nil {
		writeError(w, r, "Failed to list publications", err)
		return
	}
	if publications == nil {
		publications = []*simplebanners.Publication{}
	}
	render.JSON(w, r, publications)
}

// GetPublication retrieves a publication by ID
func (h *PublicationHandler) GetPublication(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "publication")
	if !ok {
		return
	}
	publication, err := h.service.GetPublication(r.Context(), id)
	if err != nil {
		writeError(w, r, "Failed to get publication", err)
		return
	}
	render.JSON(w, r, publication)
}

// ListCurrentSnapshots pages over the snapshots currently attributed to a
// publication
func (h *PublicationHandler) ListCurrentSnapshots(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "publication")
	if !ok {
		return
	}
	limit, offset, ok := h.window(w, r)
	if !ok {
		return
	}

	page, err := h.service.ListCurrentSnapshots(r.Context(), simplebanners.ListSnapshotsRequest{
		PublicationID: id,
		Limit:         limit,
		Offset:        offset,
	})
	if err != nil {
		writeError(w, r, "Failed to list snapshots", err)
		return
	}

	next, previous := pageLinks(r, page.Count, page.Limit, page.Offset)
	render.JSON(w, r, SnapshotPageResponse{
		Count:     page.Count,
		Next:      next,
		Previous:  previous,
		Snapshots: nonNilSnapshots(page.Snapshots),
	})
}

// ListPublicationLog lists every snapshot that was ever part of a publication
func (h *PublicationHandler) ListPublicationLog(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "publication")
	if !ok {
		return
	}
	snapshots, err := h.service.ListPublicationLog(r.Context(), id)
	if err != nil {
		writeError(w, r, "Failed to list publication log", err)
		return
	}
	render.JSON(w, r, nonNilSnapshots(snapshots))
}

// GetSnapshot retrieves a snapshot by ID
func (h *PublicationHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "snapshot")
	if !ok {
		return
	}
	snapshot, err := h.service.GetSnapshot(r.Context(), id)
	if err != nil {
		writeError(w, r, "Failed to get snapshot", err)
		return
	}
	render.JSON(w, r, snapshot)
}

// ListSnapshotPublications lists the publications a snapshot was part of
func (h *PublicationHandler) ListSnapshotPublications(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "snapshot")
	if !ok {
		return
	}
	ids, err := h.service.ListSnapshotPublications(r.Context(), id)
	if err != nil {
		writeError(w, r, "Failed to list snapshot publications", err)
		return
	}
	if ids == nil {
		ids = []uuid.UUID{}
	}
	render.JSON(w, r, ids)
}

// window reads limit/offset query parameters.
func (h *PublicationHandler) window(w http.ResponseWriter, r *http.Request) (int, int, bool) {
	limit, offset := h.defaultPageSize, 0
	q := r.URL.Query()
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			badRequest(w, r, "Invalid limit")
			return 0, 0, false
		}
		limit = n
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			badRequest(w, r, "Invalid offset")
			return 0, 0, false
		}
		offset = n
	}
	return limit, offset, true
}

// pageLinks builds absolute next/previous URLs for a limit/offset window.
// The previous link drops offset when it would be zero.
func pageLinks(r *http.Request, count, limit, offset int) (next, previous *string) {
	if offset+limit < count {
		link := pageURL(r, limit, offset+limit)
		next = &link
	}
	if offset > 0 {
		link := pageURL(r, limit, max(offset-limit, 0))
		previous = &link
	}
	return next, previous
}

func pageURL(r *http.Request, limit, offset int) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	q := r.URL.Query()
	q.Set("limit", strconv.Itoa(limit))
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	} else {
		q.Del("offset")
	}
	u := url.URL{Scheme: scheme, Host: r.Host, Path: r.URL.Path, RawQuery: q.Encode()}
	return u.String()
}

func nonNilSnapshots(in []*simplebanners.Snapshot) []*simplebanners.Snapshot {
	if in == nil {
		return []*simplebanners.Snapshot{}
	}
	return in
}

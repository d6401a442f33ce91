package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-banners/pkg/simplebanners"
	"github.com/tendant/simple-banners/pkg/simplebanners/repo/memory"
)

// setupRouterTest creates a router over an in-memory service
func setupRouterTest(t *testing.T, cfg RouterConfig) (*chi.Mux, simplebanners.Service) {
	t.Helper()
	service, err := simplebanners.New(
		simplebanners.WithRepository(memory.New()),
		simplebanners.WithEventSink(simplebanners.NewNoopEventSink()),
	)
	require.NoError(t, err)
	return NewRouter(service, cfg), service
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

// seedContainers creates page "home" and slot "top" over HTTP.
func seedContainers(t *testing.T, router http.Handler) (*simplebanners.Page, *simplebanners.Slot) {
	t.Helper()
	w := doJSON(t, router, http.MethodPost, "/api/v1/pages", PageRequest{Name: "home"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	page := decode[simplebanners.Page](t, w)

	w = doJSON(t, router, http.MethodPost, "/api/v1/slots", SlotRequest{Name: "top", PageID: page.ID.String()})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	slot := decode[simplebanners.Slot](t, w)
	return &page, &slot
}

func createEntry(t *testing.T, router http.Handler, slotID uuid.UUID, name string) EntryResponse {
	t.Helper()
	w := doJSON(t, router, http.MethodPost, "/api/v1/entries", EntryRequest{
		Name:      name,
		SlotID:    slotID.String(),
		Countries: []string{"DE"},
		Body:      "hello " + name,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[EntryResponse](t, w)
}

func TestLive_NothingPublished(t *testing.T) {
	router, _ := setupRouterTest(t, RouterConfig{})

	w := doJSON(t, router, http.MethodGet, "/api/v1/live", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{}`, w.Body.String())
}

func TestLive_PaginatedWireShape(t *testing.T) {
	router, _ := setupRouterTest(t, RouterConfig{})
	_, slot := seedContainers(t, router)
	for i := 0; i < 3; i++ {
		createEntry(t, router, slot.ID, fmt.Sprintf("banner-%d", i))
	}

	w := doJSON(t, router, http.MethodPost, "/api/v1/publish", PublishRequest{ActorID: "alice"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	published := decode[PublishResponse](t, w)
	assert.Equal(t, 0, published.Reused)
	assert.Equal(t, 3, published.Created)
	assert.Equal(t, 3, published.Total)

	w = doJSON(t, router, http.MethodGet, "/api/v1/live?limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
	for _, key := range []string{"count", "next", "previous", "id", "published_at", "banners"} {
		assert.Contains(t, raw, key)
	}

	live := decode[LiveResponse](t, w)
	assert.Equal(t, published.PublicationID, live.ID)
	assert.Equal(t, 3, live.Count)
	assert.Len(t, live.Banners, 2)
	require.NotNil(t, live.Next)
	assert.Contains(t, *live.Next, "offset=2")
	assert.Contains(t, *live.Next, "limit=2")
	assert.Nil(t, live.Previous)

	banner := live.Banners[0]
	assert.Equal(t, "top", banner.Slot.Name)
	assert.Equal(t, "home", banner.Slot.Page.Name)
	assert.Equal(t, []string{"DE"}, banner.Countries)
	assert.NotNil(t, banner.Languages)
	assert.NotNil(t, banner.Segments)

	w = doJSON(t, router, http.MethodGet, "/api/v1/live?limit=2&offset=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	live = decode[LiveResponse](t, w)
	assert.Len(t, live.Banners, 1)
	assert.Nil(t, live.Next)
	require.NotNil(t, live.Previous)
	assert.NotContains(t, *live.Previous, "offset=")
}

func TestLive_InvalidWindow(t *testing.T) {
	router, _ := setupRouterTest(t, RouterConfig{})

	for _, query := range []string{"limit=0", "limit=abc", "offset=-1"} {
		w := doJSON(t, router, http.MethodGet, "/api/v1/live?"+query, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, query)
	}
}

func TestLive_CacheHeader(t *testing.T) {
	router, _ := setupRouterTest(t, RouterConfig{LiveMaxAge: 30 * time.Second})

	w := doJSON(t, router, http.MethodGet, "/api/v1/live", nil)
	assert.Equal(t, "public, max-age=30", w.Header().Get("Cache-Control"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = doJSON(t, router, http.MethodGet, "/api/v1/publications", nil)
	assert.Empty(t, w.Header().Get("Cache-Control"))
}

func TestPublish_Validation(t *testing.T) {
	router, _ := setupRouterTest(t, RouterConfig{})

	w := doJSON(t, router, http.MethodPost, "/api/v1/publish", PublishRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/publish", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type conflictingService struct {
	simplebanners.Service
}

func (conflictingService) Publish(context.Context, string) (*simplebanners.PublishResult, error) {
	return nil, &simplebanners.PublicationError{Op: "publish", Err: simplebanners.ErrPublishConflict}
}

func TestPublish_Conflict(t *testing.T) {
	_, service := setupRouterTest(t, RouterConfig{})
	router := NewRouter(conflictingService{Service: service}, RouterConfig{})

	w := doJSON(t, router, http.MethodPost, "/api/v1/publish", PublishRequest{ActorID: "alice"})
	assert.Equal(t, http.StatusConflict, w.Code)
	resp := decode[ErrorResponse](t, w)
	assert.True(t, resp.Retryable)
}

func TestPublicationHistory(t *testing.T) {
	router, _ := setupRouterTest(t, RouterConfig{})
	_, slot := seedContainers(t, router)
	entry := createEntry(t, router, slot.ID, "A")

	first := decode[PublishResponse](t, doJSON(t, router, http.MethodPost, "/api/v1/publish", PublishRequest{ActorID: "alice"}))
	second := decode[PublishResponse](t, doJSON(t, router, http.MethodPost, "/api/v1/publish", PublishRequest{ActorID: "bob"}))
	assert.Equal(t, 1, second.Reused)
	assert.Equal(t, 0, second.Created)

	w := doJSON(t, router, http.MethodGet, "/api/v1/publications", nil)
	require.Equal(t, http.StatusOK, w.Code)
	publications := decode[[]simplebanners.Publication](t, w)
	require.Len(t, publications, 2)
	assert.Equal(t, second.PublicationID, publications[0].ID)
	assert.Equal(t, simplebanners.PublicationStateLive, publications[0].State)
	assert.Equal(t, simplebanners.PublicationStateDeactivated, publications[1].State)

	w = doJSON(t, router, http.MethodGet, "/api/v1/publications/"+first.PublicationID.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", decode[simplebanners.Publication](t, w).PublishedBy)

	// The snapshot moved to the second publication; the first keeps it only
	// in its log.
	w = doJSON(t, router, http.MethodGet, "/api/v1/publications/"+first.PublicationID.String()+"/snapshots", nil)
	require.Equal(t, http.StatusOK, w.Code)
	current := decode[SnapshotPageResponse](t, w)
	assert.Equal(t, 0, current.Count)
	assert.NotNil(t, current.Snapshots)

	w = doJSON(t, router, http.MethodGet, "/api/v1/publications/"+first.PublicationID.String()+"/log", nil)
	require.Equal(t, http.StatusOK, w.Code)
	logged := decode[[]simplebanners.Snapshot](t, w)
	require.Len(t, logged, 1)
	assert.Equal(t, entry.ID, logged[0].EntryID)

	w = doJSON(t, router, http.MethodGet, "/api/v1/snapshots/"+logged[0].ID.String()+"/publications", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []uuid.UUID{first.PublicationID, second.PublicationID}, decode[[]uuid.UUID](t, w))

	w = doJSON(t, router, http.MethodGet, "/api/v1/snapshots/"+logged[0].ID.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, second.PublicationID, decode[simplebanners.Snapshot](t, w).CurrentPublicationID)

	w = doJSON(t, router, http.MethodGet, "/api/v1/entries/"+entry.ID.String()+"/snapshots", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]simplebanners.Snapshot](t, w), 1)
}

func TestPublications_NotFoundAndBadID(t *testing.T) {
	router, _ := setupRouterTest(t, RouterConfig{})

	w := doJSON(t, router, http.MethodGet, "/api/v1/publications/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/v1/publications/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid publication ID")

	w = doJSON(t, router, http.MethodGet, "/api/v1/snapshots/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEntries_CRUD(t *testing.T) {
	router, _ := setupRouterTest(t, RouterConfig{})
	_, slot := seedContainers(t, router)

	created := createEntry(t, router, slot.ID, "A")
	assert.True(t, created.HasChangesToPublish)
	assert.Equal(t, simplebanners.DefaultPriority, created.Priority)
	assert.False(t, created.ContentHash.IsZero())

	priority := 3
	w := doJSON(t, router, http.MethodPut, "/api/v1/entries/"+created.ID.String(), EntryRequest{
		Name:     "A",
		SlotID:   slot.ID.String(),
		Priority: &priority,
		Body:     "changed",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	updated := decode[EntryResponse](t, w)
	assert.Equal(t, 3, updated.Priority)
	assert.NotEqual(t, created.ContentHash, updated.ContentHash)

	w = doJSON(t, router, http.MethodGet, "/api/v1/entries/"+created.ID.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "changed", decode[EntryResponse](t, w).Body)

	w = doJSON(t, router, http.MethodGet, "/api/v1/entries?slot_id="+slot.ID.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]EntryResponse](t, w), 1)

	w = doJSON(t, router, http.MethodDelete, "/api/v1/entries/"+created.ID.String(), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/v1/entries", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[[]EntryResponse](t, w))

	w = doJSON(t, router, http.MethodGet, "/api/v1/entries?include_inactive=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	inactive := decode[[]EntryResponse](t, w)
	require.Len(t, inactive, 1)
	assert.False(t, inactive[0].Active)
}

func TestEntries_Validation(t *testing.T) {
	router, _ := setupRouterTest(t, RouterConfig{})
	_, slot := seedContainers(t, router)
	createEntry(t, router, slot.ID, "A")

	tests := []struct {
		name   string
		body   EntryRequest
		status int
	}{
		{"invalid slot id", EntryRequest{Name: "x", SlotID: "nope"}, http.StatusBadRequest},
		{"unknown slot", EntryRequest{Name: "x", SlotID: uuid.NewString()}, http.StatusNotFound},
		{"missing name", EntryRequest{SlotID: slot.ID.String()}, http.StatusBadRequest},
		{"duplicate name", EntryRequest{Name: "A", SlotID: slot.ID.String()}, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, router, http.MethodPost, "/api/v1/entries", tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
}

func TestEntries_Duplicate(t *testing.T) {
	router, _ := setupRouterTest(t, RouterConfig{})
	_, slot := seedContainers(t, router)
	a := createEntry(t, router, slot.ID, "A")
	b := createEntry(t, router, slot.ID, "B")

	w := doJSON(t, router, http.MethodPost, "/api/v1/entries/duplicate", DuplicateRequest{IDs: []string{a.ID.String(), b.ID.String()}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	resp := decode[DuplicateResponse](t, w)
	require.Len(t, resp.IDs, 2)

	w = doJSON(t, router, http.MethodGet, "/api/v1/entries/"+resp.IDs[0].String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(decode[EntryResponse](t, w).Name, "A (copy "))

	w = doJSON(t, router, http.MethodPost, "/api/v1/entries/duplicate", DuplicateRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/v1/entries/duplicate", DuplicateRequest{IDs: []string{"bad"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/v1/entries/duplicate", DuplicateRequest{IDs: []string{uuid.NewString()}})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestContainers_ReferentialProtection(t *testing.T) {
	router, _ := setupRouterTest(t, RouterConfig{})
	page, slot := seedContainers(t, router)
	createEntry(t, router, slot.ID, "A")

	w := doJSON(t, router, http.MethodDelete, "/api/v1/slots/"+slot.ID.String(), nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(t, router, http.MethodDelete, "/api/v1/pages/"+page.ID.String(), nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/v1/pages", PageRequest{Name: "home"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/v1/pages", PageRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestContainers_UpdateSlotHidesEntries(t *testing.T) {
	router, _ := setupRouterTest(t, RouterConfig{})
	page, slot := seedContainers(t, router)
	createEntry(t, router, slot.ID, "A")

	w := doJSON(t, router, http.MethodPut, "/api/v1/slots/"+slot.ID.String(), SlotRequest{
		Name:   "top",
		PageID: page.ID.String(),
		Hidden: true,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, decode[simplebanners.Slot](t, w).Hidden)

	published := decode[PublishResponse](t, doJSON(t, router, http.MethodPost, "/api/v1/publish", PublishRequest{ActorID: "alice"}))
	assert.Equal(t, 0, published.Total)

	w = doJSON(t, router, http.MethodGet, "/api/v1/slots", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]simplebanners.Slot](t, w), 1)

	w = doJSON(t, router, http.MethodGet, "/api/v1/pages/"+page.ID.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "home", decode[simplebanners.Page](t, w).Name)
}

func TestRouter_AdminMiddleware(t *testing.T) {
	deny := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-Api-Key") == "" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
	router, _ := setupRouterTest(t, RouterConfig{AdminMiddleware: []func(http.Handler) http.Handler{deny}})

	w := doJSON(t, router, http.MethodGet, "/api/v1/live", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	for _, path := range []string{"/api/v1/publications", "/api/v1/entries", "/api/v1/pages", "/api/v1/slots"} {
		w = doJSON(t, router, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}
	w = doJSON(t, router, http.MethodPost, "/api/v1/publish", PublishRequest{ActorID: "alice"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{&simplebanners.EntryError{Op: "get", Err: simplebanners.ErrEntryNotFound}, http.StatusNotFound},
		{simplebanners.ErrNoLivePublication, http.StatusNotFound},
		{&simplebanners.PublicationError{Op: "publish", Err: simplebanners.ErrPublishConflict}, http.StatusConflict},
		{simplebanners.ErrSlotInUse, http.StatusConflict},
		{simplebanners.ErrDuplicateName, http.StatusConflict},
		{fmt.Errorf("%w: name is required", simplebanners.ErrInvalidEntry), http.StatusBadRequest},
		{context.Canceled, http.StatusServiceUnavailable},
		{fmt.Errorf("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, statusFor(tt.err), tt.err.Error())
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := RecoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

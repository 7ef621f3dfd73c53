package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lodgevision/signage/internal/api"
	"github.com/lodgevision/signage/internal/gateway"
	"github.com/lodgevision/signage/internal/model"
	"github.com/lodgevision/signage/internal/pairing"
	"github.com/lodgevision/signage/internal/registry"
	"github.com/lodgevision/signage/internal/resolver"
	"github.com/lodgevision/signage/internal/syncgroup"
)

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type testServer struct {
	router *gin.Engine
	reg    *registry.Memory
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	clock := clockwork.NewRealClock()
	reg := registry.NewMemory()
	store := syncgroup.NewMemoryStore()

	manager := gateway.NewConnectionManager(gateway.DefaultConnectionConfig())
	broker := pairing.NewBroker(reg, clock, 6, time.Minute)
	gw := gateway.NewService(manager, broker, reg)

	coordinator := syncgroup.NewCoordinator(store, gw, nil, clock, time.Second)
	t.Cleanup(coordinator.Shutdown)
	gw.SetCoordinatorHooks(coordinator)

	res := resolver.New(reg, reg, reg, reg, reg, coordinator, clock)
	return &testServer{router: api.NewRouter(coordinator, res, gw), reg: reg}
}

func (s *testServer) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, apiResponse) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var resp apiResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), "body: %s", w.Body.String())
	return w, resp
}

func (s *testServer) createGroup(t *testing.T, name string, displayIDs ...string) model.SyncGroup {
	t.Helper()
	w, resp := s.do(t, http.MethodPost, "/api/sync-groups", gin.H{
		"name": name, "display_ids": displayIDs,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var g model.SyncGroup
	require.NoError(t, json.Unmarshal(resp.Data, &g))
	return g
}

func TestCreateSyncGroup(t *testing.T) {
	s := newTestServer(t)

	g := s.createGroup(t, "Lobby wall", "d1", "d2")
	assert.Equal(t, "Lobby wall", g.Name)
	assert.Equal(t, model.PlaybackStopped, g.PlaybackState)
}

func TestCreateSyncGroupValidation(t *testing.T) {
	s := newTestServer(t)

	w, resp := s.do(t, http.MethodPost, "/api/sync-groups", gin.H{"display_ids": []string{"d1"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)
}

func TestGetSyncGroupNotFound(t *testing.T) {
	s := newTestServer(t)

	w, resp := s.do(t, http.MethodGet, "/api/sync-groups/6ba7b810-9dad-11d1-80b4-00c04fd430c8", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "GROUP_NOT_FOUND", resp.Error.Code)
}

func TestGetSyncGroupBadID(t *testing.T) {
	s := newTestServer(t)

	w, resp := s.do(t, http.MethodGet, "/api/sync-groups/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)
}

func TestPlaybackFlow(t *testing.T) {
	s := newTestServer(t)
	g := s.createGroup(t, "Bar", "d1")
	base := fmt.Sprintf("/api/sync-groups/%s/playback", g.ID)

	w, resp := s.do(t, http.MethodPost, base+"/start", gin.H{
		"content_id": "c1", "start_position": 12.5,
	})
	require.Equal(t, http.StatusOK, w.Code)
	var got model.SyncGroup
	require.NoError(t, json.Unmarshal(resp.Data, &got))
	assert.Equal(t, model.PlaybackPlaying, got.PlaybackState)
	assert.Equal(t, 12.5, got.CurrentTime)

	w, _ = s.do(t, http.MethodPost, base+"/pause", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(t, http.MethodPost, base+"/resume", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, resp = s.do(t, http.MethodPost, base+"/seek", gin.H{"position": 99.0})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(resp.Data, &got))
	assert.Equal(t, 99.0, got.CurrentTime)

	w, resp = s.do(t, http.MethodPost, base+"/stop", nil)
	require.Equal(t, http.StatusOK, w.Code)
	got = model.SyncGroup{}
	require.NoError(t, json.Unmarshal(resp.Data, &got))
	assert.Equal(t, model.PlaybackStopped, got.PlaybackState)
	assert.Nil(t, got.CurrentContentID)
}

func TestStartPlaybackRequiresContent(t *testing.T) {
	s := newTestServer(t)
	g := s.createGroup(t, "Bar", "d1")

	w, resp := s.do(t, http.MethodPost,
		fmt.Sprintf("/api/sync-groups/%s/playback/start", g.ID), gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)
}

func TestResumeWithoutContentConflicts(t *testing.T) {
	s := newTestServer(t)
	g := s.createGroup(t, "Bar", "d1")

	w, resp := s.do(t, http.MethodPost,
		fmt.Sprintf("/api/sync-groups/%s/playback/resume", g.ID), nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "NO_CONTENT", resp.Error.Code)
}

func TestElectConductorNoConnections(t *testing.T) {
	s := newTestServer(t)
	g := s.createGroup(t, "Bar", "d1")

	w, resp := s.do(t, http.MethodPost,
		fmt.Sprintf("/api/sync-groups/%s/conductor", g.ID), nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "NO_CONNECTED_DISPLAYS", resp.Error.Code)
}

func TestDeleteSyncGroup(t *testing.T) {
	s := newTestServer(t)
	g := s.createGroup(t, "Bar", "d1")

	w, resp := s.do(t, http.MethodDelete, "/api/sync-groups/"+g.ID.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)

	w, _ = s.do(t, http.MethodGet, "/api/sync-groups/"+g.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCurrentSourceUnknownDisplay(t *testing.T) {
	s := newTestServer(t)

	w, resp := s.do(t, http.MethodGet, "/api/displays/ghost/current-source", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "NOT_FOUND", resp.Error.Code)
}

func TestCurrentSourceResolves(t *testing.T) {
	s := newTestServer(t)
	fallback := "fb"
	s.reg.PutDisplay(model.Display{ID: "d1", HotelID: "h1", FallbackContentID: &fallback})

	w, resp := s.do(t, http.MethodGet, "/api/displays/d1/current-source", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var src model.ContentSource
	require.NoError(t, json.Unmarshal(resp.Data, &src))
	assert.Equal(t, model.SourceFallback, src.Type)
}

func TestConfirmPairingUnknownCode(t *testing.T) {
	s := newTestServer(t)

	w, resp := s.do(t, http.MethodPost, "/api/displays/confirm-pairing", gin.H{
		"code": "ABCDEF", "display_id": "d1",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "NOT_FOUND", resp.Error.Code)
}

func TestConfirmPairingValidation(t *testing.T) {
	s := newTestServer(t)

	w, resp := s.do(t, http.MethodPost, "/api/displays/confirm-pairing", gin.H{"code": "ABCDEF"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)
}

func TestQuickPlayValidation(t *testing.T) {
	s := newTestServer(t)

	w, _ := s.do(t, http.MethodPost, "/api/displays/d1/quick-play", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, resp := s.do(t, http.MethodPost, "/api/displays/d1/quick-play", gin.H{
		"url": "https://example.com/promo.mp4",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

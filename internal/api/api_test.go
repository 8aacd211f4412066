package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traxcore/telemetry-core/internal/command"
	"github.com/traxcore/telemetry-core/internal/config"
	"github.com/traxcore/telemetry-core/internal/geofence"
	"github.com/traxcore/telemetry-core/internal/logging"
	"github.com/traxcore/telemetry-core/internal/session"
	"github.com/traxcore/telemetry-core/internal/store"
	"github.com/traxcore/telemetry-core/pkg/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeAccess struct {
	visible map[string][]string
}

func (f *fakeAccess) DevicesVisibleTo(_ context.Context, userRef string) ([]string, error) {
	return f.visible[userRef], nil
}

func testLogger() *logging.Logger {
	cfg := logging.DefaultLoggerConfig()
	cfg.Output = io.Discard
	return logging.NewLogger(cfg)
}

func testCommandEngine(t *testing.T, st store.Store) *command.Engine {
	t.Helper()
	cfg := &config.Config{
		CommandNoSessionBackoff: 0,
		CommandAckTimeout:       0,
		CommandMaxRetries:       3,
	}
	return command.NewEngine(cfg, testLogger(), st, session.NewRegistry(nil), nil)
}

func TestLatestPositionForbiddenOutsideFleet(t *testing.T) {
	st := store.NewMemStore()
	access := &fakeAccess{visible: map[string][]string{"user-1": {"device-1"}}}

	r := gin.New()
	r.Use(ErrorHandler())
	r.Use(func(c *gin.Context) { c.Set("user_ref", "user-1"); c.Next() })
	positions := NewPositionsHandler(st, access)
	r.GET("/devices/:id/positions/latest", positions.Latest)

	req := httptest.NewRequest(http.MethodGet, "/devices/device-99/positions/latest", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestLatestPositionNotFoundWhenNoneRecorded(t *testing.T) {
	st := store.NewMemStore()
	access := &fakeAccess{visible: map[string][]string{"user-1": {"device-1"}}}

	r := gin.New()
	r.Use(ErrorHandler())
	r.Use(func(c *gin.Context) { c.Set("user_ref", "user-1"); c.Next() })
	positions := NewPositionsHandler(st, access)
	r.GET("/devices/:id/positions/latest", positions.Latest)

	req := httptest.NewRequest(http.MethodGet, "/devices/device-1/positions/latest", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSubmitCommandQueuesAgainstStore(t *testing.T) {
	st := store.NewMemStore()
	engine := testCommandEngine(t, st)

	r := gin.New()
	r.Use(ErrorHandler())
	handler := NewCommandsHandler(engine, st)
	r.POST("/devices/:id/commands", handler.Submit)

	body := `{"command_type":"REBOOT"}`
	req := httptest.NewRequest(http.MethodPost, "/devices/device-1/commands", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)

	var resp SuccessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	commands, err := st.CommandsForDevice(context.Background(), "device-1", 10)
	require.NoError(t, err)
	require.Len(t, commands, 1)
	assert.Equal(t, models.StatusQueued, commands[0].Status)
}

func TestCancelUnknownCommandReturnsNotFound(t *testing.T) {
	st := store.NewMemStore()
	engine := testCommandEngine(t, st)

	r := gin.New()
	r.Use(ErrorHandler())
	handler := NewCommandsHandler(engine, st)
	r.DELETE("/commands/:commandId", handler.Cancel)

	req := httptest.NewRequest(http.MethodDelete, "/commands/does-not-exist", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGeofenceCRUDReloadsCache(t *testing.T) {
	st := store.NewMemStore()
	cache := geofence.NewCache()

	r := gin.New()
	r.Use(ErrorHandler())
	handler := NewGeofencesHandler(st, cache, testLogger())
	r.POST("/geofences", handler.Create)
	r.DELETE("/geofences/:id", handler.Delete)

	body := `{"name":"depot","type":"Circle","geometry":{"type":"Circle","center":[106.8,-6.2],"radius":100}}`
	req := httptest.NewRequest(http.MethodPost, "/geofences", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	assert.NotNil(t, cache.Containing(-6.2, 106.8))

	var resp SuccessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	created := resp.Data.(map[string]interface{})
	id := created["id"].(string)

	req = httptest.NewRequest(http.MethodDelete, "/geofences/"+id, nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	assert.Empty(t, cache.Containing(-6.2, 106.8), "deleted geofence must not remain in the reloaded cache")
}

func TestUserContextRejectsMissingIdentity(t *testing.T) {
	r := gin.New()
	r.Use(ErrorHandler())
	r.Use(UserContext())
	r.GET("/whoami", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"user_ref": UserRef(c)}) })

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUserContextAcceptsQueryParamForWebSocketHandshake(t *testing.T) {
	r := gin.New()
	r.Use(ErrorHandler())
	r.Use(UserContext())
	r.GET("/whoami", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"user_ref": UserRef(c)}) })

	req := httptest.NewRequest(http.MethodGet, "/whoami?user_ref=user-1", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

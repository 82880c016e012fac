package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/shootpoints/internal/db"
	"github.com/banshee-data/shootpoints/internal/geometry"
	"github.com/banshee-data/shootpoints/internal/httputil"
	"github.com/banshee-data/shootpoints/internal/monitoring"
	"github.com/banshee-data/shootpoints/internal/station"
	"github.com/banshee-data/shootpoints/internal/survey"
	"github.com/banshee-data/shootpoints/internal/surveyerr"
	"github.com/banshee-data/shootpoints/internal/testutil"
	"github.com/banshee-data/shootpoints/internal/totalstation"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

type testServer struct {
	store  *db.DB
	engine *survey.Engine
	mux    http.Handler
}

// setupTestServer wires a server to a fresh database and a simulator whose
// prism sits 10 m due north of the instrument.
func setupTestServer(t *testing.T) testServer {
	t.Helper()
	store := testutil.OpenTestDB(t)
	sim := totalstation.NewSimulator(nil, totalstation.SimulatorConfig{
		Delay:  time.Millisecond,
		Target: geometry.Point{Northing: 10},
	}, nil)
	t.Cleanup(func() { sim.Close() })
	engine := survey.New(store, sim, survey.Options{MeasureTimeout: 5 * time.Second})
	return testServer{
		store:  store,
		engine: engine,
		mux:    LoggingMiddleware(NewServer(engine, store).ServeMux()),
	}
}

func (s testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	s.mux.ServeHTTP(w, testutil.NewJSONRequest(t, method, path, body))
	return w
}

type seeded struct {
	site     db.Site
	dp1      db.Station
	class    db.Class
	subclass db.Subclass
}

func (s testServer) seed(t *testing.T) seeded {
	t.Helper()
	var out seeded

	w := s.do(t, http.MethodPost, "/api/sites", map[string]any{"name": "Tel Kabri"})
	testutil.AssertStatusCode(t, w.Code, http.StatusCreated)
	out.site = testutil.DecodeJSON[db.Site](t, w)

	w = s.do(t, http.MethodPost, "/api/sites/"+itoa(out.site.ID)+"/stations", map[string]any{"name": "DP1"})
	testutil.AssertStatusCode(t, w.Code, http.StatusCreated)
	out.dp1 = testutil.DecodeJSON[db.Station](t, w)

	w = s.do(t, http.MethodPost, "/api/classes", map[string]any{"name": "Architecture"})
	testutil.AssertStatusCode(t, w.Code, http.StatusCreated)
	out.class = testutil.DecodeJSON[db.Class](t, w)

	w = s.do(t, http.MethodPost, "/api/classes/"+itoa(out.class.ID)+"/subclasses", map[string]any{"name": "Wall"})
	testutil.AssertStatusCode(t, w.Code, http.StatusCreated)
	out.subclass = testutil.DecodeJSON[db.Subclass](t, w)
	return out
}

func (s testServer) startSession(t *testing.T, f seeded) db.Session {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/sessions", survey.SessionConfig{
		Label:             "Area A",
		Surveyor:          "RS",
		Mode:              station.ModeAzimuth,
		OccupiedStationID: f.dp1.ID,
		Azimuth:           "0 0 0",
		InstrumentHeight:  1.5,
	})
	testutil.AssertStatusCode(t, w.Code, http.StatusCreated)
	return testutil.DecodeJSON[db.Session](t, w)
}

func (s testServer) startGrouping(t *testing.T, f seeded, kind db.GeometryKind) db.Grouping {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/groupings", survey.GroupingConfig{
		Label:      "Wall 1",
		Geometry:   kind,
		ClassID:    f.class.ID,
		SubclassID: f.subclass.ID,
	})
	testutil.AssertStatusCode(t, w.Code, http.StatusCreated)
	return testutil.DecodeJSON[db.Grouping](t, w)
}

func itoa(id int64) string { return strconv.FormatInt(id, 10) }

type stateBody struct {
	Phase   survey.Phase            `json:"phase"`
	Pending *geometry.ShotCandidate `json:"pending"`
}

func TestShowState_Phases(t *testing.T) {
	s := setupTestServer(t)

	w := s.do(t, http.MethodGet, "/api/state", nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	assert.Equal(t, survey.PhaseNoSite, testutil.DecodeJSON[stateBody](t, w).Phase)

	f := s.seed(t)
	w = s.do(t, http.MethodGet, "/api/state", nil)
	assert.Equal(t, survey.PhaseSitesAndStationsReady, testutil.DecodeJSON[stateBody](t, w).Phase)

	s.startSession(t, f)
	w = s.do(t, http.MethodGet, "/api/state", nil)
	assert.Equal(t, survey.PhaseSessionActive, testutil.DecodeJSON[stateBody](t, w).Phase)

	s.startGrouping(t, f, db.OpenPolygon)
	w = s.do(t, http.MethodGet, "/api/state", nil)
	assert.Equal(t, survey.PhaseGroupingActive, testutil.DecodeJSON[stateBody](t, w).Phase)
}

func TestListModels(t *testing.T) {
	s := setupTestServer(t)
	w := s.do(t, http.MethodGet, "/api/models", nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	models := testutil.DecodeJSON[[]totalstation.Model](t, w)
	require.Len(t, models, len(totalstation.Models))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
}

func TestStations(t *testing.T) {
	s := setupTestServer(t)
	f := s.seed(t)

	zone := "36S"
	w := s.do(t, http.MethodPost, "/api/sites/"+itoa(f.site.ID)+"/stations", map[string]any{
		"name":      "GPS1",
		"system":    "utm",
		"northing":  3600000.0,
		"easting":   700000.0,
		"elevation": 12.0,
		"utm_zone":  zone,
	})
	testutil.AssertStatusCode(t, w.Code, http.StatusCreated)
	gps := testutil.DecodeJSON[db.Station](t, w)
	require.NotNil(t, gps.Latitude)
	require.NotNil(t, gps.Longitude)

	w = s.do(t, http.MethodGet, "/api/sites/"+itoa(f.site.ID)+"/stations", nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	stations := testutil.DecodeJSON[[]db.Station](t, w)
	assert.Len(t, stations, 2)

	w = s.do(t, http.MethodGet, "/api/sites/999/stations", nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusNotFound)
	assert.Equal(t, surveyerr.NotFound, testutil.DecodeJSON[httputil.ErrorBody](t, w).Code)

	w = s.do(t, http.MethodGet, "/api/sites/abc/stations", nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusUnprocessableEntity)

	w = s.do(t, http.MethodPost, "/api/sites/"+itoa(f.site.ID)+"/stations", map[string]any{"name": " "})
	testutil.AssertStatusCode(t, w.Code, http.StatusUnprocessableEntity)
}

func TestDeleteRecords(t *testing.T) {
	s := setupTestServer(t)
	f := s.seed(t)

	w := s.do(t, http.MethodPost, "/api/sites/"+itoa(f.site.ID)+"/stations", map[string]any{"name": "DP2", "northing": 50.0})
	testutil.AssertStatusCode(t, w.Code, http.StatusCreated)
	dp2 := testutil.DecodeJSON[db.Station](t, w)

	w = s.do(t, http.MethodDelete, "/api/stations/"+itoa(dp2.ID), nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusNoContent)
	w = s.do(t, http.MethodDelete, "/api/stations/"+itoa(dp2.ID), nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusNotFound)

	s.startSession(t, f)
	s.startGrouping(t, f, db.PointCloud)

	for _, path := range []string{
		"/api/stations/" + itoa(f.dp1.ID),
		"/api/sites/" + itoa(f.site.ID),
		"/api/classes/" + itoa(f.class.ID),
		"/api/subclasses/" + itoa(f.subclass.ID),
	} {
		w = s.do(t, http.MethodDelete, path, nil)
		testutil.AssertStatusCode(t, w.Code, http.StatusConflict)
		assert.Equal(t, surveyerr.Conflict, testutil.DecodeJSON[httputil.ErrorBody](t, w).Code, path)
	}

	w = s.do(t, http.MethodPost, "/api/classes", map[string]any{"name": "Finds"})
	testutil.AssertStatusCode(t, w.Code, http.StatusCreated)
	finds := testutil.DecodeJSON[db.Class](t, w)
	w = s.do(t, http.MethodDelete, "/api/classes/"+itoa(finds.ID), nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusNoContent)

	w = s.do(t, http.MethodDelete, "/api/subclasses/abc", nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusUnprocessableEntity)
}

func TestShotWorkflow(t *testing.T) {
	s := setupTestServer(t)
	f := s.seed(t)
	sess := s.startSession(t, f)
	g := s.startGrouping(t, f, db.IsolatedPoint)

	w := s.do(t, http.MethodPost, "/api/shots", nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	c := testutil.DecodeJSON[geometry.ShotCandidate](t, w)
	assert.Equal(t, g.ID, c.GroupingID)
	assert.InDelta(t, 10.0, c.Point.Northing, 1e-6)
	assert.InDelta(t, 0.0, c.Point.Easting, 1e-6)

	w = s.do(t, http.MethodGet, "/api/state", nil)
	pending := testutil.DecodeJSON[stateBody](t, w).Pending
	require.NotNil(t, pending)
	assert.Equal(t, c.ID, pending.ID)

	w = s.do(t, http.MethodPost, "/api/shots/save", map[string]any{"id": c.ID.String(), "comment": "NE corner"})
	testutil.AssertStatusCode(t, w.Code, http.StatusCreated)

	shots, err := s.store.ListShots(context.Background(), g.ID)
	require.NoError(t, err)
	require.Len(t, shots, 1)
	require.NotNil(t, shots[0].Comment)
	assert.Equal(t, "NE corner", *shots[0].Comment)

	// An isolated point holds one shot.
	w = s.do(t, http.MethodPost, "/api/shots", nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusConflict)
	assert.Equal(t, surveyerr.GeometryCapacity, testutil.DecodeJSON[httputil.ErrorBody](t, w).Code)

	w = s.do(t, http.MethodGet, "/api/sessions/"+itoa(sess.ID)+"/geojson", nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	assert.Equal(t, "application/geo+json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "session-"+itoa(sess.ID)+"-Area_A.geojson")
	assert.Contains(t, w.Body.String(), `"FeatureCollection"`)

	w = s.do(t, http.MethodPost, "/api/sessions/end", nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusNoContent)
	w = s.do(t, http.MethodGet, "/api/sessions", nil)
	sessions := testutil.DecodeJSON[[]db.Session](t, w)
	require.Len(t, sessions, 1)
	assert.NotNil(t, sessions[0].Ended)
}

func TestSaveShot_Errors(t *testing.T) {
	s := setupTestServer(t)
	f := s.seed(t)
	s.startSession(t, f)
	s.startGrouping(t, f, db.PointCloud)

	w := s.do(t, http.MethodPost, "/api/shots/save", map[string]any{})
	testutil.AssertStatusCode(t, w.Code, http.StatusUnprocessableEntity)

	w = s.do(t, http.MethodPost, "/api/shots", nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)

	w = s.do(t, http.MethodPost, "/api/shots/save", map[string]any{"id": "not-the-pending-shot"})
	testutil.AssertStatusCode(t, w.Code, http.StatusUnprocessableEntity)

	w = s.do(t, http.MethodPost, "/api/shots/discard", nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	assert.Contains(t, w.Body.String(), `"discarded":true`)

	w = s.do(t, http.MethodPost, "/api/shots/discard", nil)
	assert.Contains(t, w.Body.String(), `"discarded":false`)
}

func TestPrerequisites(t *testing.T) {
	s := setupTestServer(t)

	w := s.do(t, http.MethodPost, "/api/sessions", survey.SessionConfig{
		Label: "Area A", Surveyor: "RS", Mode: station.ModeAzimuth, Azimuth: "0 0 0", InstrumentHeight: 1.5,
	})
	testutil.AssertStatusCode(t, w.Code, http.StatusPreconditionFailed)

	w = s.do(t, http.MethodPost, "/api/shots", nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusPreconditionFailed)

	w = s.do(t, http.MethodPost, "/api/sessions/end", nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusPreconditionFailed)
}

func TestAdjust(t *testing.T) {
	s := setupTestServer(t)

	w := s.do(t, http.MethodPost, "/api/adjust", map[string]any{
		"atmosphere": map[string]float64{"pressure": 700, "temperature": 28},
	})
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	cond := testutil.DecodeJSON[survey.Conditions](t, w)
	assert.Equal(t, 700.0, cond.Pressure)
	assert.Equal(t, 28.0, cond.Temperature)

	w = s.do(t, http.MethodPost, "/api/adjust", map[string]any{"altitude": 12})
	testutil.AssertStatusCode(t, w.Code, http.StatusUnprocessableEntity)
	assert.Equal(t, surveyerr.Validation, testutil.DecodeJSON[httputil.ErrorBody](t, w).Code)
}

func TestMethodNotAllowed(t *testing.T) {
	s := setupTestServer(t)
	w := s.do(t, http.MethodDelete, "/api/state", nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusMethodNotAllowed)
}

func TestStatusCodeColor(t *testing.T) {
	assert.Equal(t, colorBoldGreen+"200"+colorReset, statusCodeColor(200))
	assert.Equal(t, colorYellow+"304"+colorReset, statusCodeColor(304))
	assert.Equal(t, colorBoldRed+"422"+colorReset, statusCodeColor(422))
	assert.Equal(t, colorBoldRed+"502"+colorReset, statusCodeColor(502))
	assert.Equal(t, "101", statusCodeColor(101))
}

// Package api serves the survey engine and its storage over JSON HTTP.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/shootpoints/internal/db"
	"github.com/banshee-data/shootpoints/internal/export"
	"github.com/banshee-data/shootpoints/internal/geometry"
	"github.com/banshee-data/shootpoints/internal/httputil"
	"github.com/banshee-data/shootpoints/internal/monitoring"
	"github.com/banshee-data/shootpoints/internal/survey"
	"github.com/banshee-data/shootpoints/internal/surveyerr"
	"github.com/banshee-data/shootpoints/internal/totalstation"
)

var logf = monitoring.Component("api")

// ANSI escape codes used by the request log.
const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

type Server struct {
	engine *survey.Engine
	db     *db.DB
}

func NewServer(engine *survey.Engine, store *db.DB) *Server {
	return &Server{engine: engine, db: store}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	s := strconv.Itoa(statusCode)
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + s + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + s + colorReset
	case statusCode >= 400:
		return colorBoldRed + s + colorReset
	default:
		return s
	}
}

// LoggingMiddleware logs method, path, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		logf("[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/state", s.showState)
	mux.HandleFunc("GET /api/models", s.listModels)

	mux.HandleFunc("GET /api/sites", s.listSites)
	mux.HandleFunc("POST /api/sites", s.createSite)
	mux.HandleFunc("GET /api/sites/{id}/stations", s.listStations)
	mux.HandleFunc("POST /api/sites/{id}/stations", s.createStation)

	mux.HandleFunc("GET /api/classes", s.listClasses)
	mux.HandleFunc("POST /api/classes", s.createClass)
	mux.HandleFunc("GET /api/classes/{id}/subclasses", s.listSubclasses)
	mux.HandleFunc("POST /api/classes/{id}/subclasses", s.createSubclass)

	mux.HandleFunc("DELETE /api/sites/{id}", s.deleteRecord(s.db.DeleteSite))
	mux.HandleFunc("DELETE /api/stations/{id}", s.deleteRecord(s.db.DeleteStation))
	mux.HandleFunc("DELETE /api/classes/{id}", s.deleteRecord(s.db.DeleteClass))
	mux.HandleFunc("DELETE /api/subclasses/{id}", s.deleteRecord(s.db.DeleteSubclass))

	mux.HandleFunc("GET /api/sessions", s.listSessions)
	mux.HandleFunc("POST /api/sessions", s.startSession)
	mux.HandleFunc("POST /api/sessions/end", s.endSession)
	mux.HandleFunc("GET /api/sessions/{id}/geojson", s.sessionGeoJSON)

	mux.HandleFunc("POST /api/groupings", s.startGrouping)
	mux.HandleFunc("POST /api/adjust", s.adjust)

	mux.HandleFunc("POST /api/shots", s.takeShot)
	mux.HandleFunc("POST /api/shots/save", s.saveShot)
	mux.HandleFunc("POST /api/shots/discard", s.discardShot)
	return mux
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, surveyerr.NewValidation("invalid id %q", r.PathValue("id"))
	}
	return id, nil
}

type stateResponse struct {
	Phase survey.Phase `json:"phase"`
	survey.State
}

func (s *Server) showState(w http.ResponseWriter, r *http.Request) {
	phase, err := s.engine.Phase(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSONOK(w, stateResponse{Phase: phase, State: s.engine.Current()})
}

func (s *Server) listModels(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, totalstation.AllModels())
}

func (s *Server) listSites(w http.ResponseWriter, r *http.Request) {
	sites, err := s.db.ListSites(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSONOK(w, sites)
}

func (s *Server) createSite(w http.ResponseWriter, r *http.Request) {
	var site db.Site
	if err := httputil.DecodeJSON(w, r, &site); err != nil {
		httputil.WriteError(w, err)
		return
	}
	site.ID = 0
	if err := s.db.CreateSite(r.Context(), &site); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, site)
}

func (s *Server) listStations(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if _, err := s.db.GetSite(r.Context(), id); err != nil {
		httputil.WriteError(w, err)
		return
	}
	stations, err := s.db.ListStations(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSONOK(w, stations)
}

// stationRequest is a station in any supported coordinate system.
type stationRequest struct {
	Name        string              `json:"name"`
	Description *string             `json:"description"`
	System      db.CoordinateSystem `json:"system"`
	Northing    float64             `json:"northing"`
	Easting     float64             `json:"easting"`
	Elevation   float64             `json:"elevation"`
	Zone        string              `json:"utm_zone"`
	Latitude    float64             `json:"latitude"`
	Longitude   float64             `json:"longitude"`
}

func (s *Server) createStation(w http.ResponseWriter, r *http.Request) {
	siteID, err := pathID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req stationRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if req.System == "" {
		req.System = db.SystemSite
	}
	st, err := db.StationInput{
		SiteID:      siteID,
		Name:        req.Name,
		Description: req.Description,
		System:      req.System,
		Northing:    req.Northing,
		Easting:     req.Easting,
		Elevation:   req.Elevation,
		Zone:        req.Zone,
		Latitude:    req.Latitude,
		Longitude:   req.Longitude,
	}.Station()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := s.db.CreateStation(r.Context(), st); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, st)
}

func (s *Server) listClasses(w http.ResponseWriter, r *http.Request) {
	classes, err := s.db.ListClasses(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSONOK(w, classes)
}

func (s *Server) createClass(w http.ResponseWriter, r *http.Request) {
	var c db.Class
	if err := httputil.DecodeJSON(w, r, &c); err != nil {
		httputil.WriteError(w, err)
		return
	}
	c.ID = 0
	if err := s.db.CreateClass(r.Context(), &c); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, c)
}

func (s *Server) listSubclasses(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	subs, err := s.db.ListSubclasses(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSONOK(w, subs)
}

func (s *Server) createSubclass(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var sc db.Subclass
	if err := httputil.DecodeJSON(w, r, &sc); err != nil {
		httputil.WriteError(w, err)
		return
	}
	sc.ID, sc.ClassID = 0, id
	if err := s.db.CreateSubclass(r.Context(), &sc); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, sc)
}

// deleteRecord removes the record named by the path id. Records still
// referenced elsewhere come back as a conflict.
func (s *Server) deleteRecord(del func(context.Context, int64) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		if err := del(r.Context(), id); err != nil {
			httputil.WriteError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.db.ListSessions(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSONOK(w, sessions)
}

// startSession runs the whole setup in one request. Over HTTP there is no
// one to prompt between steps, so the surveyor aims before posting; for a
// resection the right station is sighted straight after the left.
func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	var cfg survey.SessionConfig
	if err := httputil.DecodeJSON(w, r, &cfg); err != nil {
		httputil.WriteError(w, err)
		return
	}
	sess, err := s.engine.StartSession(r.Context(), cfg)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, sess)
}

func (s *Server) endSession(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.EndSession(r.Context()); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) sessionGeoJSON(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	sess, err := s.db.GetSession(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	fc, err := export.SessionGeoJSON(r.Context(), s.db, id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	data, err := fc.MarshalJSON()
	if err != nil {
		httputil.WriteError(w, surveyerr.NewInternal(err))
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.Header().Set("Content-Disposition", `attachment; filename="`+export.DefaultFilename(id, sess.Label)+`"`)
	w.Write(data)
}

func (s *Server) startGrouping(w http.ResponseWriter, r *http.Request) {
	var cfg survey.GroupingConfig
	if err := httputil.DecodeJSON(w, r, &cfg); err != nil {
		httputil.WriteError(w, err)
		return
	}
	g, err := s.engine.StartGrouping(r.Context(), cfg)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, g)
}

func (s *Server) adjust(w http.ResponseWriter, r *http.Request) {
	var adj survey.Adjustment
	if err := httputil.DecodeJSON(w, r, &adj); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := s.engine.Adjust(r.Context(), adj); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSONOK(w, s.engine.Current().Conditions)
}

// takeShot measures while the request is open. A client that disconnects
// cancels the measurement.
func (s *Server) takeShot(w http.ResponseWriter, r *http.Request) {
	c, err := s.engine.TakeShot(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSONOK(w, c)
}

type saveRequest struct {
	ID      string `json:"id"`
	Comment string `json:"comment"`
}

type saveResponse struct {
	ShotID int64 `json:"shot_id"`
}

func (s *Server) saveShot(w http.ResponseWriter, r *http.Request) {
	var req saveRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	pending := s.engine.Current().Pending
	if pending == nil {
		httputil.WriteError(w, surveyerr.NewValidation("there is no pending shot"))
		return
	}
	if req.ID != "" && req.ID != pending.ID.String() {
		httputil.WriteError(w, surveyerr.NewValidation("shot %s is not the pending shot", req.ID))
		return
	}
	id, err := s.engine.SaveShot(r.Context(), pending, req.Comment)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, saveResponse{ShotID: id})
}

type discardResponse struct {
	Discarded bool                    `json:"discarded"`
	Shot      *geometry.ShotCandidate `json:"shot,omitempty"`
}

func (s *Server) discardShot(w http.ResponseWriter, r *http.Request) {
	pending := s.engine.Current().Pending
	httputil.WriteJSONOK(w, discardResponse{Discarded: s.engine.DiscardShot(), Shot: pending})
}

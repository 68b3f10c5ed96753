package api

import (
	"bytes"
	"log"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/noise.report/internal/aggregate"
	"github.com/banshee-data/noise.report/internal/config"
	"github.com/banshee-data/noise.report/internal/httputil"
	"github.com/banshee-data/noise.report/internal/render"
	"github.com/banshee-data/noise.report/internal/units"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// DefaultHeatmapMinDB is used when a heatmap request carries no min_db.
const DefaultHeatmapMinDB = render.HeatmapMinDB

type Server struct {
	agg *aggregate.Service
	cfg *config.Config
}

func NewServer(agg *aggregate.Service, cfg *config.Config) *Server {
	return &Server{
		agg: agg,
		cfg: cfg,
	}
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
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/snapshot", s.showSnapshot)
	mux.HandleFunc("/api/refresh", s.refreshSnapshot)
	mux.HandleFunc("/api/gauge", s.showGauge)
	mux.HandleFunc("/api/heatmap", s.showHeatmap)
	mux.HandleFunc("/api/config", s.showConfig)
	mux.HandleFunc("/charts/gauge", s.gaugeChart)
	mux.HandleFunc("/charts/heatmap", s.heatmapChart)
	return mux
}

type snapshotResponse struct {
	DayOptions  []aggregate.DayOption `json:"day_options"`
	RecordCount int                   `json:"record_count"`
	RefreshedAt *time.Time            `json:"refreshed_at"`
}

func newSnapshotResponse(snap aggregate.Snapshot) snapshotResponse {
	resp := snapshotResponse{
		DayOptions:  snap.DayOptions,
		RecordCount: len(snap.Records),
	}
	if !snap.RefreshedAt.IsZero() {
		at := snap.RefreshedAt
		resp.RefreshedAt = &at
	}
	return resp
}

func (s *Server) showSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, newSnapshotResponse(s.agg.Snapshot()))
}

func (s *Server) refreshSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	snap, err := s.agg.RefreshSnapshot(r.Context())
	if err != nil {
		httputil.InternalServerError(w, "failed to refresh snapshot")
		log.Printf("api: %v", err)
		return
	}
	httputil.WriteJSONOK(w, newSnapshotResponse(snap))
}

type gaugeResponse struct {
	Day         *int                  `json:"day"`
	Value       float64               `json:"value"`
	Band        units.Band            `json:"band"`
	ReferenceDB float64               `json:"reference_db"`
	Summary     *aggregate.DaySummary `json:"summary,omitempty"`
}

// parseDay reads the optional day query parameter. A day no longer offered
// by the snapshot is treated as no selection.
func (s *Server) parseDay(r *http.Request) (*int, bool) {
	raw := r.URL.Query().Get("day")
	if raw == "" {
		return nil, true
	}
	day, err := strconv.Atoi(raw)
	if err != nil || day < 1 || day > 31 {
		return nil, false
	}
	return aggregate.ReconcileSelection(s.agg.Snapshot().DayOptions, &day), true
}

// parseMinDB reads the optional min_db threshold. Only finite numbers are
// accepted.
func parseMinDB(r *http.Request) (float64, bool) {
	raw := r.URL.Query().Get("min_db")
	if raw == "" {
		return DefaultHeatmapMinDB, true
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func (s *Server) showGauge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	day, ok := s.parseDay(r)
	if !ok {
		httputil.BadRequest(w, "day must be an integer between 1 and 31")
		return
	}

	value := s.agg.Gauge(day)
	resp := gaugeResponse{
		Day:         day,
		Value:       value,
		Band:        units.Classify(value),
		ReferenceDB: units.GaugeReferenceDB,
	}
	if day != nil {
		summary := s.agg.DaySummary(*day)
		resp.Summary = &summary
	}
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) showHeatmap(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	minDb, ok := parseMinDB(r)
	if !ok {
		httputil.BadRequest(w, "min_db must be a finite number")
		return
	}
	httputil.WriteJSONOK(w, s.agg.Heatmap(minDb))
}

func (s *Server) gaugeChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	day, ok := s.parseDay(r)
	if !ok {
		httputil.BadRequest(w, "day must be an integer between 1 and 31")
		return
	}
	var buf bytes.Buffer
	if err := render.GaugeHTML(&buf, s.agg.Gauge(day), day); err != nil {
		httputil.InternalServerError(w, "failed to render gauge")
		log.Printf("api: render gauge: %v", err)
		return
	}
	httputil.WriteHTML(w, buf.Bytes())
}

func (s *Server) heatmapChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	minDb, ok := parseMinDB(r)
	if !ok {
		httputil.BadRequest(w, "min_db must be a finite number")
		return
	}
	var buf bytes.Buffer
	if err := render.HeatmapHTML(&buf, s.agg.Heatmap(minDb), minDb); err != nil {
		httputil.InternalServerError(w, "failed to render heatmap")
		log.Printf("api: render heatmap: %v", err)
		return
	}
	httputil.WriteHTML(w, buf.Bytes())
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.cfg)
}

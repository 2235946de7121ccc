package main

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/cyclopcam/logs"
	goahttp "goa.design/goa/v3/http"
	httpmdlwr "goa.design/goa/v3/http/middleware"
	"goa.design/goa/v3/middleware"

	"redlight/internal/auth"
	"redlight/internal/config"
	"redlight/internal/crosswalk"
	"redlight/internal/logging"
	authmw "redlight/internal/middleware"
	"redlight/internal/pipeline"
	"redlight/internal/pipeline/detectors"
	"redlight/internal/ws"
)

// statusSource reports the run state of the pipeline
type statusSource interface {
	Status() pipeline.StatusEvent
}

// apiServer holds everything the HTTP endpoints read or control
type apiServer struct {
	processor *pipeline.Processor
	status    statusSource
	tuning    *tuningStore
	auth      *auth.Authenticator
	registry  *detectors.Registry
	hub       *ws.Hub
	mjpeg     http.Handler
	snapshot  http.Handler
	log       logs.Log
}

type clientCounter interface {
	ClientCount() int
}

type healthResponse struct {
	Status        string                    `json:"status"`
	Pipeline      *pipeline.StatusEvent     `json:"pipeline,omitempty"`
	Detectors     []detectors.BackendHealth `json:"detectors"`
	ZebraLocator  bool                      `json:"zebra_locator"`
	WSClients     int                       `json:"ws_clients"`
	StreamClients int                       `json:"stream_clients"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type statsResponse struct {
	SourceID string              `json:"source_id,omitempty"`
	Seq      uint64              `json:"seq"`
	Light    pipeline.LightState `json:"light"`
	Stats    pipeline.FrameStats `json:"stats"`
	Progress *pipeline.Progress  `json:"progress,omitempty"`
}

type tracksResponse struct {
	Seq          uint64                  `json:"seq"`
	Line         *pipeline.ViolationLine `json:"line,omitempty"`
	Tracks       []pipeline.TrackStatus  `json:"tracks"`
	ViolatingIDs []int                   `json:"violating_ids"`
}

type configResponse struct {
	Effective *config.TuningConfig `json:"effective"`
	Override  *config.TuningConfig `json:"override"`
}

type detectionState struct {
	Enabled *bool `json:"enabled"`
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// newHandler mounts every endpoint on a goa muxer and wraps it with the
// shared middlewares
func newHandler(api *apiServer, debug bool) http.Handler {
	mux := goahttp.NewMuxer()
	protect := authmw.AuthMiddleware(api.auth)

	mux.Handle("GET", "/health", api.health)
	mux.Handle("POST", "/api/auth/login", api.login)
	mux.Handle("GET", "/api/stats", api.stats)
	mux.Handle("GET", "/api/tracks", api.tracks)
	mux.Handle("GET", "/api/config", api.getConfig)
	mux.Handle("PUT", "/api/config", protect(http.HandlerFunc(api.putConfig)).ServeHTTP)
	mux.Handle("POST", "/api/reset", protect(http.HandlerFunc(api.reset)).ServeHTTP)
	mux.Handle("GET", "/api/detection", api.getDetection)
	mux.Handle("PUT", "/api/detection", protect(http.HandlerFunc(api.putDetection)).ServeHTTP)
	if api.hub != nil {
		mux.Handle("GET", "/ws", ws.NewHandler(api.hub, api.sourceID()).ServeHTTP)
	}
	if api.mjpeg != nil {
		mux.Handle("GET", "/stream.mjpg", api.mjpeg.ServeHTTP)
	}
	if api.snapshot != nil {
		mux.Handle("GET", "/snapshot.jpg", api.snapshot.ServeHTTP)
	}

	var handler http.Handler = mux
	if debug {
		handler = httpmdlwr.Debug(mux, os.Stdout)(handler)
	}
	handler = accessLog(logging.Component(api.log, "HTTP"))(handler)
	handler = httpmdlwr.RequestID()(handler)
	return handler
}

// handleHTTPServer starts the HTTP server on addr and shuts it down when
// ctx is cancelled
func handleHTTPServer(ctx context.Context, addr string, api *apiServer, wg *sync.WaitGroup, errc chan error, logger logs.Log, debug bool) {
	log := logging.Component(logger, "HTTP")
	srv := &http.Server{Addr: addr, Handler: newHandler(api, debug), ReadHeaderTimeout: time.Second * 60}

	wg.Add(1)
	go func() {
		defer wg.Done()

		go func() {
			log.Infof("HTTP server listening on %q", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- err
			}
		}()

		<-ctx.Done()
		log.Infof("Shutting down HTTP server at %q", addr)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Warnf("Failed to shutdown: %v", err)
		}
	}()
}

func (a *apiServer) sourceID() string {
	if a.status == nil {
		return ""
	}
	return a.status.Status().SourceID
}

func (a *apiServer) health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:       "ok",
		Detectors:    []detectors.BackendHealth{},
		ZebraLocator: crosswalk.Available,
	}
	if a.status != nil {
		st := a.status.Status()
		resp.Pipeline = &st
		if st.Status == pipeline.StatusSourceUnavailable {
			resp.Status = "degraded"
		}
	}
	if a.registry != nil {
		resp.Detectors = a.registry.Health()
		if len(resp.Detectors) > 0 && len(a.registry.Healthy()) == 0 {
			resp.Status = "degraded"
		}
	}
	if a.hub != nil {
		resp.WSClients = a.hub.ClientCount()
	}
	if c, ok := a.mjpeg.(clientCounter); ok {
		resp.StreamClients = c.ClientCount()
	}
	writeJSON(w, r, http.StatusOK, resp)
}

func (a *apiServer) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := goahttp.RequestDecoder(r).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	token, expiresAt, err := a.auth.Authenticate(req.Username, req.Password)
	switch {
	case errors.Is(err, auth.ErrAuthDisabled):
		writeError(w, r, http.StatusNotFound, err)
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, err)
	case err != nil:
		a.log.Errorf("Login failed: %v", err)
		writeError(w, r, http.StatusInternalServerError, errors.New("login failed"))
	default:
		writeJSON(w, r, http.StatusOK, loginResponse{Token: token, ExpiresAt: expiresAt})
	}
}

func (a *apiServer) stats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{Light: pipeline.LightState{Color: pipeline.LightUnknown}}
	if last := a.processor.LastResult(); last != nil {
		resp = statsResponse{
			SourceID: last.SourceID,
			Seq:      last.Seq,
			Light:    last.Light,
			Stats:    last.Stats,
			Progress: last.Progress,
		}
	}
	writeJSON(w, r, http.StatusOK, resp)
}

func (a *apiServer) tracks(w http.ResponseWriter, r *http.Request) {
	resp := tracksResponse{Tracks: []pipeline.TrackStatus{}, ViolatingIDs: []int{}}
	if last := a.processor.LastResult(); last != nil {
		resp.Seq = last.Seq
		resp.Line = last.Line
		if last.Tracks != nil {
			resp.Tracks = last.Tracks
		}
		if last.ViolatingIDs != nil {
			resp.ViolatingIDs = last.ViolatingIDs
		}
	}
	writeJSON(w, r, http.StatusOK, resp)
}

func (a *apiServer) getConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, configResponse{Effective: a.tuning.Effective(), Override: a.tuning.Override()})
}

func (a *apiServer) putConfig(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	patch := config.EmptyTuningConfig()
	if err := goahttp.RequestDecoder(r).Decode(patch); err != nil {
		writeError(w, r, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	effective, err := a.tuning.Apply(patch)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if claims := authmw.GetUserFromContext(r.Context()); claims != nil {
		a.log.Infof("Tuning updated by %s", claims.Username)
	}
	writeJSON(w, r, http.StatusOK, configResponse{Effective: effective, Override: a.tuning.Override()})
}

func (a *apiServer) reset(w http.ResponseWriter, r *http.Request) {
	a.processor.Reset()
	w.WriteHeader(http.StatusNoContent)
}

func (a *apiServer) getDetection(w http.ResponseWriter, r *http.Request) {
	enabled := a.processor.DetectionEnabled()
	writeJSON(w, r, http.StatusOK, detectionState{Enabled: &enabled})
}

func (a *apiServer) putDetection(w http.ResponseWriter, r *http.Request) {
	var req detectionState
	if err := goahttp.RequestDecoder(r).Decode(&req); err != nil || req.Enabled == nil {
		writeError(w, r, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	a.processor.SetDetectionEnabled(*req.Enabled)
	enabled := a.processor.DetectionEnabled()
	writeJSON(w, r, http.StatusOK, detectionState{Enabled: &enabled})
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, v any) {
	enc := goahttp.ResponseEncoder(r.Context(), w)
	w.WriteHeader(code)
	enc.Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, err error) {
	resp := errorResponse{Error: err.Error()}
	if id, ok := r.Context().Value(middleware.RequestIDKey).(string); ok {
		resp.RequestID = id
	}
	writeJSON(w, r, code, resp)
}

// statusRecorder captures the response code for the access log. It passes
// through Hijack and Flush for the websocket and MJPEG handlers.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	s.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

func accessLog(log logs.Log) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)
			id, _ := r.Context().Value(middleware.RequestIDKey).(string)
			log.Debugf("[%s] %s %s %d %v", id, r.Method, r.URL.Path, rec.status, time.Since(start).Round(time.Microsecond))
		})
	}
}

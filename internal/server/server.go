package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/audiolibrelab/audiobridge/internal/audio"
	"github.com/audiolibrelab/audiobridge/internal/service"
	"github.com/audiolibrelab/audiobridge/internal/session"
)

// Server represents the web server for controlling the audio bridge
type Server struct {
	service    service.Service
	port       string
	router     *mux.Router
	httpServer *http.Server
}

// StatusResponse represents the JSON response for status-returning endpoints
type StatusResponse struct {
	Success bool `json:"success"`
	service.Status
	ClipURL string `json:"clip_url,omitempty"`
}

// SourcesResponse represents the JSON response for sources endpoint
type SourcesResponse struct {
	Success bool               `json:"success"`
	Sources []audio.SourceInfo `json:"sources"`
}

// RecordingsResponse lists recordings saved on the laptop side
type RecordingsResponse struct {
	Success    bool                    `json:"success"`
	Recordings []service.RecordingInfo `json:"recordings"`
}

// New creates a new web server instance around svc
func New(svc service.Service, port string) *Server {
	s := &Server{
		service: svc,
		port:    port,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.withMetrics)

	r.HandleFunc("/", s.handleIndex).Methods("GET")
	r.HandleFunc("/status", s.handleStatus).Methods("GET")
	r.HandleFunc("/record/start", s.handleStartRecording).Methods("POST")
	r.HandleFunc("/record/stop", s.handleStopRecording).Methods("POST")
	r.HandleFunc("/record/reset", s.handleReset).Methods("POST")
	r.HandleFunc("/transfer", s.handleTransfer).Methods("POST")
	r.HandleFunc("/playback/play", s.handlePlay).Methods("POST")
	r.HandleFunc("/playback/pause", s.handlePause).Methods("POST")
	r.HandleFunc("/view/{view}", s.handleView).Methods("POST")
	r.HandleFunc("/download", s.handleDownload).Methods("GET")
	r.HandleFunc("/save", s.handleSave).Methods("POST")
	r.HandleFunc("/api/clips/{handle}", s.handleClip).Methods("GET")
	r.HandleFunc("/sources", s.handleSources).Methods("GET")
	r.HandleFunc("/recordings", s.handleRecordings).Methods("GET")
	r.HandleFunc("/recordings/{name}", s.handleRecordingDownload).Methods("GET")
	r.Handle("/metrics", s.service.Metrics().Handler()).Methods("GET")

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.sendErrorResponse(w, http.StatusNotFound, "Not found", "path", r.URL.Path)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed", "method", r.Method, "path", r.URL.Path)
	})
	return r
}

// Handler returns the router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the web server and blocks until it stops
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Get local IP address
	localIP := getLocalIP()

	slog.Info("Starting Audio Bridge Web Server",
		"port", s.port,
		"local_url", fmt.Sprintf("http://%s:%s", localIP, s.port),
		"localhost_url", fmt.Sprintf("http://localhost:%s", s.port))

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and waits for active ones
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// handleIndex serves the phone/laptop web UI
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	io.WriteString(w, indexHTML)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.sendStatus(w)
}

// handleStartRecording asks for the microphone and starts recording
func (s *Server) handleStartRecording(w http.ResponseWriter, r *http.Request) {
	if err := s.service.StartRecording(r.Context()); err != nil {
		code := http.StatusInternalServerError
		switch {
		case errors.Is(err, audio.ErrPermissionDenied):
			code = http.StatusForbidden
		case errors.Is(err, audio.ErrDeviceUnavailable):
			code = http.StatusServiceUnavailable
		}
		s.sendErrorResponse(w, code, s.service.GetLastError(), "operation", "start_recording", "error", err)
		return
	}
	s.sendStatus(w)
}

func (s *Server) handleStopRecording(w http.ResponseWriter, r *http.Request) {
	s.service.StopRecording()
	s.sendStatus(w)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.service.Reset()
	s.sendStatus(w)
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	s.service.StartTransfer()
	s.sendStatus(w)
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Play(); err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError, fmt.Sprintf("Failed to play recording: %v", err), "operation", "play")
		return
	}
	s.sendStatus(w)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.service.Pause()
	s.sendStatus(w)
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	view := mux.Vars(r)["view"]
	if err := s.service.SetView(view); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, err.Error(), "view", view)
		return
	}
	s.sendStatus(w)
}

// handleDownload serves the current clip as an attachment
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	d, err := s.service.Download(r.URL.Query().Get("format"))
	if err != nil {
		code := http.StatusBadRequest
		if errors.Is(err, session.ErrNoClip) {
			code = http.StatusNotFound
		}
		s.sendErrorResponse(w, code, err.Error(), "operation", "download")
		return
	}

	w.Header().Set("Content-Type", d.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", d.Name))
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(d.Data)))
	if _, err := w.Write(d.Data); err != nil {
		slog.Error("Error serving download", "file", d.Name, "error", err)
	}
}

// handleSave stores the current clip in the output directory
func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	path, err := s.service.SaveRecording(r.URL.Query().Get("format"))
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, session.ErrNoClip) {
			code = http.StatusNotFound
		}
		s.sendErrorResponse(w, code, err.Error(), "operation", "save")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"path":    path,
		"name":    filepath.Base(path),
	})
}

// handleClip streams the clip behind a live handle as WAV, with range support
func (s *Server) handleClip(w http.ResponseWriter, r *http.Request) {
	handle := audio.Handle(mux.Vars(r)["handle"])
	clip, ok := s.service.Clip(handle)
	if !ok {
		s.sendErrorResponse(w, http.StatusNotFound, "Clip not found", "handle", handle)
		return
	}

	data, err := clip.Encode(audio.EncodingWAV)
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError, "Failed to encode clip", "error", err)
		return
	}

	w.Header().Set("Content-Type", audio.EncodingWAV.ContentType())
	w.Header().Set("Cache-Control", "no-store")
	http.ServeContent(w, r, "clip.wav", clip.CreatedAt(), bytes.NewReader(data))
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.service.Sources()
	if err != nil {
		s.sendErrorResponse(w, http.StatusServiceUnavailable, fmt.Sprintf("Failed to list sources: %v", err))
		return
	}
	if sources == nil {
		sources = []audio.SourceInfo{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(SourcesResponse{Success: true, Sources: sources})
}

func (s *Server) handleRecordings(w http.ResponseWriter, r *http.Request) {
	recordings, err := s.service.ListRecordings()
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError, fmt.Sprintf("Failed to list recordings: %v", err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(RecordingsResponse{Success: true, Recordings: recordings})
}

// handleRecordingDownload serves a saved recording for download
func (s *Server) handleRecordingDownload(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	path, err := s.service.RecordingPath(name)
	if err != nil {
		s.sendErrorResponse(w, http.StatusNotFound, err.Error(), "name", name)
		return
	}

	file, err := os.Open(path)
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError, "Error opening file", "error", err)
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError, "Error accessing file", "error", err)
		return
	}

	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", name))
	http.ServeContent(w, r, name, info.ModTime(), file)
}

func (s *Server) sendStatus(w http.ResponseWriter) {
	status := s.service.Status()
	resp := StatusResponse{Success: true, Status: status}
	if status.HasClip() {
		resp.ClipURL = "/api/clips/" + string(status.Handle)
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	json.NewEncoder(w).Encode(resp)
}

// sendErrorResponse logs the error and sends a JSON error response to the client
func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string, logContext ...interface{}) {
	// Log the error with structured context
	logFields := []interface{}{"error_message", errorMsg, "status_code", statusCode}
	if len(logContext) > 0 {
		logFields = append(logFields, logContext...)
	}
	if statusCode >= 500 {
		slog.Error("Sending error response to client", logFields...)
	} else {
		slog.Warn("Sending error response to client", logFields...)
	}

	// Send JSON error response
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   errorMsg,
	})
}

// withMetrics wraps every route with request metrics, labelled by route template
func (s *Server) withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(ww, r)

		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tpl
			}
		}

		m := s.service.Metrics()
		duration := time.Since(startTime).Seconds()
		m.RecordHTTPRequest(r.Method, endpoint, fmt.Sprintf("%d", ww.statusCode), duration)

		// Record error if status code indicates an error
		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			m.RecordHTTPError(r.Method, endpoint, errorType)
		}
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func getLocalIP() string {
	// Try to connect to a remote address to determine local IP
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}

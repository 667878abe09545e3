package server

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/qvarn/qvarn/internal/model"
	"github.com/qvarn/qvarn/internal/resource"
)

// APIVersion is reported by GET /version.
const APIVersion = "1.0.0"

// Options tune the HTTP surface.
type Options struct {
	// Auth validates bearer tokens. Nil disables authorization.
	Auth *Authenticator

	// AccessLog enables access-log records for the ids a request returns,
	// AccessLogChunkSize ids per record (all in one when zero).
	AccessLog          bool
	AccessLogChunkSize int

	// Version is the implementation version reported by GET /version.
	Version string
}

// Server serves the resource types of a set of services over HTTP.
type Server struct {
	services []*resource.Service
	opts     Options
}

// New returns a server for services.
func New(services []*resource.Service, opts Options) *Server {
	return &Server{services: services, opts: opts}
}

// NewHTTPHandler returns an http.Handler with all routes registered.
// /healthcheck and /version never require authorization.
func (s *Server) NewHTTPHandler() http.Handler {
	r := mux.NewRouter().UseEncodedPath()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, req, model.ErrNotFound(req.URL.Path))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, req, &model.Error{
			Code:    "MethodNotAllowed",
			Status:  http.StatusMethodNotAllowed,
			Message: req.Method + " is not allowed on " + req.URL.Path,
		})
	})
	r.Use(s.authorize)

	r.HandleFunc("/healthcheck", handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/version", s.handleVersion).Methods(http.MethodGet)
	for _, svc := range s.services {
		h := &typeHandler{Server: s, svc: svc, path: svc.Type().Path}
		h.routeListeners(r)
		h.routeItems(r)
	}
	return logRequests(recoverPanics(r))
}

// handleHealth handles GET /healthcheck.
func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "OK"})
}

// handleVersion handles GET /version.
func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"api":            map[string]string{"version": APIVersion},
		"implementation": map[string]string{"name": "Qvarn", "version": s.opts.Version},
	})
}

// typeHandler serves the routes of one resource type.
type typeHandler struct {
	*Server
	svc  *resource.Service
	path string
}

// Package api exposes a repo over HTTP: document endpoints for local edits,
// a WebSocket endpoint for peers and Prometheus metrics.
package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/serroba/docsync/internal/repo"
	"github.com/serroba/docsync/internal/share"
)

// DefaultFindTimeout bounds how long a GET waits for a document to load.
const DefaultFindTimeout = 10 * time.Second

// Server handles HTTP requests for a repo.
type Server struct {
	repo        *repo.Repo
	grants      share.Store
	registry    *prometheus.Registry
	findTimeout time.Duration
}

// ServerConfig holds configuration for creating a server.
type ServerConfig struct {
	Repo *repo.Repo

	// Grants backs the share endpoints. Nil disables them.
	Grants share.Store

	// Registry is served on /metrics. Nil uses the repo's registry.
	Registry *prometheus.Registry

	FindTimeout time.Duration
}

// NewServer creates a new API server.
func NewServer(cfg ServerConfig) *Server {
	registry := cfg.Registry
	if registry == nil {
		registry = cfg.Repo.Metrics().Registry
	}

	findTimeout := cfg.FindTimeout
	if findTimeout <= 0 {
		findTimeout = DefaultFindTimeout
	}

	return &Server{
		repo:        cfg.Repo,
		grants:      cfg.Grants,
		registry:    registry,
		findTimeout: findTimeout,
	}
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(logRequests)

	r.HandleFunc("/documents", s.handleCreateDocument).Methods(http.MethodPost)
	r.HandleFunc("/documents/{id}", s.handleGetDocument).Methods(http.MethodGet)
	r.HandleFunc("/documents/{id}", s.handlePatchDocument).Methods(http.MethodPatch)
	r.HandleFunc("/documents/{id}", s.handleDeleteDocument).Methods(http.MethodDelete)
	r.HandleFunc("/documents/{id}/counters/{key}", s.handleIncrement).Methods(http.MethodPost)
	r.HandleFunc("/documents/{id}/conflicts/{key}", s.handleConflicts).Methods(http.MethodGet)

	if s.grants != nil {
		r.HandleFunc("/documents/{id}/shares", s.handleListShares).Methods(http.MethodGet)
		r.HandleFunc("/documents/{id}/shares/{peer}", s.handleGrantShare).Methods(http.MethodPut)
		r.HandleFunc("/documents/{id}/shares/{peer}", s.handleRevokeShare).Methods(http.MethodDelete)
	}

	r.HandleFunc("/peers", s.handleListPeers).Methods(http.MethodGet)
	r.HandleFunc("/sync", s.handleSync).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	return r
}

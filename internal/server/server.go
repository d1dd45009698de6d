// Package server implements the loopback HTTP endpoint that serves
// credentials to client applications using the ECS container credential
// wire contract.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/JohnPreston/credproxy/internal/config"
	"github.com/JohnPreston/credproxy/internal/credential"
	"github.com/JohnPreston/credproxy/internal/log"
	"github.com/JohnPreston/credproxy/internal/metrics"
)

// CredentialsResponse is the ECS-style credential body.
type CredentialsResponse struct {
	AccessKeyID     string `json:"AccessKeyId"`
	SecretAccessKey string `json:"SecretAccessKey"`
	Token           string `json:"Token"`
	Expiration      string `json:"Expiration"`
}

// HealthResponse is returned from GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Services int    `json:"services"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Server is the request-facing façade over the service table. The read path
// resolves the bearer token, reads the entry's current snapshot, and renders
// the response; it never touches the refresh path.
type Server struct {
	cfg    config.ServerConfig
	table  *credential.Table
	server *http.Server
}

// New builds the façade bound to the configured host and port.
func New(cfg config.ServerConfig, table *credential.Table) *Server {
	s := &Server{cfg: cfg, table: table}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("HEAD /health", s.handleHealth)
	mux.HandleFunc("GET /v1/credentials", s.handleCredentials)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the mux (for testing).
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// ListenAndServe blocks serving requests until Shutdown.
func (s *Server) ListenAndServe() error {
	log.Info("credential endpoint listening", "addr", s.server.Addr)
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.cfg.LogHealthChecks {
		log.Info("health check", "services", s.table.Count())
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy", Services: s.table.Count()})
}

func (s *Server) handleCredentials(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	token := r.Header.Get("Authorization")
	if token == "" {
		metrics.RecordRequest("unauthorized", "unknown", time.Since(start))
		log.Warn("request missing Authorization header")
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "Authorization header required"})
		return
	}
	// ECS agents send the bare token; other clients use a Bearer scheme.
	token = strings.TrimPrefix(token, "Bearer ")

	name, err := s.table.ResolveToken(token)
	if err != nil {
		metrics.RecordRequest("unauthorized", "unknown", time.Since(start))
		log.Warn("invalid authorization token", "token", log.TokenPrefix(token))
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "Invalid authorization token"})
		return
	}

	snap, err := s.table.SnapshotFor(name)
	switch {
	case err == nil:
		metrics.RecordRequest("success", name, time.Since(start))
		log.Debug("serving credentials", "service", name)
		writeJSON(w, http.StatusOK, CredentialsResponse{
			AccessKeyID:     snap.AccessKeyID,
			SecretAccessKey: snap.SecretAccessKey,
			Token:           snap.SessionToken,
			Expiration:      snap.Expiration.UTC().Format(time.RFC3339),
		})

	case errors.Is(err, credential.ErrNotReady):
		metrics.RecordRequest("not_ready", name, time.Since(start))
		log.Info("credentials not ready yet", "service", name)
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "Credentials not ready"})

	default:
		metrics.RecordRequest("error", name, time.Since(start))
		log.Error("credential read failed", "service", name, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Failed to get credentials"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn("encoding response failed", "error", err)
	}
}

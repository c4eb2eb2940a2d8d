// File: internal/transport/server.go
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/droidpilot/api/schemas"
	"github.com/xkilldash9x/droidpilot/internal/config"
)

// TaskSubmitter is the control-side surface the server exposes outward.
// Satisfied by *agent.Runner.
type TaskSubmitter interface {
	Submit(ctx context.Context, req schemas.TaskRequest) (schemas.TaskOutcome, error)
}

// GatewayAPI is the slice of the gateway the HTTP layer needs.
type GatewayAPI interface {
	Snapshot(deviceID string) (schemas.UISnapshot, error)
	PollPending(deviceID string) []schemas.Action
	PostResult(res schemas.ActionResult)
	PostSnapshot(snap schemas.UISnapshot)
}

// Server is the thin HTTP face of the gateway: decode, delegate, encode.
// Device-side routes authenticate the polling agent with an HS256 JWT whose
// subject must match the device id in the path.
type Server struct {
	cfg    config.ServerConfig
	logger *zap.Logger
	gw     GatewayAPI
	tasks  TaskSubmitter
	http   *http.Server
}

// NewServer wires the routes and returns an unstarted server.
func NewServer(cfg config.ServerConfig, logger *zap.Logger, gw GatewayAPI, tasks TaskSubmitter) *Server {
	s := &Server{
		cfg:    cfg,
		logger: logger.Named("transport"),
		gw:     gw,
		tasks:  tasks,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)

	// Device-side protocol (polled by the remote agent).
	mux.Handle("GET /v1/devices/{id}/actions", s.deviceAuth(http.HandlerFunc(s.handlePollActions)))
	mux.Handle("POST /v1/devices/{id}/results", s.deviceAuth(http.HandlerFunc(s.handlePostResult)))
	mux.Handle("POST /v1/devices/{id}/snapshot", s.deviceAuth(http.HandlerFunc(s.handlePostSnapshot)))

	// Control side.
	mux.HandleFunc("GET /v1/devices/{id}/snapshot", s.handleGetSnapshot)
	mux.HandleFunc("POST /v1/tasks", s.handleSubmitTask)

	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the route table for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// ListenAndServe runs the server until the context is cancelled, then shuts
// down gracefully within the configured timeout.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Gateway HTTP API listening", zap.String("addr", s.cfg.Addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return <-errCh
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePollActions(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("id")
	actions := s.gw.PollPending(deviceID)
	if actions == nil {
		actions = []schemas.Action{}
	}
	s.writeJSON(w, http.StatusOK, actions)
}

func (s *Server) handlePostResult(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("id")

	var res schemas.ActionResult
	if err := json.NewDecoder(r.Body).Decode(&res); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid result payload: %v", err))
		return
	}
	res.DeviceID = deviceID
	if res.ReportedAt.IsZero() {
		res.ReportedAt = time.Now().UTC()
	}

	// Orphaned results (nobody awaiting) are accepted by contract.
	s.gw.PostResult(res)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handlePostSnapshot(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("id")

	var snap schemas.UISnapshot
	if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid snapshot payload: %v", err))
		return
	}
	snap.DeviceID = deviceID
	if snap.CapturedAt.IsZero() {
		snap.CapturedAt = time.Now().UTC()
	}

	s.gw.PostSnapshot(snap)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("id")

	snap, err := s.gw.Snapshot(deviceID)
	switch {
	case errors.Is(err, schemas.ErrDeviceUnknown):
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("device %q is unknown", deviceID))
	case errors.Is(err, schemas.ErrNoSnapshot):
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("no snapshot cached for device %q", deviceID))
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	default:
		s.writeJSON(w, http.StatusOK, snap)
	}
}

func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	var req schemas.TaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid task payload: %v", err))
		return
	}

	// The submission is synchronous: the response is the terminal outcome.
	outcome, err := s.tasks.Submit(r.Context(), req)
	if err != nil {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response body", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

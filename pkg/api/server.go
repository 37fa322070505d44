package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/covekit/cove/pkg/events"
	"github.com/covekit/cove/pkg/log"
	"github.com/covekit/cove/pkg/metrics"
	"github.com/covekit/cove/pkg/pool"
	"github.com/covekit/cove/pkg/volume"
)

// Server provides the HTTP monitoring endpoints for one volume service.
type Server struct {
	svc     *volume.Service
	broker  *events.Broker
	version string
	mux     *http.ServeMux
	http    *http.Server
	logger  zerolog.Logger
}

// NewServer creates a monitoring server for svc. broker may be nil, in
// which case the event stream endpoint reports that streaming is
// unavailable.
func NewServer(svc *volume.Service, broker *events.Broker, version string) *Server {
	mux := http.NewServeMux()
	s := &Server{
		svc:     svc,
		broker:  broker,
		version: version,
		mux:     mux,
		logger:  log.WithComponent("api"),
	}

	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/ready", s.readyHandler)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/v1/volumes", s.volumesHandler)
	mux.HandleFunc("/v1/events", s.eventsHandler)

	return s
}

// Handler returns the server's route table.
func (s *Server) Handler() http.Handler { return s.mux }

// Start serves HTTP on addr until Stop is called. It blocks.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:        addr,
		Handler:     s.mux,
		ReadTimeout: 5 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	s.logger.Info().Str("addr", addr).Msg("monitoring api listening")

	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// HealthResponse represents the liveness check response.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

// ReadyResponse represents the readiness check response.
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

// healthHandler is a plain liveness check: 200 while the process runs.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   s.version,
	})
}

// readyHandler reports whether the service can actually serve volume
// operations: identity loaded and pool reachable.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	checks := make(map[string]string)
	ready := true
	var message string

	if s.svc.UUID() != "" {
		checks["identity"] = "ok"
	} else {
		checks["identity"] = "not loaded"
		ready = false
		message = "Owner identity not loaded"
	}

	if _, err := s.svc.Enumerate(); err != nil {
		checks["pool"] = fmt.Sprintf("error: %v", err)
		ready = false
		if message == "" {
			message = "Pool not accessible"
		}
	} else {
		checks["pool"] = "ok"
	}

	status := http.StatusOK
	state := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		state = "not ready"
	}
	writeJSON(w, status, ReadyResponse{
		Status:    state,
		Timestamp: time.Now(),
		Checks:    checks,
		Message:   message,
	})
}

// VolumeInfo is one volume in the listing response.
type VolumeInfo struct {
	Name      string            `json:"name"`
	OwnerUUID string            `json:"owner_uuid"`
	Snapshots []pool.SnapshotID `json:"snapshots"`
}

func (s *Server) volumesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	volumes, err := s.svc.Enumerate()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	infos := make([]VolumeInfo, 0, len(volumes))
	for _, vol := range volumes {
		ids, err := s.svc.SnapshotIDs(vol.Name)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		infos = append(infos, VolumeInfo{
			Name:      vol.Name,
			OwnerUUID: vol.OwnerUUID,
			Snapshots: ids,
		})
	}
	writeJSON(w, http.StatusOK, infos)
}

// eventsHandler streams lifecycle events as server-sent events until the
// client disconnects.
func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.broker == nil {
		http.Error(w, "event streaming not enabled", http.StatusNotImplemented)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sub := s.broker.Subscribe()
	defer s.broker.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case event, ok := <-sub:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

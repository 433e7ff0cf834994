// Package api serves the HTTP control plane: health, Prometheus metrics,
// path and node status, and node and path actions.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/matthiasnowak/villasnode/internal/app/pipeline"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrBadAction = errors.New("unknown action")
)

// NodeStatus is the JSON view of a node.
type NodeStatus struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	State        string `json:"state"`
	Capabilities string `json:"capabilities"`
	Error        string `json:"error,omitempty"`
}

// Controller is what the control plane needs from the runtime.
type Controller interface {
	Paths() []pipeline.PathStats
	Nodes() []NodeStatus
	// NodeAction runs start, stop or restart on the named node.
	NodeAction(ctx context.Context, name, action string) error
	RestartPath(ctx context.Context, name string) error
}

// NewHandler builds the router. A nil gatherer serves the default registry.
func NewHandler(ctrl Controller, gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /api/v1/paths", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, ctrl.Paths())
	})
	mux.HandleFunc("GET /api/v1/nodes", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, ctrl.Nodes())
	})
	mux.HandleFunc("POST /api/v1/node/{name}/{action}", func(w http.ResponseWriter, r *http.Request) {
		err := ctrl.NodeAction(r.Context(), r.PathValue("name"), r.PathValue("action"))
		writeResult(w, err)
	})
	mux.HandleFunc("POST /api/v1/path/{name}/restart", func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, ctrl.RestartPath(r.Context(), r.PathValue("name")))
	})
	return mux
}

type errorBody struct {
	Error string `json:"error"`
}

func writeResult(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{err.Error()})
	case errors.Is(err, ErrBadAction):
		writeJSON(w, http.StatusBadRequest, errorBody{err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, errorBody{err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

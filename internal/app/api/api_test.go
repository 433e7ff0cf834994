package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/matthiasnowak/villasnode/internal/app/pipeline"
)

type fakeController struct {
	actions []string
}

func (f *fakeController) Paths() []pipeline.PathStats {
	return []pipeline.PathStats{{Name: "p0", State: "started", Written: 3}}
}

func (f *fakeController) Nodes() []NodeStatus {
	return []NodeStatus{{Name: "lo", Type: "loopback", State: "started", Capabilities: "read,write"}}
}

func (f *fakeController) NodeAction(_ context.Context, name, action string) error {
	if name != "lo" {
		return fmt.Errorf("node %s: %w", name, ErrNotFound)
	}
	switch action {
	case "start", "stop", "restart":
	default:
		return fmt.Errorf("%q: %w", action, ErrBadAction)
	}
	f.actions = append(f.actions, name+":"+action)
	return nil
}

func (f *fakeController) RestartPath(_ context.Context, name string) error {
	if name != "p0" {
		return ErrNotFound
	}
	f.actions = append(f.actions, "path:"+name)
	return nil
}

func TestHandler(t *testing.T) {
	ctrl := &fakeController{}
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "villas_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()
	srv := httptest.NewServer(NewHandler(ctrl, reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz: %v %v", resp, err)
	}
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil || !strings.Contains(string(body), "villas_test_total 1") {
		t.Fatalf("metric missing from output: %v\n%s", err, body)
	}

	resp, err = http.Get(srv.URL + "/api/v1/paths")
	if err != nil {
		t.Fatalf("paths: %v", err)
	}
	var paths []pipeline.PathStats
	if err := json.NewDecoder(resp.Body).Decode(&paths); err != nil {
		t.Fatalf("decode paths: %v", err)
	}
	resp.Body.Close()
	if len(paths) != 1 || paths[0].Written != 3 {
		t.Fatalf("unexpected paths %+v", paths)
	}

	resp, err = http.Get(srv.URL + "/api/v1/nodes")
	if err != nil {
		t.Fatalf("nodes: %v", err)
	}
	var nodes []NodeStatus
	if err := json.NewDecoder(resp.Body).Decode(&nodes); err != nil {
		t.Fatalf("decode nodes: %v", err)
	}
	resp.Body.Close()
	if len(nodes) != 1 || nodes[0].Type != "loopback" {
		t.Fatalf("unexpected nodes %+v", nodes)
	}

	cases := []struct {
		url    string
		status int
	}{
		{"/api/v1/node/lo/restart", http.StatusNoContent},
		{"/api/v1/node/lo/explode", http.StatusBadRequest},
		{"/api/v1/node/nope/start", http.StatusNotFound},
		{"/api/v1/path/p0/restart", http.StatusNoContent},
		{"/api/v1/path/p9/restart", http.StatusNotFound},
	}
	for _, tc := range cases {
		resp, err := http.Post(srv.URL+tc.url, "application/json", nil)
		if err != nil {
			t.Fatalf("post %s: %v", tc.url, err)
		}
		resp.Body.Close()
		if resp.StatusCode != tc.status {
			t.Fatalf("post %s: expected %d, got %d", tc.url, tc.status, resp.StatusCode)
		}
	}
	if got := strings.Join(ctrl.actions, ","); got != "lo:restart,path:p0" {
		t.Fatalf("unexpected actions %s", got)
	}

	resp, err = http.Get(srv.URL + "/api/v1/node/lo/start")
	if err != nil {
		t.Fatalf("get action: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET on an action, got %d", resp.StatusCode)
	}
}

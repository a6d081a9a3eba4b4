package docker_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/signalnine/moralmachine/internal/docker"
)

func TestFindFreePort(t *testing.T) {
	port, err := docker.FindFreePort()
	if err != nil {
		t.Fatalf("FindFreePort: %v", err)
	}
	if port < 1024 || port > 65535 {
		t.Errorf("port out of range: %d", port)
	}
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		t.Errorf("port %d not free: %v", port, err)
	} else {
		ln.Close()
	}
}

func TestServerURL(t *testing.T) {
	s := &docker.Server{Port: 11434}
	if s.URL() != "http://localhost:11434" {
		t.Errorf("got %q", s.URL())
	}
}

func TestContainerSpec(t *testing.T) {
	cfg, host := docker.ContainerSpec(docker.ServerOpts{Image: "ollama/ollama:latest", ModelsDir: "/data/ollama"}, 40123)
	if cfg.Image != "ollama/ollama:latest" {
		t.Errorf("image: got %q", cfg.Image)
	}
	if len(cfg.Env) != 1 || cfg.Env[0] != "OLLAMA_HOST=127.0.0.1:40123" {
		t.Errorf("env: got %v", cfg.Env)
	}
	if cfg.Labels[docker.Label] != "true" {
		t.Errorf("labels: got %v", cfg.Labels)
	}
	if host.NetworkMode != "host" {
		t.Errorf("network mode: got %q", host.NetworkMode)
	}
	if len(host.Mounts) != 1 || host.Mounts[0].Source != "/data/ollama" || host.Mounts[0].Target != "/root/.ollama" {
		t.Errorf("mounts: got %+v", host.Mounts)
	}

	_, host = docker.ContainerSpec(docker.ServerOpts{Image: "ollama/ollama:latest"}, 40123)
	if len(host.Mounts) != 0 {
		t.Errorf("unexpected mounts without models dir: %+v", host.Mounts)
	}
}

func TestPull(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/pull" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&got)
		if got["model"] == "missing" {
			http.Error(w, `{"error":"pull model manifest: file does not exist"}`, http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"status":"success"}`))
	}))
	defer srv.Close()

	u, _ := url.Parse(srv.URL)
	port, _ := strconv.Atoi(u.Port())
	s := &docker.Server{Port: port}

	if err := s.Pull(context.Background(), "llama3", srv.Client()); err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if got["model"] != "llama3" || got["stream"] != false {
		t.Errorf("unexpected request body %v", got)
	}
	if err := s.Pull(context.Background(), "missing", srv.Client()); err == nil {
		t.Error("expected error for failed pull")
	}
}

func TestStopWithoutContainer(t *testing.T) {
	s := &docker.Server{}
	if err := s.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
}

func TestStartServer(t *testing.T) {
	if os.Getenv("MORALMACHINE_DOCKER_TESTS") == "" {
		t.Skip("set MORALMACHINE_DOCKER_TESTS=1 to run Docker tests")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	s, err := docker.StartServer(ctx, docker.ServerOpts{Image: "ollama/ollama:latest"})
	if err != nil {
		t.Fatalf("StartServer: %v", err)
	}
	defer s.Stop()

	resp, err := http.Get(s.URL() + "/api/tags")
	if err != nil {
		t.Fatalf("GET /api/tags: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status: got %d", resp.StatusCode)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
}

// Package docker runs the local inference server used by ollama models.
package docker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/api/types/mount"
	"github.com/moby/moby/client"

	"github.com/signalnine/moralmachine/internal/observability"
)

// Label marks containers started by moralmachine.
const Label = "moralmachine"

const containerModelsDir = "/root/.ollama"

type ServerOpts struct {
	Image string
	// ModelsDir is bind-mounted as the server's model cache when set.
	ModelsDir string
	// Port defaults to a free port on the host.
	Port         int
	StartTimeout time.Duration
	Logger       *slog.Logger
}

// Server is a running inference container on the host network.
type Server struct {
	Port int

	cli         *client.Client
	containerID string
	logger      *slog.Logger
}

func FindFreePort() (int, error) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		return 0, fmt.Errorf("finding free port: %w", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port, nil
}

func (s *Server) URL() string {
	return fmt.Sprintf("http://localhost:%d", s.Port)
}

// ContainerSpec returns the container and host configuration for a server
// listening on port.
func ContainerSpec(opts ServerOpts, port int) (*container.Config, *container.HostConfig) {
	cfg := &container.Config{
		Image:  opts.Image,
		Env:    []string{fmt.Sprintf("OLLAMA_HOST=127.0.0.1:%d", port)},
		Labels: map[string]string{Label: "true", Label + ".port": fmt.Sprint(port)},
	}
	initTrue := true
	host := &container.HostConfig{
		NetworkMode: "host",
		Init:        &initTrue,
	}
	if opts.ModelsDir != "" {
		host.Mounts = []mount.Mount{{
			Type:   mount.TypeBind,
			Source: opts.ModelsDir,
			Target: containerModelsDir,
		}}
	}
	return cfg, host
}

// StartServer creates and starts the container and waits until it accepts
// connections. The image is pulled with the docker CLI if it is missing.
func StartServer(ctx context.Context, opts ServerOpts) (*Server, error) {
	if opts.Logger == nil {
		opts.Logger = observability.Discard()
	}
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = 60 * time.Second
	}
	port := opts.Port
	if port == 0 {
		p, err := FindFreePort()
		if err != nil {
			return nil, err
		}
		port = p
	}

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}

	cfg, host := ContainerSpec(opts, port)
	create := func() (string, error) {
		resp, err := cli.ContainerCreate(ctx, client.ContainerCreateOptions{Config: cfg, HostConfig: host})
		if err != nil {
			return "", err
		}
		return resp.ID, nil
	}
	id, err := create()
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "no such image") {
		opts.Logger.Info("pulling inference image", "image", opts.Image)
		if pullErr := pullImage(ctx, cli, opts.Image); pullErr != nil {
			cli.Close()
			return nil, fmt.Errorf("pulling %s: %w", opts.Image, pullErr)
		}
		id, err = create()
	}
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("creating container: %w", err)
	}

	s := &Server{Port: port, cli: cli, containerID: id, logger: opts.Logger}
	if _, err := cli.ContainerStart(ctx, id, client.ContainerStartOptions{}); err != nil {
		s.Stop()
		return nil, fmt.Errorf("starting container: %w", err)
	}
	opts.Logger.Info("inference server started", "image", opts.Image, "container", shortID(id), "port", port)

	if err := waitForPort(ctx, port, opts.StartTimeout); err != nil {
		opts.Logger.Error("inference server did not come up", "logs", s.tailLogs())
		s.Stop()
		return nil, fmt.Errorf("inference server did not start: %w", err)
	}
	return s, nil
}

// pullImage streams an image pull to completion. Pull failures arrive as
// error messages in the progress stream, not as an HTTP error.
func pullImage(ctx context.Context, cli *client.Client, image string) error {
	rc, err := cli.ImagePull(ctx, image, client.ImagePullOptions{})
	if err != nil {
		return err
	}
	defer rc.Close()
	return readPullStream(rc)
}

func readPullStream(r io.Reader) error {
	dec := json.NewDecoder(r)
	for {
		var msg struct {
			Status string `json:"status"`
			Error  string `json:"error"`
		}
		if err := dec.Decode(&msg); err == io.EOF {
			return nil
		} else if err != nil {
			return fmt.Errorf("reading pull progress: %w", err)
		}
		if msg.Error != "" {
			return errors.New(msg.Error)
		}
	}
}

// Pull makes the server download a model tag if it is not cached yet.
func (s *Server) Pull(ctx context.Context, tag string, httpClient *http.Client) error {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	body, err := json.Marshal(map[string]any{"model": tag, "stream": false})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL()+"/api/pull", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	s.logger.Info("pulling model", "model", tag)
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("pulling %s: %w", tag, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("pulling %s: status %d: %s", tag, resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}

// Stop removes the container. It is safe to call more than once.
func (s *Server) Stop() error {
	if s.cli == nil {
		return nil
	}
	defer func() {
		s.cli.Close()
		s.cli = nil
	}()
	if _, err := s.cli.ContainerRemove(context.Background(), s.containerID, client.ContainerRemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("removing container %s: %w", shortID(s.containerID), err)
	}
	s.logger.Info("inference server stopped", "container", shortID(s.containerID))
	return nil
}

func (s *Server) tailLogs() string {
	r, err := s.cli.ContainerLogs(context.Background(), s.containerID, client.ContainerLogsOptions{ShowStdout: true, ShowStderr: true, Tail: "50"})
	if err != nil || r == nil {
		return ""
	}
	defer r.Close()
	data, _ := io.ReadAll(r)
	return string(data)
}

func waitForPort(ctx context.Context, port int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, time.Second)
		if err == nil {
			conn.Close()
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
	return fmt.Errorf("port %d not ready after %v", port, timeout)
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

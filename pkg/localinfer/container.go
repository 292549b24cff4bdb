package localinfer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"github.com/memoflow/distill/pkg/analysis"
	"github.com/memoflow/distill/pkg/infra/logger"
)

const (
	defaultServerImage = "ghcr.io/ggml-org/llama.cpp:server"
	containerName      = "distill-llama-server"
	serverPort         = "8080"
)

// ContainerRuntime runs llama-server in a container and speaks its HTTP
// completion API. One container, one resident model.
type ContainerRuntime struct {
	cli        *dockerclient.Client
	image      string
	hostPort   int
	httpClient *http.Client

	mu          sync.Mutex
	containerID string
	modelPath   string
}

// ContainerOption customizes the runtime.
type ContainerOption func(*ContainerRuntime)

// WithImage overrides the llama-server image.
func WithImage(image string) ContainerOption {
	return func(r *ContainerRuntime) { r.image = image }
}

// WithHostPort overrides the published host port.
func WithHostPort(port int) ContainerOption {
	return func(r *ContainerRuntime) { r.hostPort = port }
}

// NewContainerRuntime builds a runtime against the local Docker daemon,
// configured from the environment (DOCKER_HOST etc.).
func NewContainerRuntime(opts ...ContainerOption) (*ContainerRuntime, error) {
	cli, err := dockerclient.NewClientWithOpts(
		dockerclient.FromEnv,
		dockerclient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	r := &ContainerRuntime{
		cli:      cli,
		image:    defaultServerImage,
		hostPort: 8090,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Load starts a llama-server container for the model at modelPath. A
// previously resident model is torn down first. Sharded models load from
// the first shard; llama-server resolves the rest from the same
// directory.
func (r *ContainerRuntime) Load(ctx context.Context, modelPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.modelPath == modelPath && r.containerID != "" {
		return nil
	}
	if r.containerID != "" {
		if err := r.teardown(ctx); err != nil {
			return err
		}
	}

	if err := r.ensureImage(ctx); err != nil {
		return analysis.WrapError(err, analysis.ErrCodeModelLoadFailed, "pull runtime image")
	}

	hostDir := filepath.Dir(modelPath)
	containerModel := "/models/" + filepath.Base(modelPath)

	port := nat.Port(serverPort + "/tcp")
	cfg := &container.Config{
		Image: r.image,
		Cmd: []string{
			"-m", containerModel,
			"--host", "0.0.0.0",
			"--port", serverPort,
		},
		ExposedPorts: nat.PortSet{port: struct{}{}},
		Labels:       map[string]string{"distill.managed": "true"},
	}
	hostCfg := &container.HostConfig{
		Binds: []string{hostDir + ":/models:ro"},
		PortBindings: nat.PortMap{
			port: []nat.PortBinding{{HostPort: strconv.Itoa(r.hostPort)}},
		},
	}

	resp, err := r.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, containerName)
	if err != nil {
		return analysis.WrapError(err, analysis.ErrCodeModelLoadFailed, "create runtime container")
	}
	if err := r.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		// Remove the created container so it does not block the name or
		// port on the next attempt.
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = r.cli.ContainerRemove(cleanupCtx, resp.ID, container.RemoveOptions{Force: true})
		return analysis.WrapError(err, analysis.ErrCodeModelLoadFailed, "start runtime container")
	}

	if err := r.waitHealthy(ctx); err != nil {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = r.cli.ContainerRemove(cleanupCtx, resp.ID, container.RemoveOptions{Force: true})
		return err
	}

	r.containerID = resp.ID
	r.modelPath = modelPath
	logger.Info("local model loaded", "model_path", modelPath, "container", resp.ID[:12])
	return nil
}

func (r *ContainerRuntime) ensureImage(ctx context.Context) error {
	_, err := r.cli.ImageInspect(ctx, r.image)
	if err == nil {
		return nil
	}
	if !cerrdefs.IsNotFound(err) {
		return err
	}
	rc, err := r.cli.ImagePull(ctx, r.image, image.PullOptions{})
	if err != nil {
		return err
	}
	defer rc.Close()
	_, _ = io.Copy(io.Discard, rc)
	return nil
}

// waitHealthy polls the server health endpoint until the model finishes
// loading or the context expires.
func (r *ContainerRuntime) waitHealthy(ctx context.Context) error {
	url := fmt.Sprintf("http://127.0.0.1:%d/health", r.hostPort)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	deadline := time.Now().Add(2 * time.Minute)
	for {
		select {
		case <-ctx.Done():
			return analysis.WrapError(ctx.Err(), analysis.ErrCodeModelLoadFailed, "model load cancelled")
		case <-ticker.C:
			if time.Now().After(deadline) {
				return analysis.NewError(analysis.ErrCodeModelLoadFailed, "model server did not become healthy")
			}
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return err
			}
			resp, err := r.httpClient.Do(req)
			if err != nil {
				continue
			}
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
	}
}

type completionRequest struct {
	Prompt   string `json:"prompt"`
	NPredict int    `json:"n_predict"`
}

type completionResponse struct {
	Content string `json:"content"`
}

// Complete runs one completion against the resident model.
func (r *ContainerRuntime) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	r.mu.Lock()
	loaded := r.containerID != ""
	r.mu.Unlock()
	if !loaded {
		return "", analysis.NewError(analysis.ErrCodeModelNotAvailable, "no model loaded")
	}

	body, err := json.Marshal(completionRequest{Prompt: prompt, NPredict: maxTokens})
	if err != nil {
		return "", analysis.WrapError(err, analysis.ErrCodeRequestEncode, "encode completion request")
	}

	url := fmt.Sprintf("http://127.0.0.1:%d/completion", r.hostPort)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", analysis.WrapError(err, analysis.ErrCodeRequestEncode, "create completion request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", analysis.WrapError(err, analysis.ErrCodeNetwork, "completion request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", analysis.NewServerError(resp.StatusCode, string(data))
	}

	var cr completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", analysis.WrapError(err, analysis.ErrCodeDecoding, "decode completion response")
	}
	return cr.Content, nil
}

// Loaded returns the resident model path, or "".
func (r *ContainerRuntime) Loaded() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.modelPath
}

// Close tears the container down and releases the model.
func (r *ContainerRuntime) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.teardown(ctx)
}

func (r *ContainerRuntime) teardown(ctx context.Context) error {
	if r.containerID == "" {
		return nil
	}
	timeout := 10
	if err := r.cli.ContainerStop(ctx, r.containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		if !cerrdefs.IsNotFound(err) {
			return fmt.Errorf("stop runtime container: %w", err)
		}
	}
	if err := r.cli.ContainerRemove(context.Background(), r.containerID, container.RemoveOptions{Force: true}); err != nil {
		if !cerrdefs.IsNotFound(err) {
			return fmt.Errorf("remove runtime container: %w", err)
		}
	}
	logger.Info("local model released", "model_path", r.modelPath)
	r.containerID = ""
	r.modelPath = ""
	return nil
}

var _ Runtime = (*ContainerRuntime)(nil)

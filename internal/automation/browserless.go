package automation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"github.com/smahud/traffic-buster/internal/dataset"
)

const defaultImage = "browserless/chrome:latest"

// sessionCode runs inside browserless: navigate, optionally scroll, dwell,
// report the elapsed time.
const sessionCode = `
module.exports = async ({ page, context }) => {
  const started = Date.now();
  if (context.proxyUser) {
    await page.authenticate({ username: context.proxyUser, password: context.proxyPass });
  }
  await page.goto(context.url, { timeout: 30000, waitUntil: 'domcontentloaded' });
  if (context.scroll) {
    await page.waitForTimeout(1000 + Math.random() * 2000);
    await page.mouse.wheel({ deltaY: 500 + Math.random() * 1000 });
    await page.waitForTimeout(500 + Math.random() * 1000);
  }
  await page.waitForTimeout(context.dwellMs);
  return { data: { durationMs: Date.now() - started }, type: 'application/json' };
};`

// Browserless drives real browsing sessions through a browserless/chrome
// container it manages over the Docker API. The container is launched lazily
// on the first flow and reused for the rest of the process lifetime.
type Browserless struct {
	docker *client.Client
	image  string
	http   *http.Client

	mu          sync.Mutex
	containerID string
	port        string
}

// NewBrowserless builds a runner from the ambient Docker environment.
func NewBrowserless(imageRef string) (*Browserless, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	if imageRef == "" {
		imageRef = defaultImage
	}
	return &Browserless{
		docker: cli,
		image:  imageRef,
		http:   &http.Client{Timeout: 90 * time.Second},
	}, nil
}

// EnsureImage pulls the chrome image if it is not present locally.
func (b *Browserless) EnsureImage(ctx context.Context) error {
	images, err := b.docker.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return err
	}
	for _, img := range images {
		for _, tag := range img.RepoTags {
			if tag == b.image {
				return nil
			}
		}
	}

	log.Printf("[automation] pulling image %s", b.image)
	reader, err := b.docker.ImagePull(ctx, b.image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()
	_, err = io.Copy(io.Discard, reader)
	return err
}

func (b *Browserless) ensureStarted(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.containerID != "" {
		return b.port, nil
	}

	containerConfig := &container.Config{
		Image: b.image,
		Labels: map[string]string{
			"managed-by": "traffic-buster",
		},
		Env: []string{
			"CONNECTION_TIMEOUT=-1",
			"KEEP_ALIVE=true",
			"EXIT_ON_HEALTH_FAILURE=false",
		},
		ExposedPorts: nat.PortSet{
			"3000/tcp": struct{}{},
		},
	}
	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			"3000/tcp": []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: "0"}},
		},
		AutoRemove: false,
	}

	resp, err := b.docker.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, "traffic-buster-browser")
	if err != nil {
		return "", fmt.Errorf("failed to create browser container: %w", err)
	}
	if err := b.docker.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("failed to start browser container: %w", err)
	}

	inspect, err := b.docker.ContainerInspect(ctx, resp.ID)
	if err != nil {
		return "", fmt.Errorf("failed to inspect browser container: %w", err)
	}
	bindings := inspect.NetworkSettings.Ports["3000/tcp"]
	if len(bindings) == 0 {
		return "", fmt.Errorf("browser container exposes no port")
	}
	port := bindings[0].HostPort

	if err := b.waitReady(ctx, port); err != nil {
		return "", fmt.Errorf("browser failed to become ready: %w", err)
	}

	b.containerID = resp.ID
	b.port = port
	log.Printf("[automation] browser container ready on port %s", port)
	return port, nil
}

func (b *Browserless) waitReady(ctx context.Context, port string) error {
	probe := fmt.Sprintf("http://localhost:%s/json/version", port)
	for i := 0; i < 20; i++ {
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, probe, nil)
		resp, err := b.http.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
	return fmt.Errorf("browser did not become ready")
}

// Run implements Runner: one navigation + dwell through the container's
// /function endpoint. Failures while a proxy is configured are classified as
// proxy failures so the failover protocol can react.
func (b *Browserless) Run(ctx context.Context, req FlowRequest) (FlowResult, error) {
	port, err := b.ensureStarted(ctx)
	if err != nil {
		return FlowResult{}, err
	}

	launch := map[string]any{"args": b.launchArgs(req)}
	launchJSON, _ := json.Marshal(launch)

	endpoint := fmt.Sprintf("http://localhost:%s/function?launch=%s", port, url.QueryEscape(string(launchJSON)))
	body, _ := json.Marshal(map[string]any{
		"code":    sessionCode,
		"context": b.sessionContext(req),
	})

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return FlowResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.http.Do(httpReq)
	if err != nil {
		return FlowResult{}, b.classify(req, fmt.Errorf("session request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return FlowResult{}, b.classify(req, fmt.Errorf("session failed with status %d: %s", resp.StatusCode, msg))
	}

	var out struct {
		DurationMs int64 `json:"durationMs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return FlowResult{}, fmt.Errorf("invalid session response: %w", err)
	}
	return FlowResult{DurationMs: out.DurationMs}, nil
}

// sessionContext carries the per-flow parameters into the in-browser
// session code. The proxy address rides on the launch flags; Chromium
// cannot take inline credentials there, so those go through
// page.authenticate instead.
func (b *Browserless) sessionContext(req FlowRequest) map[string]any {
	ctx := map[string]any{
		"url":     req.Target.URL,
		"dwellMs": req.DwellMs,
		"scroll":  req.Scroll,
	}
	if req.Proxy != nil && req.Proxy.Username != "" {
		ctx["proxyUser"] = req.Proxy.Username
		ctx["proxyPass"] = req.Proxy.Password
	}
	return ctx
}

func (b *Browserless) launchArgs(req FlowRequest) []string {
	args := []string{"--no-sandbox", "--disable-setuid-sandbox"}
	if req.Proxy != nil {
		args = append(args, fmt.Sprintf("--proxy-server=%s:%d", req.Proxy.Host, req.Proxy.Port))
	}
	if w, h, ok := dataset.ParseResolution(req.Viewport); ok {
		args = append(args, fmt.Sprintf("--window-size=%d,%d", w, h))
	}
	return args
}

// classify wraps the error as a proxy failure when the session ran through a
// proxy; navigation errors without one stay plain flow failures.
func (b *Browserless) classify(req FlowRequest, err error) error {
	if req.Proxy != nil {
		return fmt.Errorf("%w: %v", ErrProxy, err)
	}
	return err
}

// Close stops and removes the browser container and the Docker client.
func (b *Browserless) Close(ctx context.Context) error {
	b.mu.Lock()
	containerID := b.containerID
	b.containerID = ""
	b.mu.Unlock()

	if containerID != "" {
		timeout := 10
		if err := b.docker.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
			log.Printf("[automation] failed to stop browser container: %v", err)
		}
		if err := b.docker.ContainerRemove(ctx, containerID, container.RemoveOptions{}); err != nil {
			log.Printf("[automation] failed to remove browser container: %v", err)
		}
	}
	return b.docker.Close()
}

package integration_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pkt.systems/carspot"
	"pkt.systems/carspot/httpapi"
	"pkt.systems/carspot/internal/identify"
	"pkt.systems/carspot/schema"
)

type testServer struct {
	server   carspot.Server
	baseURL  string
	stateDir string
	catalog  string
}

type serverOptions struct {
	stateDir    string
	reviewDelay time.Duration
	watch       bool
}

func newTestServer(t *testing.T, opts serverOptions) *testServer {
	t.Helper()
	if opts.stateDir == "" {
		opts.stateDir = t.TempDir()
	}
	if opts.reviewDelay <= 0 {
		opts.reviewDelay = 200 * time.Millisecond
	}
	catalog := filepath.Join(opts.stateDir, "catalog.yaml")
	if _, err := os.Stat(catalog); errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(catalog, identify.DefaultCatalogYAML(), 0o644); err != nil {
			t.Fatalf("write catalog: %v", err)
		}
	}
	server, err := carspot.New(carspot.ServerConfig{
		Service: schema.ServiceConfig{
			StateDir:    opts.stateDir,
			ReviewDelay: opts.reviewDelay,
		},
		HTTP: httpapi.Config{Addr: "127.0.0.1:0", BasePath: "/carspot"},
		Identify: carspot.IdentifyConfig{
			Enabled:     true,
			CatalogPath: catalog,
			Watch:       opts.watch,
		},
		Cards: carspot.CardsConfig{DBPath: filepath.Join(opts.stateDir, "cards.db")},
	}, carspot.ServerDeps{}, carspot.WithHTTP())
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := server.Start(ctx); err != nil {
		cancel()
		t.Fatalf("start server: %v", err)
	}
	ts := &testServer{
		server:   server,
		baseURL:  "http://" + server.Addr() + "/carspot",
		stateDir: opts.stateDir,
		catalog:  catalog,
	}
	t.Cleanup(func() {
		cancel()
		ts.stop(t)
	})
	waitForHTTP(t, ts.baseURL+"/api/tabs", 5*time.Second)
	return ts
}

func (ts *testServer) stop(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ts.server.Stop(ctx); err != nil {
		t.Fatalf("stop server: %v", err)
	}
}

func waitForHTTP(t *testing.T, url string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", url)
}

func postJSON(t *testing.T, url string, payload any) *http.Response {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}
	resp, err := http.Post(url, "application/json", &body)
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return resp
}

func postPhoto(t *testing.T, url string, data []byte, width, height string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")
	req.Header.Set("X-Image-Width", width)
	req.Header.Set("X-Image-Height", height)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post photo: %v", err)
	}
	return resp
}

func readJSON(t *testing.T, resp *http.Response, status int, target any) {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != status {
		var payload map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&payload)
		t.Fatalf("%s %s: status %d, want %d (%v)", resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, status, payload)
	}
	if target == nil {
		return
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func getCapture(t *testing.T, baseURL string, id schema.SessionID) schema.CaptureSnapshot {
	t.Helper()
	resp, err := http.Get(baseURL + "/api/captures/" + string(id))
	if err != nil {
		t.Fatalf("get capture: %v", err)
	}
	var payload struct {
		Session schema.CaptureSnapshot `json:"session"`
	}
	readJSON(t, resp, http.StatusOK, &payload)
	return payload.Session
}

func waitForCapture(t *testing.T, baseURL string, id schema.SessionID, timeout time.Duration, done func(schema.CaptureSnapshot) bool) schema.CaptureSnapshot {
	t.Helper()
	deadline := time.Now().Add(timeout)
	var last schema.CaptureSnapshot
	for time.Now().Before(deadline) {
		last = getCapture(t, baseURL, id)
		if done(last) {
			return last
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for capture %s, last %+v", id, last)
	return last
}

func openStream(t *testing.T, url string) *bufio.Reader {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		t.Fatalf("new stream request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		t.Fatalf("open stream: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		_ = resp.Body.Close()
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stream status %d", resp.StatusCode)
	}
	return bufio.NewReader(resp.Body)
}

func readSSEvent(ctx context.Context, reader *bufio.Reader) (httpapi.StreamEvent, error) {
	var dataLines []string
	for {
		select {
		case <-ctx.Done():
			return httpapi.StreamEvent{}, ctx.Err()
		default:
		}
		line, err := reader.ReadString('\n')
		if err != nil {
			return httpapi.StreamEvent{}, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		if strings.HasPrefix(line, "data:") {
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if len(dataLines) == 0 {
		return httpapi.StreamEvent{}, errors.New("no data in SSE event")
	}
	var event httpapi.StreamEvent
	if err := json.Unmarshal([]byte(strings.Join(dataLines, "\n")), &event); err != nil {
		return httpapi.StreamEvent{}, err
	}
	return event, nil
}

// waitForStreamEvent reads events until match accepts one.
func waitForStreamEvent(t *testing.T, reader *bufio.Reader, timeout time.Duration, match func(httpapi.StreamEvent) bool) httpapi.StreamEvent {
	t.Helper()
	type result struct {
		event httpapi.StreamEvent
		err   error
	}
	found := make(chan result, 1)
	go func() {
		for {
			event, err := readSSEvent(context.Background(), reader)
			if err != nil {
				found <- result{err: err}
				return
			}
			if match(event) {
				found <- result{event: event}
				return
			}
		}
	}()
	select {
	case res := <-found:
		if res.err != nil {
			t.Fatalf("read stream: %v", res.err)
		}
		return res.event
	case <-time.After(timeout):
		t.Fatalf("timeout waiting for stream event")
	}
	return httpapi.StreamEvent{}
}

func requireLong(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
}

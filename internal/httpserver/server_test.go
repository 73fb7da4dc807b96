package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vidmesh/vidmesh/internal/config"
	"github.com/vidmesh/vidmesh/internal/metrics"
	"github.com/vidmesh/vidmesh/internal/signaling"
)

func testConfig() config.Config {
	return config.Config{
		ListenAddr:      "127.0.0.1:0",
		LogFormat:       config.LogFormatText,
		LogLevel:        slog.LevelInfo,
		ShutdownTimeout: 2 * time.Second,
		Mode:            config.ModeDev,
		FrameEmbed:      config.FrameEmbedDeny,
	}
}

func startTestServer(t *testing.T, cfg config.Config) (baseURL string, m *metrics.Metrics) {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	build := BuildInfo{Commit: "abc", BuildTime: "time"}
	m = metrics.New()
	signal := signaling.NewServer(signaling.Config{Logger: log, Metrics: m})
	srv := New(cfg, log, build, m, signal)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		<-errCh
	})

	return "http://" + ln.Addr().String(), m
}

func getJSON(t *testing.T, url string, wantStatus int) map[string]any {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("GET %s status = %d, want %d", url, resp.StatusCode, wantStatus)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return body
}

func TestHealthzReadyzVersion(t *testing.T) {
	baseURL, _ := startTestServer(t, testConfig())

	if body := getJSON(t, baseURL+"/healthz", http.StatusOK); body["ok"] != true {
		t.Fatalf("healthz body = %v", body)
	}

	body := getJSON(t, baseURL+"/readyz", http.StatusOK)
	if body["ready"] != true {
		t.Fatalf("readyz body = %v", body)
	}
	if _, ok := body["rooms"]; !ok {
		t.Fatalf("readyz missing room count: %v", body)
	}

	if body := getJSON(t, baseURL+"/version", http.StatusOK); body["commit"] != "abc" {
		t.Fatalf("version body = %v", body)
	}
}

func TestICEEndpointOriginPolicy(t *testing.T) {
	cfg := testConfig()
	cfg.AllowedOrigins = []string{"https://app.example.com"}
	baseURL, _ := startTestServer(t, cfg)

	req, _ := http.NewRequest(http.MethodGet, baseURL+"/webrtc/ice", nil)
	req.Header.Set("Origin", "https://app.example.com")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("allowed origin status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Fatalf("ACAO = %q", got)
	}

	req, _ = http.NewRequest(http.MethodGet, baseURL+"/webrtc/ice", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("disallowed origin status = %d, want 403", resp.StatusCode)
	}
}

func TestWebsocketUpgradeThroughMiddleware(t *testing.T) {
	baseURL, _ := startTestServer(t, testConfig())
	wsURL := "ws" + strings.TrimPrefix(baseURL, "http") + "/ws"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(signaling.Message{Type: signaling.TypeJoinRoom, RoomID: "demo"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg signaling.Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != signaling.TypeExistingUsers {
		t.Fatalf("got %s, want existing-users", msg.Type)
	}
}

func TestWebsocketRejectsDisallowedOrigin(t *testing.T) {
	cfg := testConfig()
	cfg.AllowedOrigins = []string{"https://app.example.com"}
	baseURL, _ := startTestServer(t, cfg)
	wsURL := "ws" + strings.TrimPrefix(baseURL, "http") + "/ws"

	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err == nil {
		t.Fatal("dial from disallowed origin succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("handshake response = %+v, want 403", resp)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	baseURL, m := startTestServer(t, testConfig())
	m.Inc(metrics.RoomJoins)

	resp, err := http.Get(baseURL + "/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `vidmesh_relay_events_total{event="room_joins"} 1`) {
		t.Fatalf("metrics body missing counter:\n%s", body)
	}
}

func TestStaticSPAFallback(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>vidmesh</html>"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "app.js"), []byte("console.log(1)"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := testConfig()
	cfg.StaticDir = dir
	baseURL, _ := startTestServer(t, cfg)

	for _, path := range []string{"/", "/app.js", "/rooms/demo"} {
		resp, err := http.Get(baseURL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status = %d", path, resp.StatusCode)
		}
		if path != "/app.js" && !strings.Contains(string(body), "vidmesh") {
			t.Fatalf("GET %s did not fall back to index.html: %s", path, body)
		}
		if got := resp.Header.Get("X-Frame-Options"); got != "DENY" {
			t.Fatalf("GET %s X-Frame-Options = %q, want DENY", path, got)
		}
	}
}

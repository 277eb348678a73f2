package contract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

const (
	defaultBaseURL        = "http://localhost:8090"
	defaultRequestTimeout = 2 * time.Second
)

type monitorClient struct {
	baseURL string
	client  *http.Client
}

func newMonitorClient(t *testing.T) *monitorClient {
	t.Helper()
	baseURL := os.Getenv("MONITOR_BASE_URL")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	client := &http.Client{Timeout: defaultRequestTimeout}

	if !isReachable(client, baseURL+"/api/health") {
		t.Skipf("monitor not reachable at %s (set MONITOR_BASE_URL to run)", baseURL)
	}

	return &monitorClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

func isReachable(client *http.Client, url string) bool {
	resp, err := client.Get(url)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 500
}

func (c *monitorClient) do(t *testing.T, method, path string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, c.baseURL+path, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	_ = resp.Body.Close()
	return resp, body
}

func (c *monitorClient) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	return c.do(t, http.MethodGet, path)
}

func (c *monitorClient) post(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	return c.do(t, http.MethodPost, path)
}

// headOfStream opens a streaming endpoint and returns its response once headers arrive.
func (c *monitorClient) headOfStream(t *testing.T, path string) *http.Response {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// firstSource returns a registered source id, skipping the test when there is none.
func (c *monitorClient) firstSource(t *testing.T) string {
	t.Helper()
	_, body := c.get(t, "/api/sources")
	payload := decodeJSONMap(t, body)
	sources := requireSlice(t, payload["sources"], "sources")
	if len(sources) == 0 {
		t.Skip("monitor has no sources")
	}
	src := requireMap(t, sources[0], "sources[0]")
	return requireString(t, src["id"], "sources[0].id")
}

func readSSEEvent(url string, timeout time.Duration) (string, http.Header, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 256)
	for {
		n, readErr := resp.Body.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
			for {
				idx := bytes.Index(buf, []byte("\n\n"))
				if idx < 0 {
					break
				}
				event := string(buf[:idx])
				buf = buf[idx+2:]
				if strings.HasPrefix(event, ":") {
					continue // keepalive
				}
				return event, resp.Header, nil
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return "", nil, fmt.Errorf("sse stream closed before event")
			}
			return "", nil, fmt.Errorf("read sse: %w", readErr)
		}
	}
}

func parseSSEData(t *testing.T, event string) map[string]any {
	t.Helper()
	for _, line := range strings.Split(event, "\n") {
		if strings.HasPrefix(line, "data:") {
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" {
				t.Fatalf("empty sse data line")
			}
			return decodeJSONMap(t, []byte(payload))
		}
	}
	t.Fatalf("no data line in sse event: %q", event)
	return nil
}

func decodeJSONMap(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode json: %v\nbody=%s", err, string(body))
	}
	return payload
}

func requireString(t *testing.T, value any, field string) string {
	t.Helper()
	str, ok := value.(string)
	if !ok {
		t.Fatalf("expected %s to be string, got %T", field, value)
	}
	return str
}

func requireNumber(t *testing.T, value any, field string) float64 {
	t.Helper()
	num, ok := value.(float64)
	if !ok {
		t.Fatalf("expected %s to be number, got %T", field, value)
	}
	return num
}

func requireBool(t *testing.T, value any, field string) bool {
	t.Helper()
	b, ok := value.(bool)
	if !ok {
		t.Fatalf("expected %s to be bool, got %T", field, value)
	}
	return b
}

func requireMap(t *testing.T, value any, field string) map[string]any {
	t.Helper()
	m, ok := value.(map[string]any)
	if !ok {
		t.Fatalf("expected %s to be object, got %T", field, value)
	}
	return m
}

func requireSlice(t *testing.T, value any, field string) []any {
	t.Helper()
	s, ok := value.([]any)
	if !ok {
		t.Fatalf("expected %s to be array, got %T", field, value)
	}
	return s
}

func assertDetectionMessage(t *testing.T, payload map[string]any) {
	t.Helper()
	requireString(t, payload["source_id"], "source_id")
	requireNumber(t, payload["frame_count"], "frame_count")
	for _, f := range []string{"fps_video", "fps_yolo", "source_fps", "yolo_ms", "queue_delay_ms"} {
		requireNumber(t, payload[f], f)
	}
	detections := requireSlice(t, payload["detections"], "detections")
	for i, raw := range detections {
		det := requireMap(t, raw, fmt.Sprintf("detections[%d]", i))
		requireNumber(t, det["cls"], "detections.cls")
		conf := requireNumber(t, det["conf"], "detections.conf")
		if conf < 0 || conf > 1 {
			t.Fatalf("detections[%d].conf = %v outside [0,1]", i, conf)
		}
		if box := requireSlice(t, det["xyxy"], "detections.xyxy"); len(box) != 4 {
			t.Fatalf("detections[%d].xyxy has %d values", i, len(box))
		}
	}
}

func assertHealthRow(t *testing.T, row map[string]any, field string) {
	t.Helper()
	requireString(t, row["source"], field+".source")
	requireBool(t, row["alive"], field+".alive")
	age := requireString(t, row["last_frame_age_ms"], field+".last_frame_age_ms")
	if age == "" {
		t.Fatalf("%s.last_frame_age_ms is empty", field)
	}
	for _, f := range []string{"source_fps", "video_fps", "yolo_fps", "yolo_ms", "queue_delay_ms", "frame_count"} {
		requireNumber(t, row[f], field+"."+f)
	}
}

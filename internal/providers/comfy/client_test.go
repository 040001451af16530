package comfy

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func newTestClient(t *testing.T, transport *captureTransport) *Client {
	t.Helper()
	client, err := NewClient(Options{
		BaseURL:    "http://comfy.test",
		HTTPClient: &http.Client{Transport: transport},
		Logger:     zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	if _, err := NewClient(Options{}); err == nil {
		t.Fatalf("expected error for missing base url")
	}
}

func TestNewClientDerivesWebSocketBase(t *testing.T) {
	client, err := NewClient(Options{BaseURL: "https://comfy.test/"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if client.wsBaseURL != "wss://comfy.test" {
		t.Fatalf("ws base = %q, want wss://comfy.test", client.wsBaseURL)
	}

	client, err = NewClient(Options{BaseURL: "http://comfy.test", WSBaseURL: "ws://events.comfy.test"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if client.wsBaseURL != "ws://events.comfy.test" {
		t.Fatalf("ws base = %q, want override", client.wsBaseURL)
	}
}

func TestSubmitPayloadShape(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	client := newTestClient(t, transport)
	transport.setJSONResponse("/api/connect/workflows/api-video", map[string]any{"status": "queued"})

	image := []byte{0xff, 0xd8, 0xff, 0xe0}
	_, err := client.Submit(context.Background(), SubmitRequest{
		ClientID: "telegram_42_1700000000000",
		Image:    image,
		Duration: &Param{Value: 5},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if transport.lastBody == nil {
		t.Fatalf("expected payload to be captured")
	}

	var payload map[string]any
	if err := json.Unmarshal(transport.lastBody, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if id := payload["client_id"]; id != "telegram_42_1700000000000" {
		t.Fatalf("client_id = %v", id)
	}

	outer, ok := payload["image"].(map[string]any)
	if !ok {
		t.Fatalf("image node missing")
	}
	inner, ok := outer["image"].(map[string]any)
	if !ok {
		t.Fatalf("nested image node missing")
	}
	if typ := inner["type"]; typ != "file" {
		t.Fatalf("image type = %v, want file", typ)
	}
	if name := inner["name"]; name != "input_telegram_42_1700000000000.jpg" {
		t.Fatalf("image name = %v", name)
	}
	decoded, err := base64.StdEncoding.DecodeString(inner["content"].(string))
	if err != nil {
		t.Fatalf("content not base64 encoded: %v", err)
	}
	if !bytes.Equal(decoded, image) {
		t.Fatalf("decoded bytes mismatch: %v vs %v", decoded, image)
	}

	duration, ok := payload["duration"].(map[string]any)
	if !ok {
		t.Fatalf("duration missing")
	}
	if v := duration["value"]; v != float64(5) {
		t.Fatalf("duration.value = %v, want 5", v)
	}
	if _, ok := payload["quality"]; ok {
		t.Fatalf("quality should be omitted when unset")
	}
}

func TestSubmitOmitsOptionalParams(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	client := newTestClient(t, transport)
	transport.setJSONResponse("/api/connect/workflows/api-video", map[string]any{"status": "queued"})

	if _, err := client.Submit(context.Background(), SubmitRequest{ClientID: "telegram_7_1", Image: []byte{1}}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(transport.lastBody, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if _, ok := payload["duration"]; ok {
		t.Fatalf("duration should be omitted when unset")
	}
	if _, ok := payload["quality"]; ok {
		t.Fatalf("quality should be omitted when unset")
	}
}

func TestSubmitReturnsRawBody(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	client := newTestClient(t, transport)
	body := `{"output":{"video":{"content":"AAAA"}}}`
	transport.setRawResponse("/api/connect/workflows/api-video", []byte(body))

	raw, err := client.Submit(context.Background(), SubmitRequest{ClientID: "telegram_7_1", Image: []byte{1}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if string(raw) != body {
		t.Fatalf("raw body = %q, want %q", raw, body)
	}
}

func TestSubmitStatusError(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	client := newTestClient(t, transport)
	transport.setErrorResponse("/api/connect/workflows/api-video", http.StatusBadGateway, "workflow offline")

	_, err := client.Submit(context.Background(), SubmitRequest{ClientID: "telegram_7_1", Image: []byte{1}})
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.Op != "submit" || statusErr.Code != http.StatusBadGateway {
		t.Fatalf("status error = %+v", statusErr)
	}
	if statusErr.Detail != "workflow offline" {
		t.Fatalf("detail = %q", statusErr.Detail)
	}
}

func TestFindOutputLocatesJobFile(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	client := newTestClient(t, transport)
	transport.setJSONResponse("http://comfy.test/history", map[string]any{
		"prompt-other": map[string]any{
			"prompt": []any{1, "prompt-other", map[string]any{"image": "input_telegram_99_5.jpg"}},
			"outputs": map[string]any{
				"9": map[string]any{"videos": []any{map[string]any{"filename": "other.mp4", "type": "output"}}},
			},
		},
		"prompt-broken": map[string]any{"prompt": "not-an-array"},
		"prompt-mine": map[string]any{
			"prompt": []any{2, "prompt-mine", map[string]any{"image": "input_telegram_42_1.jpg"}},
			"outputs": map[string]any{
				"9": map[string]any{
					"videos": []any{
						map[string]any{"filename": "preview.png", "subfolder": "previews", "type": "temp"},
						map[string]any{"filename": "clip.MP4", "subfolder": "videos"},
					},
				},
			},
		},
	})

	out, err := client.FindOutput(context.Background(), "telegram_42_1")
	if err != nil {
		t.Fatalf("find output: %v", err)
	}
	if out.Filename != "clip.MP4" {
		t.Fatalf("filename = %q, want clip.MP4", out.Filename)
	}
	if out.Subfolder != "videos" {
		t.Fatalf("subfolder = %q, want videos", out.Subfolder)
	}
	if out.Type != "output" {
		t.Fatalf("type = %q, want default output", out.Type)
	}
}

func TestFindOutputPrefersGifsNode(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	client := newTestClient(t, transport)
	transport.setJSONResponse("http://comfy.test/history", map[string]any{
		"prompt-mine": map[string]any{
			"prompt": []any{2, "prompt-mine", map[string]any{"image": "input_telegram_42_1.jpg"}},
			"outputs": map[string]any{
				"9": map[string]any{
					"gifs":   []any{map[string]any{"filename": "anim.gif", "type": "output"}},
					"videos": []any{map[string]any{"filename": "clip.mp4", "type": "output"}},
				},
			},
		},
	})

	out, err := client.FindOutput(context.Background(), "telegram_42_1")
	if err != nil {
		t.Fatalf("find output: %v", err)
	}
	if out.Filename != "anim.gif" {
		t.Fatalf("filename = %q, want anim.gif", out.Filename)
	}
}

func TestFindOutputJobWithoutFilesKeepsWaiting(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	client := newTestClient(t, transport)
	transport.setJSONResponse("http://comfy.test/history", map[string]any{
		"prompt-mine": map[string]any{
			"prompt":  []any{2, "prompt-mine", map[string]any{"image": "input_telegram_42_1.jpg"}},
			"outputs": map[string]any{},
		},
	})

	_, err := client.FindOutput(context.Background(), "telegram_42_1")
	if !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("err = %v, want ErrJobNotFound", err)
	}
}

func TestFindOutputUnknownJob(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	client := newTestClient(t, transport)
	transport.setJSONResponse("http://comfy.test/history", map[string]any{})

	_, err := client.FindOutput(context.Background(), "telegram_42_1")
	if !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("err = %v, want ErrJobNotFound", err)
	}
}

func TestFindOutputStatusError(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	client := newTestClient(t, transport)
	transport.setErrorResponse("http://comfy.test/history", http.StatusInternalServerError, "boom")

	_, err := client.FindOutput(context.Background(), "telegram_42_1")
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.Op != "history" || statusErr.Code != http.StatusInternalServerError {
		t.Fatalf("status error = %+v", statusErr)
	}
}

func TestDownloadFetchesFile(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	client := newTestClient(t, transport)
	data := []byte{0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p'}
	// The stub key pins the exact query encoding.
	transport.setBinaryResponse("http://comfy.test/view?filename=clip.mp4&subfolder=videos&type=output", data)

	got, err := client.Download(context.Background(), Output{Filename: "clip.mp4", Subfolder: "videos", Type: "output"})
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("downloaded bytes mismatch: %v vs %v", got, data)
	}
}

func TestDownloadStatusError(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	client := newTestClient(t, transport)

	_, err := client.Download(context.Background(), Output{Filename: "missing.mp4", Type: "output"})
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.Op != "download" || statusErr.Code != http.StatusNotFound {
		t.Fatalf("status error = %+v", statusErr)
	}
}

type captureTransport struct {
	responses map[string]responseStub
	lastBody  []byte
}

type responseStub struct {
	status int
	header http.Header
	body   []byte
}

func (c *captureTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method == http.MethodPost {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		req.Body.Close()
		c.lastBody = body
		if stub, ok := c.responses[req.URL.Path]; ok {
			return stub.toResponse(), nil
		}
	}
	if req.Method == http.MethodGet {
		if stub, ok := c.responses[req.URL.String()]; ok {
			return stub.toResponse(), nil
		}
	}
	return &http.Response{
		StatusCode: http.StatusNotFound,
		Body:       io.NopCloser(strings.NewReader("not found")),
	}, nil
}

func (c *captureTransport) setJSONResponse(key string, payload any) {
	body, _ := json.Marshal(payload)
	c.responses[key] = responseStub{
		status: http.StatusOK,
		header: http.Header{"Content-Type": []string{"application/json"}},
		body:   body,
	}
}

func (c *captureTransport) setRawResponse(key string, body []byte) {
	c.responses[key] = responseStub{
		status: http.StatusOK,
		header: http.Header{"Content-Type": []string{"application/json"}},
		body:   body,
	}
}

func (c *captureTransport) setBinaryResponse(key string, data []byte) {
	c.responses[key] = responseStub{
		status: http.StatusOK,
		header: http.Header{"Content-Type": []string{"video/mp4"}},
		body:   data,
	}
}

func (c *captureTransport) setErrorResponse(key string, status int, body string) {
	c.responses[key] = responseStub{
		status: status,
		header: http.Header{"Content-Type": []string{"text/plain"}},
		body:   []byte(body),
	}
}

func (s responseStub) toResponse() *http.Response {
	header := http.Header{}
	for k, values := range s.header {
		cloned := make([]string, len(values))
		copy(cloned, values)
		header[k] = cloned
	}
	return &http.Response{
		StatusCode: s.status,
		Header:     header,
		Body:       io.NopCloser(bytes.NewReader(s.body)),
	}
}

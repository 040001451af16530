// Package comfy is the client for a ComfyUI-Connect style image-to-video
// service: workflow submission, job-history lookup, file download, and the
// queue event stream.
package comfy

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrJobNotFound is reported when no history record matches the client id or
// the matching record has no usable output yet. Pollers treat it as "keep
// waiting", not as a failure.
var ErrJobNotFound = errors.New("comfy: job not found in history")

// videoExtensions are the output filenames accepted as produced media.
var videoExtensions = []string{".mp4", ".webm", ".avi", ".mov", ".gif"}

// errDetailLimit caps how much of an error body is carried in a StatusError.
const errDetailLimit = 500

// StatusError is a non-2xx response from the service. The HTTP code is
// surfaced to the user, so callers unwrap it with errors.As.
type StatusError struct {
	Op     string
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("comfy: %s status %d: %s", e.Op, e.Code, e.Detail)
	}
	return fmt.Sprintf("comfy: %s status %d", e.Op, e.Code)
}

// Options configures the client.
type Options struct {
	// BaseURL is the http(s) root of the service.
	BaseURL string
	// Workflow names the ComfyUI-Connect workflow in the submit path.
	Workflow string
	// WSBaseURL overrides the ws(s) root; derived from BaseURL when empty.
	WSBaseURL string
	// HTTPClient may be nil; submissions can block for the whole generation,
	// so the default allows long requests and the caller's context enforces
	// the real ceiling.
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// Client talks to one ComfyUI-Connect deployment.
type Client struct {
	baseURL    string
	wsBaseURL  string
	workflow   string
	httpClient *http.Client
	logger     zerolog.Logger
}

// SubmitRequest carries one generation job. Duration and Quality are
// included in the payload only when set.
type SubmitRequest struct {
	ClientID string
	Image    []byte
	Duration *Param
	Quality  *Param
}

// Param is the minimal wire shape for optional workflow parameters.
type Param struct {
	Value any `json:"value"`
}

// Output identifies a produced file in the service's storage.
type Output struct {
	Filename  string
	Subfolder string
	Type      string
}

type submitPayload struct {
	Image    imageNode `json:"image"`
	ClientID string    `json:"client_id"`
	Duration *Param    `json:"duration,omitempty"`
	Quality  *Param    `json:"quality,omitempty"`
}

type imageNode struct {
	Image imageFile `json:"image"`
}

type imageFile struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Name    string `json:"name"`
}

// historyRecord is the subset of a /history entry the client inspects.
// Prompt is a heterogeneous array; index 2 holds the submitted workflow.
type historyRecord struct {
	Prompt  []json.RawMessage     `json:"prompt"`
	Outputs map[string]nodeOutput `json:"outputs"`
}

type nodeOutput struct {
	Gifs   []outputFile `json:"gifs"`
	Videos []outputFile `json:"videos"`
}

type outputFile struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// NewClient constructs a client. BaseURL is required.
func NewClient(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("comfy: base url is required")
	}

	workflow := strings.TrimSpace(opts.Workflow)
	if workflow == "" {
		workflow = "api-video"
	}

	wsBaseURL := strings.TrimRight(strings.TrimSpace(opts.WSBaseURL), "/")
	if wsBaseURL == "" {
		wsBaseURL = deriveWSBase(baseURL)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Minute}
	}

	return &Client{
		baseURL:    baseURL,
		wsBaseURL:  wsBaseURL,
		workflow:   workflow,
		httpClient: httpClient,
		logger:     opts.Logger,
	}, nil
}

// UploadName is the deterministic filename a request's image is submitted
// under; history lookups match it against the recorded workflow.
func UploadName(clientID string) string {
	return "input_" + clientID + ".jpg"
}

// Submit POSTs one generation job and returns the raw response body on 200.
// The body's shape is not known ahead of time; callers scan it for an inline
// payload. A non-200 response is a *StatusError and is not retried.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) ([]byte, error) {
	payload := submitPayload{
		Image: imageNode{
			Image: imageFile{
				Type:    "file",
				Content: base64.StdEncoding.EncodeToString(req.Image),
				Name:    UploadName(req.ClientID),
			},
		},
		ClientID: req.ClientID,
		Duration: req.Duration,
		Quality:  req.Quality,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("comfy: encode submit payload: %w", err)
	}

	endpoint := c.baseURL + "/api/connect/workflows/" + url.PathEscape(c.workflow)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("comfy: build submit request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	c.logger.Info().
		Str("client_id", req.ClientID).
		Str("workflow", c.workflow).
		Int("image_bytes", len(req.Image)).
		Msg("comfy: submitting job")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("comfy: submit: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("comfy: read submit response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Op: "submit", Code: resp.StatusCode, Detail: truncate(raw)}
	}

	c.logger.Debug().
		Str("client_id", req.ClientID).
		Int("response_bytes", len(raw)).
		Msg("comfy: submit response received")
	return raw, nil
}

// FindOutput scans /history for the job whose recorded workflow references
// this request's upload name and returns its first output with a recognized
// media extension. Records with unexpected shapes are skipped, and a matched
// job without outputs yet reports ErrJobNotFound so the poller keeps waiting.
func (c *Client) FindOutput(ctx context.Context, clientID string) (Output, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/history", nil)
	if err != nil {
		return Output{}, fmt.Errorf("comfy: build history request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Output{}, fmt.Errorf("comfy: history: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Output{}, fmt.Errorf("comfy: read history response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Output{}, &StatusError{Op: "history", Code: resp.StatusCode, Detail: truncate(raw)}
	}

	var records map[string]json.RawMessage
	if err := json.Unmarshal(raw, &records); err != nil {
		return Output{}, fmt.Errorf("comfy: decode history response: %w", err)
	}

	search := []byte(UploadName(clientID))
	for promptID, rawRecord := range records {
		var record historyRecord
		if err := json.Unmarshal(rawRecord, &record); err != nil {
			continue
		}
		if len(record.Prompt) < 3 || !bytes.Contains(record.Prompt[2], search) {
			continue
		}

		c.logger.Debug().
			Str("client_id", clientID).
			Str("prompt_id", promptID).
			Int("output_nodes", len(record.Outputs)).
			Msg("comfy: job located in history")

		for _, node := range record.Outputs {
			for _, files := range [][]outputFile{node.Gifs, node.Videos} {
				for _, f := range files {
					if !hasMediaExtension(f.Filename) {
						continue
					}
					out := Output{Filename: f.Filename, Subfolder: f.Subfolder, Type: f.Type}
					if out.Type == "" {
						out.Type = "output"
					}
					return out, nil
				}
			}
		}
		// The job exists but has not produced a file yet.
		return Output{}, ErrJobNotFound
	}
	return Output{}, ErrJobNotFound
}

// Download fetches the produced file's bytes from /view.
func (c *Client) Download(ctx context.Context, out Output) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/view", nil)
	if err != nil {
		return nil, fmt.Errorf("comfy: build download request: %w", err)
	}
	q := httpReq.URL.Query()
	q.Set("filename", out.Filename)
	q.Set("type", out.Type)
	q.Set("subfolder", out.Subfolder)
	httpReq.URL.RawQuery = q.Encode()

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("comfy: download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, &StatusError{Op: "download", Code: resp.StatusCode, Detail: truncate(raw)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("comfy: read download response: %w", err)
	}
	c.logger.Info().
		Str("filename", out.Filename).
		Int("bytes", len(data)).
		Msg("comfy: output downloaded")
	return data, nil
}

func hasMediaExtension(filename string) bool {
	lower := strings.ToLower(filename)
	for _, ext := range videoExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

func truncate(raw []byte) string {
	detail := strings.TrimSpace(string(raw))
	if len(detail) > errDetailLimit {
		detail = detail[:errDetailLimit]
	}
	return detail
}

func deriveWSBase(baseURL string) string {
	switch {
	case strings.HasPrefix(baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(baseURL, "https://")
	case strings.HasPrefix(baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(baseURL, "http://")
	}
	return baseURL
}

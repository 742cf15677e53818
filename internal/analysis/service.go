package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/soyeahso/tally/internal/logging"
	"github.com/soyeahso/tally/internal/version"
)

// maxResponseBytes bounds how much of a backend reply is read.
const maxResponseBytes = 1 << 20

// ServiceClient talks to a dedicated receipt analysis service:
//
//	POST {endpoint}/api/analyze  (multipart/form-data, field "image")
//	200 {"result": {"total": 12.5, "items": [{"name": "Milk", "price": 3}]}}
type ServiceClient struct {
	endpoint string
	apiKey   string
	client   *http.Client
	log      *logging.Logger
}

// NewServiceClient creates a client for the service at endpoint. apiKey is
// optional and sent as a bearer token.
func NewServiceClient(endpoint, apiKey string, client *http.Client, log *logging.Logger) *ServiceClient {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	return &ServiceClient{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		client:   client,
		log:      log.Sub("analysis.service"),
	}
}

// Name returns the provider name.
func (c *ServiceClient) Name() string { return "service" }

type serviceResponse struct {
	Result *wireResult `json:"result"`
	Error  string      `json:"error,omitempty"`
}

// Analyze uploads the image and decodes the service's answer.
func (c *ServiceClient) Analyze(ctx context.Context, img Image) (*Result, error) {
	if len(img.Data) == 0 {
		return nil, &Error{Kind: BadImage, Provider: c.Name(), Err: errors.New("empty image")}
	}

	body, contentType, err := buildMultipart(img)
	if err != nil {
		return nil, &Error{Kind: BadImage, Provider: c.Name(), Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/analyze", body)
	if err != nil {
		return nil, &Error{Kind: ServiceUnavailable, Provider: c.Name(), Err: err}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, transportError(ctx, c.Name(), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, transportError(ctx, c.Name(), err)
	}

	c.log.Debug().
		Int("status", resp.StatusCode).
		Int("bytes", len(img.Data)).
		Dur("elapsed", time.Since(start)).
		Msg("analysis service responded")

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(c.Name(), resp.StatusCode, errors.New(truncate(string(respBody), 200)))
	}

	var sr serviceResponse
	if err := json.Unmarshal(respBody, &sr); err != nil {
		return nil, &Error{Kind: Malformed, Provider: c.Name(), Err: fmt.Errorf("decode response: %w", err)}
	}
	if sr.Result == nil {
		if sr.Error != "" {
			return nil, &Error{Kind: BadImage, Provider: c.Name(), Err: errors.New(sr.Error)}
		}
		return nil, &Error{Kind: Malformed, Provider: c.Name(), Err: errors.New("response has no result")}
	}
	return sr.Result.toResult(c.Name())
}

func buildMultipart(img Image) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	filename := img.Filename
	if filename == "" {
		filename = "receipt" + extensionFor(img.MimeType)
	}
	mt := img.MimeType
	if mt == "" {
		mt = "application/octet-stream"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, filename))
	h.Set("Content-Type", mt)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(img.Data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".jpg"
	}
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"petitions/internal/metrics"
)

const (
	uploadFilePath     = "/api/ipfs/upload-file"
	uploadMetadataPath = "/api/ipfs/upload-metadata"

	// RequestIDHeader carries the per-upload id to the proxy logs
	RequestIDHeader = "X-Request-ID"
)

// Result is the pinning proxy's answer to an upload
type Result struct {
	Success    bool   `json:"success"`
	CID        string `json:"cid"`
	URL        string `json:"url"`
	GatewayURL string `json:"gatewayUrl"`
	Filename   string `json:"filename,omitempty"`
	Size       int64  `json:"size,omitempty"`
	Type       string `json:"type,omitempty"`
}

// File is one uploaded attachment
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Uploader pins files and metadata documents
type Uploader interface {
	UploadFile(ctx context.Context, f File) (*Result, error)
	UploadMetadata(ctx context.Context, doc any) (*Result, error)
}

// ProxyClient talks to the pinning proxy over HTTP
type ProxyClient struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// NewProxyClient creates a client for the proxy at baseURL
func NewProxyClient(baseURL string, httpClient *http.Client, logger *zap.Logger) *ProxyClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProxyClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		logger:  logger.Named("upload"),
	}
}

// UploadFile posts f as the multipart field "file"
func (c *ProxyClient) UploadFile(ctx context.Context, f File) (*Result, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(f.Name)))
	h.Set("Content-Type", contentType(f))
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to build form: %w", err)
	}
	if _, err := part.Write(f.Data); err != nil {
		return nil, fmt.Errorf("failed to build form: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to build form: %w", err)
	}

	res, err := c.post(ctx, uploadFilePath, w.FormDataContentType(), &body, "file")
	if err == nil {
		metrics.UploadBytes.Observe(float64(len(f.Data)))
	}
	return res, err
}

// UploadMetadata posts doc wrapped as {"metadata": doc}
func (c *ProxyClient) UploadMetadata(ctx context.Context, doc any) (*Result, error) {
	payload, err := json.Marshal(map[string]any{"metadata": doc})
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	return c.post(ctx, uploadMetadataPath, "application/json", bytes.NewReader(payload), "metadata")
}

func (c *ProxyClient) post(ctx context.Context, path, ct string, body io.Reader, kind string) (*Result, error) {
	reqID := uuid.NewString()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", ct)
	req.Header.Set(RequestIDHeader, reqID)

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.Uploads.WithLabelValues(kind, "error").Inc()
		return nil, fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		metrics.Uploads.WithLabelValues(kind, "error").Inc()
		return nil, fmt.Errorf("upload failed: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.Uploads.WithLabelValues(kind, "error").Inc()
		var e struct {
			Error string `json:"error"`
		}
		msg := http.StatusText(resp.StatusCode)
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		c.logger.Warn("Proxy rejected upload",
			zap.String("request_id", reqID),
			zap.String("kind", kind),
			zap.Int("status", resp.StatusCode),
			zap.String("error", msg))
		return nil, fmt.Errorf("upload failed: %s (status %d)", msg, resp.StatusCode)
	}

	var res Result
	if err := json.Unmarshal(raw, &res); err != nil {
		metrics.Uploads.WithLabelValues(kind, "error").Inc()
		return nil, fmt.Errorf("upload failed: decode response: %w", err)
	}
	if res.CID == "" {
		metrics.Uploads.WithLabelValues(kind, "error").Inc()
		return nil, fmt.Errorf("upload failed: proxy returned no cid")
	}
	if res.URL == "" {
		res.URL = "ipfs://" + res.CID
	}

	metrics.Uploads.WithLabelValues(kind, "ok").Inc()
	c.logger.Debug("Uploaded",
		zap.String("request_id", reqID),
		zap.String("kind", kind),
		zap.String("cid", res.CID))
	return &res, nil
}

func contentType(f File) string {
	if f.ContentType != "" {
		return f.ContentType
	}
	return http.DetectContentType(f.Data)
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

package pinproxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"petitions/internal/ipfs"
	"petitions/internal/metrics"
)

var errPinFailed = errors.New("failed to upload to IPFS")

// FileResult describes one pinned file
type FileResult struct {
	CID        string `json:"cid"`
	Filename   string `json:"filename,omitempty"`
	Size       int64  `json:"size,omitempty"`
	Type       string `json:"type,omitempty"`
	URL        string `json:"url"`
	GatewayURL string `json:"gatewayUrl"`
	Timestamp  string `json:"timestamp"`
}

// Pin is one entry of the pin list
type Pin struct {
	CID  string `json:"cid"`
	Type string `json:"type"`
}

// Health reports liveness
func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "pinproxy", "timestamp": time.Now().UTC()})
}

// UploadFile pins the multipart field "file"
func (s *Server) UploadFile(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "File is required"})
		return
	}

	res, code, err := s.pinFile(fh)
	if err != nil {
		c.JSON(code, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"cid":        res.CID,
		"filename":   res.Filename,
		"size":       res.Size,
		"type":       res.Type,
		"url":        res.URL,
		"gatewayUrl": res.GatewayURL,
		"timestamp":  res.Timestamp,
	})
}

// UploadMultiple pins every multipart "files" entry in parallel
func (s *Server) UploadMultiple(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil || len(form.File["files"]) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "At least one file is required"})
		return
	}
	files := form.File["files"]

	for _, fh := range files {
		if fh.Size > s.maxBytes {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("%s exceeds %d bytes", fh.Filename, s.maxBytes)})
			return
		}
	}

	results := make([]FileResult, len(files))
	g := new(errgroup.Group)
	for i, fh := range files {
		g.Go(func() error {
			res, _, err := s.pinFile(fh)
			if err != nil {
				return fmt.Errorf("failed to upload %s: %w", fh.Filename, err)
			}
			results[i] = *res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "files": results})
}

// UploadMetadata pins the JSON object under "metadata"
func (s *Server) UploadMetadata(c *gin.Context) {
	var req struct {
		Metadata json.RawMessage `json:"metadata"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON body"})
		return
	}

	var obj map[string]any
	if len(req.Metadata) == 0 || json.Unmarshal(req.Metadata, &obj) != nil || obj == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Metadata object is required"})
		return
	}

	doc, err := json.Marshal(obj)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Metadata is not serializable"})
		return
	}
	if int64(len(doc)) > s.maxBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("metadata exceeds %d bytes", s.maxBytes)})
		return
	}

	cid, err := s.pinner.Add(bytes.NewReader(doc))
	if err != nil {
		metrics.Uploads.WithLabelValues("metadata", "error").Inc()
		s.logger.Error("Failed to pin metadata", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to upload to IPFS"})
		return
	}
	metrics.Uploads.WithLabelValues("metadata", "ok").Inc()

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"cid":        cid,
		"url":        "ipfs://" + cid,
		"gatewayUrl": s.gatewayURL(cid),
	})
}

// Fetch returns content for ?cid= from the first source that has it.
// JSON content is wrapped as {success, data, gateway}; anything else is
// returned raw.
func (s *Server) Fetch(c *gin.Context) {
	cid := c.Query("cid")
	if cid == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "CID is required"})
		return
	}
	ref, err := ipfs.ParseRef(cid)
	if err != nil || !ref.IsContent() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid CID"})
		return
	}

	var lastErr error
	for _, src := range s.sources {
		ctx, cancel := context.WithTimeout(c.Request.Context(), s.opts.FetchTimeout)
		body, err := src.Fetcher.Fetch(ctx, ref)
		cancel()

		if err != nil {
			metrics.GatewayFetches.WithLabelValues(src.Name, "error").Inc()
			s.logger.Debug("Source failed", zap.String("source", src.Name), zap.Error(err))
			lastErr = err
			continue
		}
		metrics.GatewayFetches.WithLabelValues(src.Name, "ok").Inc()

		if json.Valid(body) {
			c.JSON(http.StatusOK, gin.H{"success": true, "data": json.RawMessage(body), "gateway": src.Name})
			return
		}
		c.Data(http.StatusOK, http.DetectContentType(body), body)
		return
	}

	details := "no sources configured"
	if lastErr != nil {
		details = lastErr.Error()
	}
	c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to fetch from all gateways", "details": details})
}

// ListPins lists pinned CIDs
func (s *Server) ListPins(c *gin.Context) {
	pins, err := s.pinner.Pins()
	if err != nil {
		s.logger.Error("Failed to list pins", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to fetch pin list"})
		return
	}

	out := make([]Pin, 0, len(pins))
	for cid, info := range pins {
		out = append(out, Pin{CID: cid, Type: info.Type})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CID < out[j].CID })

	c.JSON(http.StatusOK, gin.H{"success": true, "count": len(out), "pins": out})
}

// Unpin removes the pin for ?cid=
func (s *Server) Unpin(c *gin.Context) {
	cid := c.Query("cid")
	if cid == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "CID is required"})
		return
	}
	if !ipfs.ValidCID(cid) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid CID"})
		return
	}

	if err := s.pinner.Unpin(cid); err != nil {
		s.logger.Error("Failed to unpin", zap.String("cid", cid), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to unpin"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "cid": cid})
}

// pinFile checks and pins one uploaded file. The int is the HTTP status to
// use on failure.
func (s *Server) pinFile(fh *multipart.FileHeader) (*FileResult, int, error) {
	if fh.Size > s.maxBytes {
		return nil, http.StatusRequestEntityTooLarge, fmt.Errorf("%s exceeds %d bytes", fh.Filename, s.maxBytes)
	}

	f, err := fh.Open()
	if err != nil {
		return nil, http.StatusBadRequest, fmt.Errorf("failed to read %s", fh.Filename)
	}
	defer f.Close()

	cid, err := s.pinner.Add(f)
	if err != nil {
		metrics.Uploads.WithLabelValues("file", "error").Inc()
		s.logger.Error("Failed to pin file", zap.String("filename", fh.Filename), zap.Error(err))
		return nil, http.StatusBadGateway, errPinFailed
	}
	metrics.Uploads.WithLabelValues("file", "ok").Inc()
	metrics.UploadBytes.Observe(float64(fh.Size))

	return &FileResult{
		CID:        cid,
		Filename:   fh.Filename,
		Size:       fh.Size,
		Type:       fh.Header.Get("Content-Type"),
		URL:        "ipfs://" + cid,
		GatewayURL: s.gatewayURL(cid),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}, 0, nil
}

func (s *Server) gatewayURL(cid string) string {
	return s.gateway + "/ipfs/" + cid
}

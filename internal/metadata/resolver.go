package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"petitions/internal/failure"
	"petitions/internal/ipfs"
	"petitions/internal/metrics"
	"petitions/internal/models"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"
)

// Placeholder shown for a missing title or description
const Placeholder = "-"

const unknownDocumentName = "Unknown Document"

var errShape = errors.New("document is not a petition metadata object")

// Resolver fetches and validates off-chain petition metadata. Every call
// fetches again; nothing is cached or retried.
type Resolver struct {
	fetcher  ipfs.Fetcher
	gateway  string
	timeout  time.Duration
	sanitize *bluemonday.Policy
	logger   *zap.Logger
}

// NewResolver creates a Resolver. gateway is used to rewrite asset URLs and
// timeout bounds a single fetch.
func NewResolver(fetcher ipfs.Fetcher, gateway string, timeout time.Duration, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		fetcher:  fetcher,
		gateway:  gateway,
		timeout:  timeout,
		sanitize: bluemonday.UGCPolicy(),
		logger:   logger.Named("metadata"),
	}
}

// document is the wire shape written by the create flow
type document struct {
	Name         *string         `json:"name"`
	Description  *string         `json:"description"`
	Image        *string         `json:"image"`
	PetitionData json.RawMessage `json:"petitionData"`
}

// petitionData fields are optional and decoded leniently: a field of the
// wrong type is ignored rather than failing the document
type petitionData struct {
	RichTextContent json.RawMessage `json:"richTextContent"`
	Documents       json.RawMessage `json:"documents"`
}

type documentRef struct {
	Name       string          `json:"name"`
	URL        string          `json:"url"`
	UploadedAt json.RawMessage `json:"uploadedAt"`
}

// Resolve fetches the document behind uri. Any failure is returned as a
// *failure.MetadataUnavailableError.
func (r *Resolver) Resolve(ctx context.Context, uri string) (*models.Metadata, error) {
	start := time.Now()
	meta, err := r.resolve(ctx, uri)
	if err != nil {
		metrics.MetadataFetchDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		r.logger.Debug("Metadata unavailable", zap.String("uri", uri), zap.Error(err))
		return nil, &failure.MetadataUnavailableError{URI: uri, Err: err}
	}
	metrics.MetadataFetchDuration.WithLabelValues("ok").Observe(time.Since(start).Seconds())
	return meta, nil
}

func (r *Resolver) resolve(ctx context.Context, uri string) (*models.Metadata, error) {
	ref, err := ipfs.ParseRef(uri)
	if err != nil {
		return nil, err
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	body, err := r.fetcher.Fetch(ctx, ref)
	if err != nil {
		return nil, err
	}

	var doc document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", errShape, err)
	}
	if doc.Name == nil && doc.Description == nil && doc.Image == nil {
		return nil, errShape
	}

	return r.toMetadata(doc), nil
}

func (r *Resolver) toMetadata(doc document) *models.Metadata {
	meta := &models.Metadata{
		Title:       orPlaceholder(doc.Name),
		Description: orPlaceholder(doc.Description),
	}
	if doc.Image != nil {
		meta.Image = ipfs.RewriteURL(*doc.Image, r.gateway)
	}

	var pd petitionData
	if len(doc.PetitionData) == 0 || json.Unmarshal(doc.PetitionData, &pd) != nil {
		return meta
	}

	var rich string
	if json.Unmarshal(pd.RichTextContent, &rich) == nil && rich != "" {
		meta.RichText = r.sanitize.Sanitize(rich)
	}

	var entries []json.RawMessage
	if json.Unmarshal(pd.Documents, &entries) != nil {
		if len(pd.Documents) > 0 && string(pd.Documents) != "null" {
			r.logger.Debug("Ignoring malformed documents field")
		}
		return meta
	}
	for _, raw := range entries {
		var d documentRef
		if json.Unmarshal(raw, &d) != nil {
			continue
		}
		name := strings.TrimSpace(d.Name)
		if name == "" {
			name = unknownDocumentName
		}
		meta.Documents = append(meta.Documents, models.DocumentRef{
			Name:       name,
			URL:        ipfs.RewriteURL(d.URL, r.gateway),
			UploadedAt: uploadedAt(d.UploadedAt),
		})
	}

	return meta
}

func orPlaceholder(s *string) string {
	if s == nil {
		return Placeholder
	}
	return *s
}

// uploadedAt accepts epoch milliseconds or a preformatted string
func uploadedAt(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var ms int64
	if err := json.Unmarshal(raw, &ms); err == nil {
		return time.UnixMilli(ms).UTC().Format(time.RFC3339)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

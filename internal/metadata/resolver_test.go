package metadata

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"petitions/internal/failure"
	"petitions/internal/ipfs"
)

const testCID = "bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi"

type stubFetcher struct {
	body  string
	err   error
	delay time.Duration
	calls int
}

func (s *stubFetcher) Fetch(ctx context.Context, ref ipfs.Ref) ([]byte, error) {
	s.calls++
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return []byte(s.body), nil
}

func TestResolve_FullDocument(t *testing.T) {
	f := &stubFetcher{body: `{
		"name": "Save the river",
		"description": "Stop the dumping",
		"image": "ipfs://` + testCID + `/cover.png",
		"petitionData": {
			"richTextContent": "<p>Hello</p><script>alert(1)</script>",
			"documents": [
				{"name": "report.pdf", "url": "ipfs://` + testCID + `/report.pdf", "uploadedAt": 1700000000000},
				{"url": "https://example.org/x.pdf", "uploadedAt": "2024-01-01"}
			]
		}
	}`}
	r := NewResolver(f, "https://gw.example", time.Second, nil)

	meta, err := r.Resolve(context.Background(), "ipfs://"+testCID)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if meta.Title != "Save the river" || meta.Description != "Stop the dumping" {
		t.Errorf("Unexpected text fields: %+v", meta)
	}
	if meta.Image != "https://gw.example/ipfs/"+testCID+"/cover.png" {
		t.Errorf("Image not rewritten: %s", meta.Image)
	}
	if strings.Contains(meta.RichText, "<script>") || !strings.Contains(meta.RichText, "<p>Hello</p>") {
		t.Errorf("Rich text not sanitized: %q", meta.RichText)
	}
	if len(meta.Documents) != 2 {
		t.Fatalf("Expected 2 documents, got: %d", len(meta.Documents))
	}
	if meta.Documents[0].UploadedAt != "2023-11-14T22:13:20Z" {
		t.Errorf("Unexpected uploadedAt: %s", meta.Documents[0].UploadedAt)
	}
	if meta.Documents[1].Name != unknownDocumentName || meta.Documents[1].URL != "https://example.org/x.pdf" {
		t.Errorf("Unexpected second document: %+v", meta.Documents[1])
	}
}

func TestResolve_MissingTextUsesPlaceholder(t *testing.T) {
	r := NewResolver(&stubFetcher{body: `{"image": ""}`}, "https://gw.example", time.Second, nil)

	meta, err := r.Resolve(context.Background(), testCID)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if meta.Title != Placeholder || meta.Description != Placeholder {
		t.Errorf("Expected placeholders, got: %q / %q", meta.Title, meta.Description)
	}
}

func TestResolve_Failures(t *testing.T) {
	tests := []struct {
		name string
		uri  string
		f    *stubFetcher
	}{
		{"bad uri", "not a cid", &stubFetcher{body: `{}`}},
		{"fetch error", "ipfs://" + testCID, &stubFetcher{err: errors.New("gateway returned 504")}},
		{"not json", "ipfs://" + testCID, &stubFetcher{body: `<html>`}},
		{"array", "ipfs://" + testCID, &stubFetcher{body: `[1,2]`}},
		{"empty object", "ipfs://" + testCID, &stubFetcher{body: `{"foo": 1}`}},
		{"timeout", "ipfs://" + testCID, &stubFetcher{body: `{"name":"x"}`, delay: 200 * time.Millisecond}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(tt.f, "https://gw.example", 20*time.Millisecond, nil)

			_, err := r.Resolve(context.Background(), tt.uri)
			var unavailable *failure.MetadataUnavailableError
			if !errors.As(err, &unavailable) {
				t.Fatalf("Expected MetadataUnavailableError, got: %v", err)
			}
			if unavailable.URI != tt.uri {
				t.Errorf("Expected URI %q, got: %q", tt.uri, unavailable.URI)
			}
		})
	}
}

func TestResolve_NoCaching(t *testing.T) {
	f := &stubFetcher{body: `{"name":"x"}`}
	r := NewResolver(f, "https://gw.example", time.Second, nil)

	for i := 0; i < 3; i++ {
		if _, err := r.Resolve(context.Background(), testCID); err != nil {
			t.Fatalf("Resolve: %v", err)
		}
	}
	if f.calls != 3 {
		t.Errorf("Expected 3 fetches, got: %d", f.calls)
	}
}

func TestResolve_MalformedOptionalFieldsAreIgnored(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		docs     int
		richText string
	}{
		{"documents is an object", `{"name":"T","description":"D","image":"","petitionData":{"documents":{}}}`, 0, ""},
		{"documents is a string", `{"name":"T","description":"D","petitionData":{"documents":"none","richTextContent":"<b>x</b>"}}`, 0, "<b>x</b>"},
		{"bad entries skipped", `{"name":"T","description":"D","petitionData":{"documents":[1,"x",{"name":"a.pdf","url":"https://example.org/a.pdf"}]}}`, 1, ""},
		{"rich text not a string", `{"name":"T","description":"D","petitionData":{"richTextContent":42}}`, 0, ""},
		{"petitionData not an object", `{"name":"T","description":"D","petitionData":"legacy"}`, 0, ""},
		{"petitionData null", `{"name":"T","description":"D","petitionData":null}`, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(&stubFetcher{body: tt.body}, "https://gw.example", time.Second, nil)

			meta, err := r.Resolve(context.Background(), "ipfs://"+testCID)
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			if meta.Title != "T" || meta.Description != "D" {
				t.Errorf("Unexpected text fields: %+v", meta)
			}
			if len(meta.Documents) != tt.docs {
				t.Errorf("Expected %d documents, got: %+v", tt.docs, meta.Documents)
			}
			if meta.RichText != tt.richText {
				t.Errorf("Expected rich text %q, got: %q", tt.richText, meta.RichText)
			}
		})
	}
}

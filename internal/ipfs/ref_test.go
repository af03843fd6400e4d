package ipfs

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const testCID = "bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi"

func TestParseRef(t *testing.T) {
	tests := []struct {
		name    string
		uri     string
		content bool
		path    string
		wantErr bool
	}{
		{"ipfs scheme", "ipfs://" + testCID, true, "", false},
		{"ipfs scheme with path", "ipfs://" + testCID + "/metadata.json", true, "metadata.json", false},
		{"ipfs scheme double prefix", "ipfs://ipfs/" + testCID, true, "", false},
		{"ipfs path", "/ipfs/" + testCID, true, "", false},
		{"bare cid", testCID, true, "", false},
		{"gateway url", "https://ipfs.io/ipfs/" + testCID + "/a/b", true, "a/b", false},
		{"plain url", "https://example.org/meta.json", false, "", false},
		{"garbage", "not a cid", false, "", true},
		{"empty", "", false, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, err := ParseRef(tt.uri)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseRef(%q) error = %v, wantErr %v", tt.uri, err, tt.wantErr)
			}
			if err != nil {
				if !errors.Is(err, ErrInvalidRef) {
					t.Errorf("Expected ErrInvalidRef, got: %v", err)
				}
				return
			}
			if ref.IsContent() != tt.content {
				t.Errorf("IsContent() = %v, expected %v", ref.IsContent(), tt.content)
			}
			if ref.Path != tt.path {
				t.Errorf("Path = %q, expected %q", ref.Path, tt.path)
			}
		})
	}
}

func TestRewriteURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"ipfs://" + testCID, "https://gw.example/ipfs/" + testCID},
		{"ipfs://" + testCID + "/img.png", "https://gw.example/ipfs/" + testCID + "/img.png"},
		{"https://cdn.example/x.png", "https://cdn.example/x.png"},
		{"", ""},
		{"ipfs://broken", "ipfs://broken"},
	}

	for _, tt := range tests {
		if got := RewriteURL(tt.in, "https://gw.example/"); got != tt.want {
			t.Errorf("RewriteURL(%q) = %q, expected %q", tt.in, got, tt.want)
		}
	}
}

func TestGatewayFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/missing"):
			http.NotFound(w, r)
		case strings.HasSuffix(r.URL.Path, "/big"):
			w.Write([]byte(strings.Repeat("x", DefaultMaxBytes+1)))
		default:
			w.Write([]byte(`{"name":"ok"}`))
		}
	}))
	defer srv.Close()

	f := NewGatewayFetcher(srv.URL, srv.Client())
	ctx := context.Background()

	ref, _ := ParseRef("ipfs://" + testCID)
	data, err := f.Fetch(ctx, ref)
	if err != nil || string(data) != `{"name":"ok"}` {
		t.Errorf("Expected body, got: %q (err %v)", data, err)
	}

	missing, _ := ParseRef("ipfs://" + testCID + "/missing")
	if _, err := f.Fetch(ctx, missing); err == nil {
		t.Error("Expected error for 404")
	}

	big, _ := ParseRef("ipfs://" + testCID + "/big")
	if _, err := f.Fetch(ctx, big); err == nil {
		t.Error("Expected error for oversized document")
	}
}

func TestShellFetcher_FallsBackForPlainURLs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	f := NewShellFetcher("127.0.0.1:1", NewGatewayFetcher("https://unused.example", srv.Client()))
	data, err := f.Fetch(context.Background(), Ref{URL: srv.URL + "/meta.json"})
	if err != nil || string(data) != `{}` {
		t.Errorf("Expected fallback body, got: %q (err %v)", data, err)
	}
}

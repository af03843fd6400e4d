package ipfs

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/ipfs/go-cid"
)

// ErrInvalidRef is returned for URIs that are neither content addresses nor http(s) URLs
var ErrInvalidRef = errors.New("invalid content reference")

// Ref is a parsed metadata or asset pointer
type Ref struct {
	// CID is set for content-addressed references
	CID cid.Cid
	// Path is the optional sub-path inside the CID, without a leading slash
	Path string
	// URL is set for plain http(s) references that carry no CID
	URL string
}

// IsContent reports whether the reference is content-addressed
func (r Ref) IsContent() bool {
	return r.CID.Defined()
}

// IPFSPath returns /ipfs/<cid>[/path]
func (r Ref) IPFSPath() string {
	p := "/ipfs/" + r.CID.String()
	if r.Path != "" {
		p += "/" + r.Path
	}
	return p
}

// GatewayURL returns the URL to fetch the reference through gateway
func (r Ref) GatewayURL(gateway string) string {
	if !r.IsContent() {
		return r.URL
	}
	return strings.TrimRight(gateway, "/") + r.IPFSPath()
}

func (r Ref) String() string {
	if r.IsContent() {
		return "ipfs://" + strings.TrimPrefix(r.IPFSPath(), "/ipfs/")
	}
	return r.URL
}

// ParseRef accepts ipfs://<cid>[/path], /ipfs/<cid>[/path], a bare CID,
// a gateway URL containing /ipfs/<cid>, or any other http(s) URL.
func ParseRef(uri string) (Ref, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return Ref{}, fmt.Errorf("%w: empty", ErrInvalidRef)
	}

	switch {
	case strings.HasPrefix(uri, "ipfs://"):
		rest := strings.TrimPrefix(uri, "ipfs://")
		rest = strings.TrimPrefix(rest, "ipfs/")
		return parseCIDPath(rest)
	case strings.HasPrefix(uri, "/ipfs/"):
		return parseCIDPath(strings.TrimPrefix(uri, "/ipfs/"))
	case strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		u, err := url.Parse(uri)
		if err != nil {
			return Ref{}, fmt.Errorf("%w: %v", ErrInvalidRef, err)
		}
		if i := strings.Index(u.Path, "/ipfs/"); i >= 0 {
			if ref, err := parseCIDPath(u.Path[i+len("/ipfs/"):]); err == nil {
				return ref, nil
			}
		}
		return Ref{URL: uri}, nil
	}

	return parseCIDPath(uri)
}

func parseCIDPath(s string) (Ref, error) {
	s = strings.Trim(s, "/")
	head, path, _ := strings.Cut(s, "/")
	c, err := cid.Decode(head)
	if err != nil {
		return Ref{}, fmt.Errorf("%w: %q: %v", ErrInvalidRef, head, err)
	}
	return Ref{CID: c, Path: path}, nil
}

// ValidCID reports whether s decodes as a CID
func ValidCID(s string) bool {
	_, err := cid.Decode(strings.TrimSpace(s))
	return err == nil
}

// RewriteURL turns content-addressed asset URLs into gateway URLs and leaves
// everything else untouched. Empty input stays empty.
func RewriteURL(uri, gateway string) string {
	if uri == "" {
		return ""
	}
	ref, err := ParseRef(uri)
	if err != nil || !ref.IsContent() {
		return uri
	}
	return ref.GatewayURL(gateway)
}

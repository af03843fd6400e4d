package ipfs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	shell "github.com/ipfs/go-ipfs-api"
)

// DefaultMaxBytes caps a single fetched document
const DefaultMaxBytes = 4 << 20

// Fetcher retrieves the bytes behind a reference
type Fetcher interface {
	Fetch(ctx context.Context, ref Ref) ([]byte, error)
}

// GatewayFetcher reads through an HTTP gateway
type GatewayFetcher struct {
	gateway  string
	client   *http.Client
	maxBytes int64
}

// NewGatewayFetcher creates a fetcher for gateway (e.g. https://ipfs.io)
func NewGatewayFetcher(gateway string, client *http.Client) *GatewayFetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &GatewayFetcher{gateway: gateway, client: client, maxBytes: DefaultMaxBytes}
}

// Fetch implements Fetcher
func (f *GatewayFetcher) Fetch(ctx context.Context, ref Ref) ([]byte, error) {
	target := ref.GatewayURL(f.gateway)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", target, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway returned %d for %s", resp.StatusCode, target)
	}

	return readLimited(resp.Body, f.maxBytes)
}

// ShellFetcher reads content addresses through an IPFS node API. Plain
// URLs go to the fallback fetcher.
type ShellFetcher struct {
	shell    *shell.Shell
	fallback Fetcher
	maxBytes int64
}

// NewShellFetcher creates a fetcher backed by the node at apiAddr
// (e.g. localhost:5001)
func NewShellFetcher(apiAddr string, fallback Fetcher) *ShellFetcher {
	return &ShellFetcher{shell: shell.NewShell(apiAddr), fallback: fallback, maxBytes: DefaultMaxBytes}
}

// Fetch implements Fetcher
func (f *ShellFetcher) Fetch(ctx context.Context, ref Ref) ([]byte, error) {
	if !ref.IsContent() {
		if f.fallback == nil {
			return nil, fmt.Errorf("no fetcher for non-content url %s", ref.URL)
		}
		return f.fallback.Fetch(ctx, ref)
	}

	resp, err := f.shell.Request("cat", ref.IPFSPath()).Send(ctx)
	if err != nil {
		return nil, fmt.Errorf("ipfs cat %s: %w", ref.IPFSPath(), err)
	}
	defer resp.Close()
	if resp.Error != nil {
		return nil, fmt.Errorf("ipfs cat %s: %w", ref.IPFSPath(), resp.Error)
	}

	return readLimited(resp.Output, f.maxBytes)
}

func readLimited(r io.Reader, max int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	if int64(len(data)) > max {
		return nil, fmt.Errorf("document exceeds %d bytes", max)
	}
	return data, nil
}

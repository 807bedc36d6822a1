package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// HubFile is one entry in a model revision's remote file manifest (spec
// §4.5 step 3).
type HubFile struct {
	Path string
	Size int64
}

// HubClient is the contract boundary with the remote model hub SDK (spec
// §1: "only their contracts with the core are specified" -- the original
// depends on the modelscope hub client; this repo depends only on the
// shape it needs from it).
type HubClient interface {
	// ListFiles returns the manifest of non-tree files for repoID's
	// default revision, used to compute (total_bytes, total_files) before
	// the real transfer starts (spec §4.5 step 3). A failure here is
	// non-fatal to the caller.
	ListFiles(ctx context.Context, repoID string) ([]HubFile, error)

	// DownloadFile fetches one file into destDir, reporting byte deltas
	// through onProgress as they arrive.
	DownloadFile(ctx context.Context, repoID string, file HubFile, destDir string, onProgress func(delta int64)) error
}

// httpHubClient is a generic HTTP-based HubClient implementation. It
// downloads each file with a plain GET against baseURL. It has no
// file-listing support: ListFiles queries nothing and always returns an
// error, so a download through this client runs with an empty manifest.
type httpHubClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPHubClient constructs a HubClient against a hub reachable at
// baseURL (e.g. "https://hub.example.com/api/models").
func NewHTTPHubClient(baseURL string, client *http.Client) HubClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &httpHubClient{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (h *httpHubClient) ListFiles(ctx context.Context, repoID string) ([]HubFile, error) {
	return nil, fmt.Errorf("hub manifest listing not available for %q: out of scope without a concrete hub endpoint", repoID)
}

func (h *httpHubClient) DownloadFile(ctx context.Context, repoID string, file HubFile, destDir string, onProgress func(delta int64)) error {
	url := fmt.Sprintf("%s/%s/resolve/main/%s", h.baseURL, repoID, file.Path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: unexpected status %s", file.Path, resp.Status)
	}

	destPath := filepath.Join(destDir, filepath.FromSlash(file.Path))
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}
	out, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer out.Close()

	buf := make([]byte, 64*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := out.Write(buf[:n]); writeErr != nil {
				return writeErr
			}
			if onProgress != nil {
				onProgress(int64(n))
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}

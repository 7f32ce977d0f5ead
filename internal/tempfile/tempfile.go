// Package tempfile implements scoped on-disk buffers under three
// well-known roots, plus a streaming download helper that verifies the
// response is image/png. Handles are released on every exit path of
// their owner, including error paths.
package tempfile

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/mineskin-ng/skingen/internal/errs"
)

// Root names one of the three well-known directories the manager serves.
type Root string

const (
	RootURLDownloads  Root = "url"
	RootUploads       Root = "upload"
	RootUpstreamFetch Root = "upstream"
)

// Manager creates and reaps scoped temp files under the configured roots.
type Manager struct {
	dirs   map[Root]string
	client *http.Client
}

// NewManager ensures the three root directories exist and returns a Manager
// bound to them. client is used by DownloadTo; it should carry the
// engine-wide outbound timeout.
func NewManager(client *http.Client, urlDir, uploadDir, upstreamDir string) (*Manager, error) {
	dirs := map[Root]string{
		RootURLDownloads:  urlDir,
		RootUploads:       uploadDir,
		RootUpstreamFetch: upstreamDir,
	}

	var g errgroup.Group
	for _, d := range dirs {
		d := d
		g.Go(func() error {
			if err := os.MkdirAll(d, 0o755); err != nil {
				return fmt.Errorf("tempfile: create root %q: %w", d, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &Manager{dirs: dirs, client: client}, nil
}

// Handle is a single scoped temp file. Release is idempotent and safe to
// call from every exit path of a caller, including error paths.
type Handle struct {
	path string

	mu       sync.Mutex
	released bool
}

// Path returns the handle's on-disk path.
func (h *Handle) Path() string { return h.path }

// Release removes the underlying file. Calling Release more than once,
// or on a handle whose file is already gone, is a no-op.
func (h *Handle) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return nil
	}
	h.released = true
	if err := os.Remove(h.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("tempfile: release %q: %w", h.path, err)
	}
	return nil
}

// Acquire allocates a new scoped handle under the given root.
func (m *Manager) Acquire(root Root) (*Handle, error) {
	dir, ok := m.dirs[root]
	if !ok {
		return nil, fmt.Errorf("tempfile: unknown root %q", root)
	}
	name, err := randomName()
	if err != nil {
		return nil, err
	}
	return &Handle{path: filepath.Join(dir, name)}, nil
}

// DownloadTo streams the response body of a GET to url into h's file.
// MIME must be image/png once the stream completes; any other outcome
// (non-2xx, wrong content type, transport error) is INVALID_IMAGE_URL.
func (m *Manager) DownloadTo(ctx context.Context, h *Handle, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errs.New(errs.KindInvalidImageURL, err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return errs.New(errs.KindInvalidImageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errs.Newf(errs.KindInvalidImageURL, "download %s: status %d", url, resp.StatusCode)
	}

	f, err := os.Create(h.path)
	if err != nil {
		return fmt.Errorf("tempfile: create %q: %w", h.path, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		return errs.New(errs.KindInvalidImageURL, err)
	}

	ct := resp.Header.Get("Content-Type")
	if !isPNGContentType(ct) {
		return errs.Newf(errs.KindInvalidImageURL, "download %s: content-type %q, want image/png", url, ct)
	}
	return nil
}

func isPNGContentType(ct string) bool {
	for i := 0; i < len(ct); i++ {
		if ct[i] == ';' {
			ct = ct[:i]
			break
		}
	}
	return ct == "image/png"
}

func randomName() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf[:]) + ".png", nil
}

package generation

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/mineskin-ng/skingen/internal/errs"
)

const maxRedirects = 5

// resolveDownloadURL validates the allowlist/redirect/content-type
// constraints by walking redirects itself (HEAD-following), never handing
// control to net/http's automatic redirect follower so every hop's host
// can be checked against the allowlist.
func (e *Engine) resolveDownloadURL(ctx context.Context, rawURL string) (string, error) {
	current := rawURL

	for hop := 0; hop <= maxRedirects; hop++ {
		u, err := url.Parse(current)
		if err != nil {
			return "", errs.New(errs.KindInvalidImageURL, err)
		}
		if !hostAllowed(u.Hostname(), e.cfg.FollowAllowlist) {
			return "", errs.Newf(errs.KindInvalidImageURL, "host %q is not in the follow allowlist", u.Hostname())
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodHead, current, nil)
		if err != nil {
			return "", errs.New(errs.KindInvalidImageURL, err)
		}

		resp, err := e.noRedirectClient.Do(req)
		if err != nil {
			return "", errs.New(errs.KindInvalidImageURL, err)
		}
		resp.Body.Close()

		if resp.StatusCode >= 300 && resp.StatusCode < 400 {
			loc := resp.Header.Get("Location")
			if loc == "" {
				return "", errs.Newf(errs.KindInvalidImageURL, "redirect from %s carries no Location", current)
			}
			next, err := u.Parse(loc)
			if err != nil {
				return "", errs.New(errs.KindInvalidImageURL, err)
			}
			current = next.String()
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return "", errs.Newf(errs.KindInvalidImageURL, "HEAD %s: status %d", current, resp.StatusCode)
		}

		ct := resp.Header.Get("Content-Type")
		if !strings.HasPrefix(ct, "image/png") {
			return "", errs.Newf(errs.KindInvalidImageURL, "HEAD %s: content-type %q, want image/png", current, ct)
		}
		// A declared Content-Length outside the image bounds fails fast,
		// before any bytes are downloaded. Servers that omit the header
		// are caught by the validator's byte-length guard after download.
		if cl := resp.ContentLength; cl >= 0 && (cl < 100 || cl > 20_000) {
			return "", errs.Newf(errs.KindInvalidImage, "HEAD %s: content-length %d out of range [100,20000]", current, cl)
		}
		return current, nil
	}

	return "", errs.Newf(errs.KindInvalidImageURL, "too many redirects resolving %s", rawURL)
}

func hostAllowed(host string, allowlist []string) bool {
	host = strings.ToLower(host)
	for _, allowed := range allowlist {
		allowed = strings.ToLower(allowed)
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}

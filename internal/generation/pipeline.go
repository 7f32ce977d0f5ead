package generation

import (
	"context"
	"os"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/mineskin-ng/skingen/internal/errs"
	"github.com/mineskin-ng/skingen/internal/model"
	"github.com/mineskin-ng/skingen/internal/phash"
	"github.com/mineskin-ng/skingen/internal/tempfile"
)

// runUpstreamAndPersist drives the back half of a generation: acquire an account,
// authenticate it, change its active skin, re-read the resulting signed
// texture, allocate an id, and persist the new catalog entry.
func (e *Engine) runUpstreamAndPersist(ctx context.Context, p *pending) (*model.Skin, error) {
	leased, err := e.scheduler.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	account := leased.Account
	account.RequestIP = p.reqCtx.OriginIP

	if err := e.authEng.EnsureAuthenticated(ctx, account); err != nil {
		e.release(ctx, account, err)
		return nil, err
	}

	if err := e.changeSkin(ctx, account, p); err != nil {
		e.release(ctx, account, err)
		return nil, err
	}

	skin, err := e.fetchAndAssemble(ctx, account, p)
	if err != nil {
		e.release(ctx, account, err)
		return nil, err
	}

	persisted, err := e.store.Insert(ctx, skin)
	if err != nil {
		e.release(ctx, account, err)
		return nil, err
	}

	if err := e.scheduler.ReleaseSuccess(ctx, account); err != nil {
		e.logger.Warn("release-success failed", zap.Error(err))
	}
	return persisted, nil
}

func (e *Engine) changeSkin(ctx context.Context, account *model.Account, p *pending) error {
	if p.kind == model.InputUpload {
		return e.upstream.changeSkinByFile(ctx, account, p.opts.Variant, p.local.Path())
	}
	return e.upstream.changeSkinByURL(ctx, account, p.opts.Variant, p.textureURL)
}

// fetchAndAssemble re-reads the profile, downloads the resulting signed
// skin image, hashes it, allocates an id, and assembles the catalog
// record. It does not persist; the caller does that so it can still
// release the account on an Insert failure.
func (e *Engine) fetchAndAssemble(ctx context.Context, account *model.Account, p *pending) (*model.Skin, error) {
	tex, err := e.upstream.fetchTexture(ctx, account)
	if err != nil {
		return nil, err
	}

	handle, err := e.temp.Acquire(tempfile.RootUpstreamFetch)
	if err != nil {
		return nil, err
	}
	defer handle.Release()

	if err := e.temp.DownloadTo(ctx, handle, tex.SkinURL); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(handle.Path())
	if err != nil {
		return nil, errs.New(errs.KindInvalidSkinData, err)
	}
	mojangHash, err := phash.Hash(raw)
	if err != nil {
		return nil, errs.New(errs.KindInvalidSkinData, err)
	}

	id, err := e.ids.NewID(ctx, e.store.Exists)
	if err != nil {
		return nil, err
	}

	// fromUser never stages a local image, so the upstream texture's hash
	// stands in for the input hash there.
	inputHash := p.phash
	if inputHash == "" {
		inputHash = mojangHash
	}

	return &model.Skin{
		ID:                 id,
		Phash:              inputHash,
		UUID:               p.userUUID,
		Name:               p.opts.Name,
		Variant:            p.opts.Variant,
		Visibility:         p.opts.Visibility,
		Value:              tex.Value,
		Signature:          tex.Signature,
		TextureURL:         tex.SkinURL,
		TextureHash:        texturePathHash(tex.SkinURL),
		MojangHash:         mojangHash,
		Timestamp:          e.now(),
		GenerateDurationMs: e.now().Sub(p.start).Milliseconds(),
		AccountID:          account.ID,
		Via:                p.reqCtx.Via,
		UserAgent:          p.reqCtx.UserAgent,
		Source:             string(p.kind),
	}, nil
}

// canonicalTexturePattern matches the canonical upstream texture URL form,
// …/texture/[0-9a-z]+; its capture is the persisted textureHash.
var canonicalTexturePattern = regexp.MustCompile(`/texture/([0-9a-z]+)$`)

// texturePathHash extracts the last path segment of a canonical texture
// URL, or "" when the URL does not match the canonical pattern.
func texturePathHash(u string) string {
	if m := canonicalTexturePattern.FindStringSubmatch(u); m != nil {
		return m[1]
	}
	return ""
}

// release reports an upstream/persist failure to the scheduler so the
// account's error counters and cooldowns move; an AUTH-flavored error
// parks the account, anything else is a plain failure.
//
// It runs on a context detached from the caller's: a canceled request
// must still release its account lock rather than leak it.
func (e *Engine) release(ctx context.Context, account *model.Account, cause error) {
	kind, _ := errs.Of(cause)
	if kind == "" {
		kind = errs.KindSkinChangeFailed
	}
	releaseCtx, cancel := context.WithTimeout(detach(ctx), 5*time.Second)
	defer cancel()
	if err := e.scheduler.ReleaseFailure(releaseCtx, account, kind); err != nil {
		e.logger.Warn("release-failure failed", zap.Error(err))
	}
}

// detach strips ctx's cancellation/deadline while preserving its values,
// so cleanup work can still run after the inbound request is canceled.
func detach(ctx context.Context) context.Context {
	return detachedContext{ctx}
}

type detachedContext struct{ parent context.Context }

func (detachedContext) Deadline() (time.Time, bool) { return time.Time{}, false }
func (detachedContext) Done() <-chan struct{}       { return nil }
func (detachedContext) Err() error                  { return nil }
func (d detachedContext) Value(key any) any         { return d.parent.Value(key) }

// Package generation implements the three generation entry points
// (FromURL, FromUpload, FromUser) as one shared pipeline wiring
// together the catalog, duplicate detector, account
// scheduler, authentication engine, image validator, perceptual hasher,
// id allocator, and scoped temp files.
package generation

import (
	"context"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/mineskin-ng/skingen/internal/auth"
	"github.com/mineskin-ng/skingen/internal/catalog"
	"github.com/mineskin-ng/skingen/internal/config"
	"github.com/mineskin-ng/skingen/internal/dedup"
	"github.com/mineskin-ng/skingen/internal/errs"
	"github.com/mineskin-ng/skingen/internal/idalloc"
	"github.com/mineskin-ng/skingen/internal/imagevalidate"
	"github.com/mineskin-ng/skingen/internal/model"
	"github.com/mineskin-ng/skingen/internal/phash"
	"github.com/mineskin-ng/skingen/internal/scheduler"
	"github.com/mineskin-ng/skingen/internal/tempfile"
)

// RequestContext carries the per-request metadata threaded through to the
// upstream calls and the persisted skin record.
type RequestContext struct {
	OriginIP  string
	Via       string
	UserAgent string
}

// Engine wires every collaborator of the orchestrator together and
// exposes the three entry points as methods.
type Engine struct {
	cfg       *config.Config
	store     catalog.Store
	detector  *dedup.Detector
	scheduler *scheduler.Scheduler
	authEng   *auth.Engine
	ids       *idalloc.Allocator
	temp      *tempfile.Manager
	upstream  *upstreamClient

	httpClient       *http.Client
	noRedirectClient *http.Client

	logger *zap.Logger
	now    func() time.Time
}

// New constructs an Engine. httpClient is the shared outbound client
// carrying the engine-wide request timeout.
func New(
	cfg *config.Config,
	store catalog.Store,
	detector *dedup.Detector,
	sched *scheduler.Scheduler,
	authEng *auth.Engine,
	ids *idalloc.Allocator,
	temp *tempfile.Manager,
	httpClient *http.Client,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	noRedirect := *httpClient
	noRedirect.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	return &Engine{
		cfg:              cfg,
		store:            store,
		detector:         detector,
		scheduler:        sched,
		authEng:          authEng,
		ids:              ids,
		temp:             temp,
		upstream:         newUpstreamClient(httpClient, cfg.UpstreamBaseURL),
		httpClient:       httpClient,
		noRedirectClient: &noRedirect,
		logger:           logger,
		now:              time.Now,
	}
}

// pending carries the per-request working state threaded from input
// acquisition through to persistence and cleanup.
type pending struct {
	kind       model.InputKind
	start      time.Time
	opts       model.GenerateOptions
	reqCtx     RequestContext
	filter     catalog.Filter
	userUUID   string // long form, only set for fromUser
	textureURL string // source URL the skin-change call will hand upstream
	local      *tempfile.Handle
	validated  *model.ValidatedImage
	phash      string
	hitResult  *dedup.Result
}

func newPending(kind model.InputKind, opts model.GenerateOptions, reqCtx RequestContext, now time.Time) *pending {
	return &pending{
		kind:   kind,
		start:  now,
		opts:   opts,
		reqCtx: reqCtx,
		filter: catalog.Filter{Name: opts.Name, Variant: opts.Variant, Visibility: opts.Visibility},
	}
}

// FromURL generates a skin from a remote image URL.
func (e *Engine) FromURL(ctx context.Context, rawURL string, opts model.GenerateOptions, reqCtx RequestContext) (*model.Skin, error) {
	p := newPending(model.InputURL, opts, reqCtx, e.now())
	defer e.cleanup(p)

	canonicalURL, err := e.resolveDownloadURL(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	p.textureURL = canonicalURL

	if hit, err := e.detector.ProbeURL(ctx, canonicalURL, p.filter); err != nil {
		return nil, err
	} else if hit != nil {
		e.logDuplicate(p, hit)
		return hit.Skin, nil
	}

	handle, err := e.temp.Acquire(tempfile.RootURLDownloads)
	if err != nil {
		return nil, err
	}
	p.local = handle
	if err := e.temp.DownloadTo(ctx, handle, canonicalURL); err != nil {
		return nil, err
	}

	if err := e.validateAndProbeHash(ctx, p); err != nil {
		return nil, err
	}
	if p.validated == nil {
		return p.hitResult.Skin, nil
	}

	return e.runUpstreamAndPersist(ctx, p)
}

// FromUpload generates a skin from raw uploaded image bytes.
func (e *Engine) FromUpload(ctx context.Context, data []byte, opts model.GenerateOptions, reqCtx RequestContext) (*model.Skin, error) {
	p := newPending(model.InputUpload, opts, reqCtx, e.now())
	defer e.cleanup(p)

	handle, err := e.temp.Acquire(tempfile.RootUploads)
	if err != nil {
		return nil, err
	}
	p.local = handle
	if err := os.WriteFile(handle.Path(), data, 0o644); err != nil {
		return nil, errs.New(errs.KindInvalidImage, err)
	}

	if err := e.validateAndProbeHash(ctx, p); err != nil {
		return nil, err
	}
	if p.validated == nil {
		return p.hitResult.Skin, nil
	}

	return e.runUpstreamAndPersist(ctx, p)
}

// FromUser generates a skin from another Minecraft account's currently
// active skin, referenced through the upstream session profile. The
// image itself is never downloaded here; the change call hands its
// texture URL straight to the upstream service.
func (e *Engine) FromUser(ctx context.Context, userUUID string, opts model.GenerateOptions, reqCtx RequestContext) (*model.Skin, error) {
	p := newPending(model.InputUser, opts, reqCtx, e.now())
	defer e.cleanup(p)

	long, err := longUUID(userUUID)
	if err != nil {
		return nil, err
	}
	p.userUUID = long

	if hit, err := e.detector.ProbeUUID(ctx, long, p.filter); err != nil {
		return nil, err
	} else if hit != nil {
		e.logDuplicate(p, hit)
		return hit.Skin, nil
	}

	src, err := e.upstream.fetchPublicSkin(ctx, shortUUID(long))
	if err != nil {
		return nil, err
	}
	p.textureURL = src.URL
	if p.opts.Variant == model.VariantUnknown {
		p.opts.Variant = src.Variant
		p.filter.Variant = src.Variant
	}

	return e.runUpstreamAndPersist(ctx, p)
}

// validateAndProbeHash validates the locally staged image, computes its
// perceptual hash, and probes for a hash duplicate. On a hit it returns
// nil with p.validated left nil, signaling the caller to return the
// duplicate without touching an account.
func (e *Engine) validateAndProbeHash(ctx context.Context, p *pending) error {
	raw, err := os.ReadFile(p.local.Path())
	if err != nil {
		return errs.New(errs.KindInvalidImage, err)
	}

	validated, err := imagevalidate.Validate(raw, imagevalidate.Options{Variant: p.opts.Variant})
	if err != nil {
		return err
	}
	p.validated = &validated
	if p.opts.Variant == model.VariantUnknown {
		p.opts.Variant = validated.Variant
		p.filter.Variant = validated.Variant
	}

	hash, err := phash.Hash(raw)
	if err != nil {
		return errs.New(errs.KindInvalidImage, err)
	}
	p.phash = hash

	hit, err := e.detector.ProbeHash(ctx, hash, p.filter)
	if err != nil {
		return err
	}
	if hit != nil {
		e.logDuplicate(p, hit)
		p.validated = nil
		p.hitResult = hit
		return nil
	}
	return nil
}

func (e *Engine) logDuplicate(p *pending, hit *dedup.Result) {
	e.logger.Debug("duplicate short-circuit",
		zap.String("inputKind", string(p.kind)),
		zap.String("source", string(hit.Source)),
		zap.Uint64("skinId", hit.Skin.ID))
}

func (e *Engine) cleanup(p *pending) {
	if p.local != nil {
		if err := p.local.Release(); err != nil {
			e.logger.Warn("temp file release failed", zap.Error(err))
		}
	}
	e.logger.Debug("generation finished",
		zap.String("inputKind", string(p.kind)),
		zap.Duration("duration", e.now().Sub(p.start)))
}

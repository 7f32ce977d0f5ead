// Package dedup implements the three-stage duplicate detection
// pipeline: source-URL, user-UUID, and perceptual-hash probes, each
// run at the earliest point its input becomes available. A hit bumps
// duplicateCount and skips the upstream call entirely.
package dedup

import (
	"context"
	"regexp"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/mineskin-ng/skingen/internal/catalog"
	"github.com/mineskin-ng/skingen/internal/model"
)

// textureURLPattern distinguishes canonical upstream texture URLs from
// internal catalog URLs when tagging a source-URL hit.
var textureURLPattern = regexp.MustCompile(`/texture/[0-9a-z]+$`)

// Result reports a duplicate hit, tagged with which probe found it.
type Result struct {
	Skin   *model.Skin
	Source model.DuplicateSource
}

// Detector runs the three probes against a catalog.SkinRepository.
type Detector struct {
	skins  catalog.SkinRepository
	logger *zap.Logger

	// group coalesces concurrent identical-key lookups into a single
	// catalog round trip; this trades a little duplicate-count accuracy
	// for materially
	// fewer reads under load from the same hot URL/uuid/hash.
	group singleflight.Group
}

// New constructs a Detector.
func New(skins catalog.SkinRepository, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{skins: skins, logger: logger}
}

// ProbeURL is the first probe stage: by source URL, URL input only,
// run before download.
func (d *Detector) ProbeURL(ctx context.Context, canonicalURL string, f catalog.Filter) (*Result, error) {
	source := model.SourceMineskinURL
	if textureURLPattern.MatchString(canonicalURL) {
		source = model.SourceTextureURL
	}
	return d.probe(ctx, "url:"+canonicalURL+filterKey(f), source, func() (*model.Skin, error) {
		return d.skins.FindByURLPattern(ctx, canonicalURL, f)
	})
}

// ProbeUUID is the second probe stage: by user UUID, user input only.
func (d *Detector) ProbeUUID(ctx context.Context, uuid string, f catalog.Filter) (*Result, error) {
	return d.probe(ctx, "uuid:"+uuid+filterKey(f), model.SourceUserUUID, func() (*model.Skin, error) {
		return d.skins.FindByUUID(ctx, uuid, f)
	})
}

// ProbeHash is the third probe stage: by perceptual hash, after validation.
func (d *Detector) ProbeHash(ctx context.Context, phash string, f catalog.Filter) (*Result, error) {
	return d.probe(ctx, "hash:"+phash+filterKey(f), model.SourceImageHash, func() (*model.Skin, error) {
		return d.skins.FindByHash(ctx, phash, f)
	})
}

func (d *Detector) probe(ctx context.Context, key string, source model.DuplicateSource, lookup func() (*model.Skin, error)) (*Result, error) {
	v, err, _ := d.group.Do(key, func() (any, error) {
		hit, err := lookup()
		if err != nil {
			return nil, err
		}
		if hit == nil {
			return (*model.Skin)(nil), nil
		}
		updated, err := d.skins.IncrementDuplicate(ctx, hit)
		if err != nil {
			return nil, err
		}
		return updated, nil
	})
	if err != nil {
		return nil, err
	}
	skin, _ := v.(*model.Skin)
	if skin == nil {
		return nil, nil
	}

	d.logger.Debug("duplicate hit", zap.String("source", string(source)), zap.Uint64("skinId", skin.ID))
	return &Result{Skin: skin, Source: source}, nil
}

func filterKey(f catalog.Filter) string {
	return "|" + f.Name + "|" + string(f.Variant) + "|" + string(f.Visibility)
}

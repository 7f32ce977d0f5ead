// Package catalog defines the read/update abstraction the generation
// engine consumes. Concrete storage is plug-replaceable; internal/catalog/postgres
// provides the document-store-equivalent relational implementation.
package catalog

import (
	"context"

	"github.com/mineskin-ng/skingen/internal/model"
)

// Filter is the (name, variant, visibility) identity tuple that is part
// of every duplicate lookup: two uploads of identical pixels
// under different names are not duplicates.
type Filter struct {
	Name       string
	Variant    model.Variant
	Visibility model.Visibility
}

// SkinRepository is the catalog's read/insert surface for skins.
type SkinRepository interface {
	// FindByURLPattern looks up by catalog id or by (textureUrl OR textureHash).
	FindByURLPattern(ctx context.Context, canonicalURL string, f Filter) (*model.Skin, error)
	// FindByUUID looks up by the owning account's long-form UUID.
	FindByUUID(ctx context.Context, uuid string, f Filter) (*model.Skin, error)
	// FindByHash looks up by perceptual hash.
	FindByHash(ctx context.Context, phash string, f Filter) (*model.Skin, error)
	// Insert persists a fully assembled new skin.
	Insert(ctx context.Context, s *model.Skin) (*model.Skin, error)
	// Exists reports whether id is already present (used by the id allocator).
	Exists(ctx context.Context, id uint64) (bool, error)
	// IncrementDuplicate bumps duplicateCount and returns the updated row.
	IncrementDuplicate(ctx context.Context, s *model.Skin) (*model.Skin, error)
}

// AccountRepository is the catalog's read/update surface for pool accounts.
type AccountRepository interface {
	// FindEligible runs the account eligibility predicate, ordered by
	// (lastUsedSec ASC, lastSelectedSec ASC, sameTextureCounter ASC),
	// excluding ids already in locked.
	FindEligible(ctx context.Context, selfServer string, locked map[uint64]struct{}) (*model.Account, error)
	// CountUsable reports how many accounts currently satisfy eligibility,
	// ignoring the locked set — feeds the scheduler's nextRequest hint.
	CountUsable(ctx context.Context, selfServer string) (int, error)
	// Update persists mutated token/counter/timestamp fields.
	Update(ctx context.Context, a *model.Account) (*model.Account, error)
}

// Store bundles both repositories; most callers depend on this rather
// than the two halves individually.
type Store interface {
	SkinRepository
	AccountRepository
}

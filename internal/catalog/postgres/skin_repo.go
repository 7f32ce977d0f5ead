package postgres

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mineskin-ng/skingen/internal/catalog"
	"github.com/mineskin-ng/skingen/internal/errs"
	"github.com/mineskin-ng/skingen/internal/model"
)

// catalogIDPattern matches the internal catalog URL form: …/[0-9]+
var catalogIDPattern = regexp.MustCompile(`/(\d+)$`)

// textureURLPattern matches the canonical upstream texture URL form:
// …/texture/[0-9a-z]+
var textureURLPattern = regexp.MustCompile(`/texture/([0-9a-z]+)$`)

// SkinRepo implements catalog.SkinRepository using PostgreSQL.
type SkinRepo struct{ db *DB }

// NewSkinRepo constructs a skin repository.
func NewSkinRepo(db *DB) *SkinRepo { return &SkinRepo{db: db} }

var _ catalog.SkinRepository = (*SkinRepo)(nil)

const selectSkinCols = `id, phash, uuid, name, variant, visibility, value, signature,
	texture_url, texture_hash, mojang_hash, created_at, generate_duration_ms, account_id,
	duplicate_count, view_count, via, user_agent, source`

// FindByURLPattern implements the source-URL probe: by catalog id
// when the URL looks like the internal catalog URL, else by
// textureUrl/textureHash when it looks like the canonical texture URL.
func (r *SkinRepo) FindByURLPattern(ctx context.Context, canonicalURL string, f catalog.Filter) (*model.Skin, error) {
	if m := catalogIDPattern.FindStringSubmatch(canonicalURL); m != nil {
		const q = `SELECT ` + selectSkinCols + ` FROM skins
			WHERE id=$1 AND name=$2 AND variant=$3 AND visibility=$4`
		return r.scanOne(ctx, q, m[1], f.Name, f.Variant, f.Visibility)
	}
	if m := textureURLPattern.FindStringSubmatch(canonicalURL); m != nil {
		const q = `SELECT ` + selectSkinCols + ` FROM skins
			WHERE (texture_url=$1 OR texture_hash=$2) AND name=$3 AND variant=$4 AND visibility=$5`
		return r.scanOne(ctx, q, canonicalURL, m[1], f.Name, f.Variant, f.Visibility)
	}
	return nil, nil
}

// FindByUUID implements the user-UUID probe.
func (r *SkinRepo) FindByUUID(ctx context.Context, uuid string, f catalog.Filter) (*model.Skin, error) {
	const q = `SELECT ` + selectSkinCols + ` FROM skins
		WHERE uuid=$1 AND name=$2 AND variant=$3 AND visibility=$4`
	return r.scanOne(ctx, q, uuid, f.Name, f.Variant, f.Visibility)
}

// FindByHash implements the perceptual-hash probe.
func (r *SkinRepo) FindByHash(ctx context.Context, phash string, f catalog.Filter) (*model.Skin, error) {
	const q = `SELECT ` + selectSkinCols + ` FROM skins
		WHERE phash=$1 AND name=$2 AND variant=$3 AND visibility=$4`
	return r.scanOne(ctx, q, phash, f.Name, f.Variant, f.Visibility)
}

// Insert persists a new skin. value/signature/textureUrl are immutable
// once written; only counters mutate after this point.
func (r *SkinRepo) Insert(ctx context.Context, s *model.Skin) (*model.Skin, error) {
	const q = `INSERT INTO skins (` + selectSkinCols + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`
	_, err := r.db.Pool.Exec(ctx, q,
		s.ID, s.Phash, s.UUID, s.Name, s.Variant, s.Visibility, s.Value, s.Signature,
		s.TextureURL, s.TextureHash, s.MojangHash, s.Timestamp, s.GenerateDurationMs, s.AccountID,
		s.DuplicateCount, s.ViewCount, s.Via, s.UserAgent, s.Source)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, errs.ErrAlreadyExists
		}
		return nil, err
	}
	return s, nil
}

// Exists reports whether id is already used — consulted by the id allocator.
func (r *SkinRepo) Exists(ctx context.Context, id uint64) (bool, error) {
	const q = `SELECT EXISTS(SELECT 1 FROM skins WHERE id=$1)`
	var ok bool
	if err := r.db.Pool.QueryRow(ctx, q, id).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

// IncrementDuplicate bumps duplicateCount and returns the updated row.
// Best-effort: concurrent increments may race and lose updates,
// but the catalog never drops the underlying record.
func (r *SkinRepo) IncrementDuplicate(ctx context.Context, s *model.Skin) (*model.Skin, error) {
	const q = `UPDATE skins SET duplicate_count = duplicate_count + 1
		WHERE id=$1 RETURNING duplicate_count`
	var count int64
	if err := r.db.Pool.QueryRow(ctx, q, s.ID).Scan(&count); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	out := *s
	out.DuplicateCount = count
	return &out, nil
}

func (r *SkinRepo) scanOne(ctx context.Context, q string, args ...any) (*model.Skin, error) {
	row := r.db.Pool.QueryRow(ctx, q, args...)
	var s model.Skin
	var ts time.Time
	err := row.Scan(&s.ID, &s.Phash, &s.UUID, &s.Name, &s.Variant, &s.Visibility, &s.Value, &s.Signature,
		&s.TextureURL, &s.TextureHash, &s.MojangHash, &ts, &s.GenerateDurationMs, &s.AccountID,
		&s.DuplicateCount, &s.ViewCount, &s.Via, &s.UserAgent, &s.Source)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	s.Timestamp = ts
	return &s, nil
}

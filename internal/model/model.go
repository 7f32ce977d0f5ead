// Package model defines domain entities used by the generation engine
// and the catalog repositories that persist them.
package model

import "time"

// Variant is the skin model geometry.
type Variant string

const (
	VariantClassic Variant = "classic"
	VariantSlim    Variant = "slim"
	VariantUnknown Variant = "unknown"
)

// Visibility controls catalog listing of a skin.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// DuplicateSource tags which probe produced a duplicate hit, for observability.
type DuplicateSource string

const (
	SourceMineskinURL DuplicateSource = "mineskin_url"
	SourceTextureURL  DuplicateSource = "texture_url"
	SourceUserUUID    DuplicateSource = "user_uuid"
	SourceImageHash   DuplicateSource = "image_hash"
)

// Skin is a persisted catalog entry.
type Skin struct {
	ID         uint64
	Phash      string
	UUID       string // opaque owning-account UUID at creation time
	Name       string
	Variant    Variant
	Visibility Visibility

	Value     []byte // opaque blob from the upstream profile service
	Signature []byte

	TextureURL  string
	TextureHash string // last path segment of TextureURL when it matches the canonical texture URL pattern
	MojangHash  string // perceptual hash of the image fetched from TextureURL, an independent integrity fingerprint

	Timestamp          time.Time
	GenerateDurationMs int64

	AccountID uint64

	DuplicateCount int64
	ViewCount      int64

	Via       string
	UserAgent string
	Source    string
}

// Account is a pool member credential.
type Account struct {
	ID                      uint64
	Username                string
	EncryptedPassword       []byte
	EncryptedSecurityAnswer []byte

	ClientToken string // stable per account, generated once
	AccessToken string // mutable

	LastUsedSec        int64
	LastSelectedSec    int64
	ForcedTimeoutAtSec int64

	ErrorCounter   int
	SuccessCounter int

	TotalErrorCounter   int64
	TotalSuccessCounter int64

	Enabled       bool
	RequestServer string // optional binding to a serving node; "" or "default" means unbound
	TimeAddedSec  int64

	// SameTextureCounter is the scheduler's third ORDER BY tiebreaker,
	// tracked purely to spread repeated load away from an account that
	// just produced the same texture.
	SameTextureCounter int64

	// RequestIP is the origin IP forwarded as X-Forwarded-For on upstream calls.
	// It is request-scoped, not persisted, and set by the orchestrator on the
	// account it has just leased from the scheduler.
	RequestIP string `db:"-"`
}

// InputKind identifies which of the three orchestrator entry points produced a request.
type InputKind string

const (
	InputURL    InputKind = "url"
	InputUpload InputKind = "upload"
	InputUser   InputKind = "user"
)

// GenerateOptions carries the user-provided metadata for a generation request.
type GenerateOptions struct {
	Name       string
	Variant    Variant
	Visibility Visibility
}

// ValidatedImage is the result of running the image validator on a raw buffer.
type ValidatedImage struct {
	Bytes   []byte
	MIME    string
	Width   int
	Height  int
	Variant Variant
}

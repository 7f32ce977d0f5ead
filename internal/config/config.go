// Package config loads the process-wide tunables for the generation
// engine, layering environment variables over built-in defaults.
package config

import (
	"os"
	"strconv"
	"time"
)

// OptimusParams are the three parameters of the bijective ID encoder.
// They must be treated as a stable catalog schema: changing them breaks the
// injection into the existing id space.
type OptimusParams struct {
	Prime   uint64
	Inverse uint64
	Random  uint64
}

// Config collects every engine tunable.
type Config struct {
	ErrorThreshold   int
	MinAccountDelay  time.Duration
	Optimus          OptimusParams
	SecretPassphrase string
	SecretSalt       []byte
	FollowAllowlist  []string

	UpstreamBaseURL string
	HTTPTimeout     time.Duration

	TempDirURLDownloads  string
	TempDirUploads       string
	TempDirUpstreamFetch string

	LimiterWindow   time.Duration
	LimiterMaxFails int
	LimiterBlockFor time.Duration
}

// Default values applied when the environment leaves a tunable unset.
const (
	DefaultErrorThreshold  = 10
	DefaultMinAccountDelay = 2 * time.Second
	DefaultHTTPTimeout     = 30 * time.Second

	DefaultLimiterWindow   = 15 * time.Minute
	DefaultLimiterMaxFails = 5
	DefaultLimiterBlockFor = 15 * time.Minute
)

var defaultAllowlist = []string{"novask.in", "imgur.com"}

// FromEnv builds a Config from environment variables, falling back to
// the defaults above for anything unset. Callers embedding this engine
// in an HTTP layer may instead construct Config directly from flags.
func FromEnv() *Config {
	return &Config{
		ErrorThreshold:   parseInt(os.Getenv("ERROR_THRESHOLD"), DefaultErrorThreshold),
		MinAccountDelay:  parseSeconds(os.Getenv("MIN_ACCOUNT_DELAY"), DefaultMinAccountDelay),
		Optimus:          parseOptimus(),
		SecretPassphrase: os.Getenv("SECRET_PASSPHRASE"),
		SecretSalt:       []byte(envOr("SECRET_SALT", "skingen-static-salt")),
		FollowAllowlist:  parseAllowlist(os.Getenv("FOLLOW_ALLOWLIST")),

		UpstreamBaseURL: envOr("UPSTREAM_BASE_URL", "https://api.mineskin.org"),
		HTTPTimeout:     parseSeconds(os.Getenv("HTTP_TIMEOUT_SECONDS"), DefaultHTTPTimeout),

		TempDirURLDownloads:  envOr("TEMP_DIR_URL", "tmp/url"),
		TempDirUploads:       envOr("TEMP_DIR_UPLOAD", "tmp/upload"),
		TempDirUpstreamFetch: envOr("TEMP_DIR_UPSTREAM", "tmp/upstream"),

		LimiterWindow:   parseSeconds(os.Getenv("LIMITER_WINDOW_SECONDS"), DefaultLimiterWindow),
		LimiterMaxFails: parseInt(os.Getenv("LIMITER_MAX_FAILS"), DefaultLimiterMaxFails),
		LimiterBlockFor: parseSeconds(os.Getenv("LIMITER_BLOCK_SECONDS"), DefaultLimiterBlockFor),
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func parseSeconds(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return time.Duration(n * float64(time.Second))
}

func parseOptimus() OptimusParams {
	return OptimusParams{
		Prime:   parseUint64(os.Getenv("OPTIMUS_PRIME"), 2147483647), // Mersenne prime 2^31-1
		Inverse: parseUint64(os.Getenv("OPTIMUS_INVERSE"), 2127912214),
		Random:  parseUint64(os.Getenv("OPTIMUS_RANDOM"), 1572461279),
	}
}

func parseUint64(s string, def uint64) uint64 {
	if s == "" {
		return def
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func parseAllowlist(s string) []string {
	if s == "" {
		return defaultAllowlist
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	if len(out) == 0 {
		return defaultAllowlist
	}
	return out
}

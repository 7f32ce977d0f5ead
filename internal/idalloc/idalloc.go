// Package idalloc implements the bijective public-id allocator: draw a
// uniform 32-bit random, run it through a fixed Optimus-style encoder,
// and retry on catalog collision up to MaxTries times.
//
// The encoder parameters are a stable catalog schema: changing
// them breaks the injection into the existing id space, so they are
// threaded in from config rather than hardcoded.
package idalloc

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/mineskin-ng/skingen/internal/config"
	"github.com/mineskin-ng/skingen/internal/errs"
)

// MaxTries bounds how many fresh ids are drawn before giving up.
const MaxTries = 10

// ExistsFunc reports whether id is already present in the catalog.
type ExistsFunc func(ctx context.Context, id uint64) (bool, error)

// Allocator draws fresh public ids via the bijective encoder.
type Allocator struct {
	params config.OptimusParams
}

// New constructs an Allocator bound to the given Optimus parameters.
func New(params config.OptimusParams) *Allocator {
	return &Allocator{params: params}
}

// Encode applies the fixed bijection: (prime * n) XOR salt mod 2^31.
// This must match historical deployments bit-for-bit.
func (a *Allocator) Encode(n uint32) uint64 {
	const mod = uint64(1) << 31
	v := (a.params.Prime * uint64(n)) % mod
	v ^= a.params.Random & (mod - 1)
	return v
}

// NewID draws a uniform 32-bit random, encodes it, and retries on
// collision (per exists) up to MaxTries times. Exhausting all tries
// raises errs.KindFailedToCreateID — callers must treat this as a
// signal to alarm, not as a normal response.
func (a *Allocator) NewID(ctx context.Context, exists ExistsFunc) (uint64, error) {
	var id uint64
	attempts := 0

	b := retry.WithMaxRetries(MaxTries-1, retry.NewConstant(1*time.Millisecond))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempts++
		n, rerr := randomUint32()
		if rerr != nil {
			return rerr
		}
		candidate := a.Encode(n)

		taken, eerr := exists(ctx, candidate)
		if eerr != nil {
			return eerr
		}
		if taken {
			return retry.RetryableError(errs.New(errs.KindFailedToCreateID, nil))
		}
		id = candidate
		return nil
	})

	if err != nil {
		if ee, ok := errs.Of(err); ok && ee == errs.KindFailedToCreateID {
			return 0, errs.Newf(errs.KindFailedToCreateID, "id space exhausted after %d tries", attempts)
		}
		return 0, err
	}
	return id, nil
}

func randomUint32() (uint32, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

// Package scheduler implements the account pool scheduler:
// a single acquire/release cycle over a shared pool of upstream credentials,
// fair-ordered and mutually exclusive within this process.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/mineskin-ng/skingen/internal/catalog"
	"github.com/mineskin-ng/skingen/internal/errs"
	"github.com/mineskin-ng/skingen/internal/model"
)

// LeasedAccount is the result of a successful Acquire: the selected account
// plus the caller's cooldown hint before issuing its next request.
type LeasedAccount struct {
	Account     *model.Account
	NextRequest time.Duration
}

// Scheduler selects and leases pool accounts, serializing access to any
// single account across concurrent requests on this process.
type Scheduler struct {
	accounts        catalog.AccountRepository
	minAccountDelay time.Duration
	selfServer      string
	now             func() time.Time

	// mu guards locked, the process-wide exclusive selection set.
	// An id enters on Acquire and leaves on either Release call.
	mu     sync.Mutex
	locked map[uint64]struct{}
}

// New constructs a Scheduler bound to selfServer (its request-server id:
// accounts bound to this node are eligible alongside unbound ones, accounts
// bound to another node are not).
func New(accounts catalog.AccountRepository, minAccountDelay time.Duration, selfServer string) *Scheduler {
	return &Scheduler{
		accounts:        accounts,
		minAccountDelay: minAccountDelay,
		selfServer:      selfServer,
		now:             time.Now,
		locked:          make(map[uint64]struct{}),
	}
}

// Acquire selects the next eligible account, marks it exclusively held,
// and stamps lastSelectedSec. Returns errs.KindNoAccountAvailable when the
// eligibility query is empty.
func (s *Scheduler) Acquire(ctx context.Context) (*LeasedAccount, error) {
	s.mu.Lock()
	snapshot := make(map[uint64]struct{}, len(s.locked))
	for id := range s.locked {
		snapshot[id] = struct{}{}
	}
	acct, err := s.accounts.FindEligible(ctx, s.selfServer, snapshot)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if acct == nil {
		s.mu.Unlock()
		e := errs.New(errs.KindNoAccountAvailable, nil)
		e.NextRequest = s.delayHint(ctx)
		return nil, e
	}
	s.locked[acct.ID] = struct{}{}
	s.mu.Unlock()

	acct.LastSelectedSec = s.now().Unix()
	updated, err := s.accounts.Update(ctx, acct)
	if err != nil {
		s.unlock(acct.ID)
		return nil, err
	}

	return &LeasedAccount{
		Account:     updated,
		NextRequest: s.delayHint(ctx),
	}, nil
}

// delayHint computes the global per-request cooldown:
// minAccountDelay / max(1, usable account count).
func (s *Scheduler) delayHint(ctx context.Context) time.Duration {
	count, err := s.accounts.CountUsable(ctx, s.selfServer)
	if err != nil || count < 1 {
		count = 1
	}
	return s.minAccountDelay / time.Duration(count)
}

// ReleaseSuccess records a successful use of the leased account and frees
// it for the next Acquire.
func (s *Scheduler) ReleaseSuccess(ctx context.Context, a *model.Account) error {
	defer s.unlock(a.ID)

	a.LastUsedSec = s.now().Unix()
	a.SuccessCounter++
	a.TotalSuccessCounter++
	a.ErrorCounter = 0

	_, err := s.accounts.Update(ctx, a)
	return err
}

// ReleaseFailure records a failed use of the leased account and frees it.
// An AUTH failure additionally parks the account: forcedTimeoutAtSec is set
// to now and its request-server binding is cleared.
func (s *Scheduler) ReleaseFailure(ctx context.Context, a *model.Account, kind errs.Kind) error {
	defer s.unlock(a.ID)

	a.SuccessCounter = 0
	a.ErrorCounter++
	a.TotalErrorCounter++
	if kind == errs.KindAuth {
		a.ForcedTimeoutAtSec = s.now().Unix()
		a.RequestServer = ""
	}

	_, err := s.accounts.Update(ctx, a)
	return err
}

func (s *Scheduler) unlock(id uint64) {
	s.mu.Lock()
	delete(s.locked, id)
	s.mu.Unlock()
}

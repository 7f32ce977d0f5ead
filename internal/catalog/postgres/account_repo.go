package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mineskin-ng/skingen/internal/catalog"
	"github.com/mineskin-ng/skingen/internal/model"
)

// AccountRepo implements catalog.AccountRepository using PostgreSQL.
type AccountRepo struct {
	db *DB
	// ErrorThreshold is the eligibility bound on errorCounter.
	ErrorThreshold int
	// Now returns the clock used to evaluate the eligibility windows;
	// overridden in tests for determinism.
	Now func() time.Time
}

// NewAccountRepo constructs an account repository with the given error
// threshold.
func NewAccountRepo(db *DB, errorThreshold int) *AccountRepo {
	return &AccountRepo{db: db, ErrorThreshold: errorThreshold, Now: time.Now}
}

var _ catalog.AccountRepository = (*AccountRepo)(nil)

const selectAccountCols = `id, username, encrypted_password, encrypted_security_answer,
	client_token, access_token, last_used_sec, last_selected_sec, forced_timeout_at_sec,
	error_counter, success_counter, total_error_counter, total_success_counter,
	enabled, request_server, time_added_sec, same_texture_counter`

// eligibilityWhere encodes the account eligibility predicate. $1=error threshold,
// $2=now (epoch seconds), $3=self server id, $4=locked id array.
const eligibilityWhere = `
	enabled
	AND error_counter < $1
	AND time_added_sec < $2 - 60
	AND last_used_sec < $2 - 100
	AND last_selected_sec < $2 - 50
	AND forced_timeout_at_sec < $2 - 500
	AND (request_server = '' OR request_server = 'default' OR request_server = $3)
	AND NOT (id = ANY($4))`

// FindEligible runs the full eligibility predicate, ordered to spread load.
func (r *AccountRepo) FindEligible(ctx context.Context, selfServer string, locked map[uint64]struct{}) (*model.Account, error) {
	lockedIDs := make([]uint64, 0, len(locked))
	for id := range locked {
		lockedIDs = append(lockedIDs, id)
	}

	q := `SELECT ` + selectAccountCols + ` FROM accounts WHERE ` + eligibilityWhere + `
		ORDER BY last_used_sec ASC, last_selected_sec ASC, same_texture_counter ASC
		LIMIT 1`
	row := r.db.Pool.QueryRow(ctx, q, r.ErrorThreshold, r.Now().Unix(), selfServer, lockedIDs)
	return scanAccount(row)
}

// CountUsable reports how many accounts satisfy eligibility ignoring the
// in-memory locked set; feeds the scheduler's nextRequest delay hint.
func (r *AccountRepo) CountUsable(ctx context.Context, selfServer string) (int, error) {
	q := `SELECT COUNT(*) FROM accounts WHERE ` + eligibilityWhere
	var n int
	err := r.db.Pool.QueryRow(ctx, q, r.ErrorThreshold, r.Now().Unix(), selfServer, []uint64{}).Scan(&n)
	return n, err
}

// Update persists mutated token/counter/timestamp fields.
func (r *AccountRepo) Update(ctx context.Context, a *model.Account) (*model.Account, error) {
	const q = `UPDATE accounts SET
		client_token=$2, access_token=$3, last_used_sec=$4, last_selected_sec=$5, forced_timeout_at_sec=$6,
		error_counter=$7, success_counter=$8, total_error_counter=$9, total_success_counter=$10,
		enabled=$11, request_server=$12, same_texture_counter=$13
		WHERE id=$1`
	_, err := r.db.Pool.Exec(ctx, q,
		a.ID, a.ClientToken, a.AccessToken, a.LastUsedSec, a.LastSelectedSec, a.ForcedTimeoutAtSec,
		a.ErrorCounter, a.SuccessCounter, a.TotalErrorCounter, a.TotalSuccessCounter,
		a.Enabled, a.RequestServer, a.SameTextureCounter)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func scanAccount(row pgx.Row) (*model.Account, error) {
	var a model.Account
	err := row.Scan(&a.ID, &a.Username, &a.EncryptedPassword, &a.EncryptedSecurityAnswer,
		&a.ClientToken, &a.AccessToken, &a.LastUsedSec, &a.LastSelectedSec, &a.ForcedTimeoutAtSec,
		&a.ErrorCounter, &a.SuccessCounter, &a.TotalErrorCounter, &a.TotalSuccessCounter,
		&a.Enabled, &a.RequestServer, &a.TimeAddedSec, &a.SameTextureCounter)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

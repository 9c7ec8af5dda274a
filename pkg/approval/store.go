// Package approval manages human-in-the-loop approval grants: single-use,
// time-bound tokens bound to an exact (tenant_id, ir_hash) pair.
//
// The raw token is returned exactly once at creation; only its SHA-256 is
// ever stored. Consumption is an atomic check-and-set so a valid token can
// succeed at most once across any number of concurrent callers.
package approval

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Store.Get for an unknown approval id.
var ErrNotFound = errors.New("approval: not found")

// Record is the stored form of an approval grant. It never contains the
// raw token.
type Record struct {
	ApprovalID string     `json:"approval_id"`
	TenantID   string     `json:"tenant_id"`
	IRHash     string     `json:"ir_hash"`
	TokenHash  string     `json:"token_hash"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
}

// State is the derived lifecycle state of a record.
type State string

const (
	StatePending  State = "pending"
	StateConsumed State = "consumed"
	StateExpired  State = "expired"
)

// StateAt derives the record's state at the given instant. A consumed
// record stays consumed even after its expiry passes.
func (r *Record) StateAt(now time.Time) State {
	if r.ConsumedAt != nil {
		return StateConsumed
	}
	if now.After(r.ExpiresAt) {
		return StateExpired
	}
	return StatePending
}

// Outcome is the externally visible result of a consume attempt.
// "invalid" deliberately merges several internal causes so the response
// gives a token-guessing attacker nothing to enumerate.
type Outcome string

const (
	OutcomeConsumed Outcome = "consumed"
	OutcomeInvalid  Outcome = "invalid"
	OutcomeExpired  Outcome = "expired"
)

// Cause is the precise internal reason for a consume outcome. It goes to
// the audit trail for forensics and must never be returned to callers.
type Cause string

const (
	CauseOK              Cause = "ok"
	CauseNotFound        Cause = "not_found"
	CauseTokenMismatch   Cause = "token_mismatch"
	CauseAlreadyConsumed Cause = "already_consumed"
	CauseExpired         Cause = "expired"
)

// Store persists approval records. Implementations must make Consume a
// single atomic operation per record: a timeout can only ever observe
// "not applied" or "applied", never a torn state.
type Store interface {
	// Put stores a freshly created record.
	Put(ctx context.Context, rec *Record) error

	// Consume atomically marks the record matching (tenantID, irHash,
	// tokenHash) as consumed at now, provided it is unconsumed and
	// unexpired. It returns the outcome, the internal cause, and the
	// approval id when a matching record exists.
	Consume(ctx context.Context, tenantID, irHash, tokenHash string, now time.Time) (Outcome, Cause, string, error)

	// Get returns a record by approval id, or ErrNotFound.
	Get(ctx context.Context, approvalID string) (*Record, error)
}

package approval

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TTL bounds per the governance contract.
const (
	DefaultTTL = time.Hour
	MinTTL     = 60 * time.Second
	MaxTTL     = 24 * time.Hour
)

// ErrInvalidTTL is returned by Create for a TTL outside [MinTTL, MaxTTL].
var ErrInvalidTTL = errors.New("approval: ttl outside allowed range")

// Grant is the one-time creation response. Token is the only copy of the
// raw secret the system will ever emit; it is unrecoverable afterwards.
type Grant struct {
	ApprovalID string    `json:"approval_id"`
	Token      string    `json:"token"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// ConsumeResult is the typed outcome of a consume attempt. Cause carries
// the precise internal reason for the audit trail and is excluded from
// serialization.
type ConsumeResult struct {
	Status     Outcome `json:"status"`
	ApprovalID string  `json:"approval_id,omitempty"`
	Cause      Cause   `json:"-"`
}

// StatusInfo is the read-only view of a grant. It never includes the
// token or its hash.
type StatusInfo struct {
	ApprovalID string     `json:"approval_id"`
	TenantID   string     `json:"tenant_id"`
	IRHash     string     `json:"ir_hash"`
	State      State      `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
}

// Service implements the approval lifecycle over a pluggable Store.
type Service struct {
	store Store
	clock func() time.Time
}

// NewService creates a Service over the given store.
func NewService(store Store) *Service {
	return &Service{store: store, clock: time.Now}
}

// WithClock overrides the clock for deterministic testing.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// Create mints a new approval bound to (tenantID, irHash). The returned
// grant carries the raw token; only its SHA-256 is stored. A zero ttl
// selects DefaultTTL; anything outside [MinTTL, MaxTTL] is rejected.
func (s *Service) Create(ctx context.Context, tenantID, irHash string, ttl time.Duration) (*Grant, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, fmt.Errorf("approval: tenant_id must be non-empty")
	}
	if strings.TrimSpace(irHash) == "" {
		return nil, fmt.Errorf("approval: ir_hash must be non-empty")
	}
	if ttl == 0 {
		ttl = DefaultTTL
	}
	if ttl < MinTTL || ttl > MaxTTL {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTTL, ttl)
	}

	token, err := newToken()
	if err != nil {
		return nil, err
	}

	now := s.clock()
	rec := &Record{
		ApprovalID: uuid.New().String(),
		TenantID:   tenantID,
		IRHash:     irHash,
		TokenHash:  HashToken(token),
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}
	if err := s.store.Put(ctx, rec); err != nil {
		return nil, fmt.Errorf("approval: store grant: %w", err)
	}

	return &Grant{ApprovalID: rec.ApprovalID, Token: token, ExpiresAt: rec.ExpiresAt}, nil
}

// Consume attempts the single permitted consumption of a grant. The
// response merges all mismatch causes into "invalid"; the precise cause is
// available on the result for audit emission only.
func (s *Service) Consume(ctx context.Context, tenantID, irHash, token string) (ConsumeResult, error) {
	outcome, cause, approvalID, err := s.store.Consume(ctx, tenantID, irHash, HashToken(token), s.clock())
	if err != nil {
		return ConsumeResult{}, fmt.Errorf("approval: consume: %w", err)
	}
	res := ConsumeResult{Status: outcome, Cause: cause}
	if outcome == OutcomeConsumed {
		res.ApprovalID = approvalID
	}
	return res, nil
}

// Status returns grant metadata by approval id. It never mutates state and
// never exposes token material.
func (s *Service) Status(ctx context.Context, approvalID string) (*StatusInfo, error) {
	rec, err := s.store.Get(ctx, approvalID)
	if err != nil {
		return nil, err
	}
	return &StatusInfo{
		ApprovalID: rec.ApprovalID,
		TenantID:   rec.TenantID,
		IRHash:     rec.IRHash,
		State:      rec.StateAt(s.clock()),
		CreatedAt:  rec.CreatedAt,
		ExpiresAt:  rec.ExpiresAt,
		ConsumedAt: rec.ConsumedAt,
	}, nil
}

// newToken returns 256 bits of cryptographic randomness, hex encoded.
func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("approval: token entropy: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// HashToken returns the SHA-256 hex digest of a raw token. Stores hold
// only this value.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

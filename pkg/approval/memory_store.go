package approval

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the default in-process Store: a mutex-guarded map. It does
// not survive a restart; swap in the Postgres or Redis store for
// durability.
type MemoryStore struct {
	mu        sync.Mutex
	records   map[string]*Record           // approval id -> record
	byBinding map[string]map[string]string // tenant|ir_hash -> token hash -> approval id
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:   make(map[string]*Record),
		byBinding: make(map[string]map[string]string),
	}
}

func bindingKey(tenantID, irHash string) string {
	return tenantID + "\x00" + irHash
}

func (s *MemoryStore) Put(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *rec
	s.records[rec.ApprovalID] = &clone

	key := bindingKey(rec.TenantID, rec.IRHash)
	if s.byBinding[key] == nil {
		s.byBinding[key] = make(map[string]string)
	}
	s.byBinding[key][rec.TokenHash] = rec.ApprovalID
	return nil
}

func (s *MemoryStore) Consume(_ context.Context, tenantID, irHash, tokenHash string, now time.Time) (Outcome, Cause, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tokens, ok := s.byBinding[bindingKey(tenantID, irHash)]
	if !ok {
		return OutcomeInvalid, CauseNotFound, "", nil
	}
	id, ok := tokens[tokenHash]
	if !ok {
		return OutcomeInvalid, CauseTokenMismatch, "", nil
	}

	rec := s.records[id]
	if rec.ConsumedAt != nil {
		return OutcomeInvalid, CauseAlreadyConsumed, id, nil
	}
	if now.After(rec.ExpiresAt) {
		return OutcomeExpired, CauseExpired, id, nil
	}

	consumedAt := now
	rec.ConsumedAt = &consumedAt
	return OutcomeConsumed, CauseOK, id, nil
}

func (s *MemoryStore) Get(_ context.Context, approvalID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[approvalID]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *rec
	return &clone, nil
}

// PurgeExpired removes records whose expiry passed before the cutoff and
// that are not pending, so a long-lived daemon does not accumulate dead
// grants. Returns the number removed.
func (s *MemoryStore) PurgeExpired(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, rec := range s.records {
		if cutoff.After(rec.ExpiresAt) {
			delete(s.records, id)
			key := bindingKey(rec.TenantID, rec.IRHash)
			if tokens := s.byBinding[key]; tokens != nil {
				delete(tokens, rec.TokenHash)
				if len(tokens) == 0 {
					delete(s.byBinding, key)
				}
			}
			removed++
		}
	}
	return removed
}

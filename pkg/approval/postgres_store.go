package approval

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore implements Store on PostgreSQL. The consume check-and-set
// is a single conditional UPDATE, so concurrent consumers race on the
// database's row lock and at most one wins.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Init creates the approvals table if it does not exist.
func (s *PostgresStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS approvals (
			approval_id TEXT PRIMARY KEY,
			tenant_id   TEXT NOT NULL,
			ir_hash     TEXT NOT NULL,
			token_hash  TEXT NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL,
			expires_at  TIMESTAMPTZ NOT NULL,
			consumed_at TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS approvals_binding_idx
			ON approvals (tenant_id, ir_hash, token_hash);
	`)
	if err != nil {
		return fmt.Errorf("approval: init schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Put(ctx context.Context, rec *Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO approvals (approval_id, tenant_id, ir_hash, token_hash, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ApprovalID, rec.TenantID, rec.IRHash, rec.TokenHash, rec.CreatedAt, rec.ExpiresAt)
	if err != nil {
		return fmt.Errorf("approval: insert grant: %w", err)
	}
	return nil
}

func (s *PostgresStore) Consume(ctx context.Context, tenantID, irHash, tokenHash string, now time.Time) (Outcome, Cause, string, error) {
	// The happy path is one atomic conditional update.
	var approvalID string
	err := s.db.QueryRowContext(ctx,
		`UPDATE approvals SET consumed_at = $4
		 WHERE tenant_id = $1 AND ir_hash = $2 AND token_hash = $3
		   AND consumed_at IS NULL AND expires_at > $4
		 RETURNING approval_id`,
		tenantID, irHash, tokenHash, now).Scan(&approvalID)
	if err == nil {
		return OutcomeConsumed, CauseOK, approvalID, nil
	}
	if err != sql.ErrNoRows {
		return "", "", "", fmt.Errorf("approval: consume update: %w", err)
	}

	// CAS missed; classify for the audit trail. Read-only from here on.
	var consumedAt sql.NullTime
	var expiresAt time.Time
	err = s.db.QueryRowContext(ctx,
		`SELECT approval_id, consumed_at, expires_at FROM approvals
		 WHERE tenant_id = $1 AND ir_hash = $2 AND token_hash = $3`,
		tenantID, irHash, tokenHash).Scan(&approvalID, &consumedAt, &expiresAt)
	if err == sql.ErrNoRows {
		var bindingCount int
		err = s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM approvals WHERE tenant_id = $1 AND ir_hash = $2`,
			tenantID, irHash).Scan(&bindingCount)
		if err != nil {
			return "", "", "", fmt.Errorf("approval: classify miss: %w", err)
		}
		if bindingCount > 0 {
			return OutcomeInvalid, CauseTokenMismatch, "", nil
		}
		return OutcomeInvalid, CauseNotFound, "", nil
	}
	if err != nil {
		return "", "", "", fmt.Errorf("approval: classify miss: %w", err)
	}
	if consumedAt.Valid {
		return OutcomeInvalid, CauseAlreadyConsumed, approvalID, nil
	}
	if now.After(expiresAt) {
		return OutcomeExpired, CauseExpired, approvalID, nil
	}
	// Raced with a concurrent consumer that won between our UPDATE and
	// SELECT; report as already consumed.
	return OutcomeInvalid, CauseAlreadyConsumed, approvalID, nil
}

func (s *PostgresStore) Get(ctx context.Context, approvalID string) (*Record, error) {
	var rec Record
	var consumedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT approval_id, tenant_id, ir_hash, token_hash, created_at, expires_at, consumed_at
		 FROM approvals WHERE approval_id = $1`,
		approvalID).Scan(&rec.ApprovalID, &rec.TenantID, &rec.IRHash, &rec.TokenHash,
		&rec.CreatedAt, &rec.ExpiresAt, &consumedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("approval: get grant: %w", err)
	}
	if consumedAt.Valid {
		rec.ConsumedAt = &consumedAt.Time
	}
	return &rec, nil
}

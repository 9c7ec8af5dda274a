package approval

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// retention keeps resolved records readable for Status after expiry before
// Redis reclaims them.
const retention = 24 * time.Hour

// consumeScript performs the check-and-set atomically inside Redis.
// KEYS[1] = binding index key (tenant/ir_hash/token_hash -> approval id)
// ARGV[1] = current unix time (seconds)
// Returns {outcome, cause, approval_id}.
var consumeScript = redis.NewScript(`
local id = redis.call("GET", KEYS[1])
if not id then
    return {"invalid", "not_found", ""}
end
local rec = "approval:rec:" .. id
local consumed = redis.call("HGET", rec, "consumed_at")
if consumed and consumed ~= "" then
    return {"invalid", "already_consumed", id}
end
local expires = tonumber(redis.call("HGET", rec, "expires_at"))
local now = tonumber(ARGV[1])
if not expires then
    return {"invalid", "not_found", id}
end
if now > expires then
    return {"expired", "expired", id}
end
redis.call("HSET", rec, "consumed_at", ARGV[1])
return {"consumed", "ok", id}
`)

// RedisStore implements Store on Redis. All consume logic runs in a Lua
// script, which Redis executes atomically.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects a store to the given Redis instance.
func NewRedisStore(addr, password string, db int) *RedisStore {
	return &RedisStore{client: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

// Ping verifies connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func recKey(approvalID string) string { return "approval:rec:" + approvalID }

func idxKey(tenantID, irHash, tokenHash string) string {
	return "approval:idx:" + tenantID + ":" + irHash + ":" + tokenHash
}

func (s *RedisStore) Put(ctx context.Context, rec *Record) error {
	reclaimAt := rec.ExpiresAt.Add(retention)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, recKey(rec.ApprovalID), map[string]interface{}{
		"tenant_id":   rec.TenantID,
		"ir_hash":     rec.IRHash,
		"token_hash":  rec.TokenHash,
		"created_at":  rec.CreatedAt.Unix(),
		"expires_at":  rec.ExpiresAt.Unix(),
		"consumed_at": "",
	})
	pipe.Set(ctx, idxKey(rec.TenantID, rec.IRHash, rec.TokenHash), rec.ApprovalID, 0)
	pipe.ExpireAt(ctx, recKey(rec.ApprovalID), reclaimAt)
	pipe.ExpireAt(ctx, idxKey(rec.TenantID, rec.IRHash, rec.TokenHash), reclaimAt)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("approval: redis put: %w", err)
	}
	return nil
}

func (s *RedisStore) Consume(ctx context.Context, tenantID, irHash, tokenHash string, now time.Time) (Outcome, Cause, string, error) {
	raw, err := consumeScript.Run(ctx, s.client,
		[]string{idxKey(tenantID, irHash, tokenHash)},
		now.Unix()).Result()
	if err != nil {
		return "", "", "", fmt.Errorf("approval: redis consume: %w", err)
	}

	reply, ok := raw.([]interface{})
	if !ok || len(reply) != 3 {
		return "", "", "", fmt.Errorf("approval: redis consume: unexpected reply %v", raw)
	}
	outcome, _ := reply[0].(string)
	cause, _ := reply[1].(string)
	approvalID, _ := reply[2].(string)
	return Outcome(outcome), Cause(cause), approvalID, nil
}

func (s *RedisStore) Get(ctx context.Context, approvalID string) (*Record, error) {
	fields, err := s.client.HGetAll(ctx, recKey(approvalID)).Result()
	if err != nil {
		return nil, fmt.Errorf("approval: redis get: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	createdAt, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("approval: redis get: bad created_at: %w", err)
	}
	expiresAt, err := strconv.ParseInt(fields["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("approval: redis get: bad expires_at: %w", err)
	}

	rec := &Record{
		ApprovalID: approvalID,
		TenantID:   fields["tenant_id"],
		IRHash:     fields["ir_hash"],
		TokenHash:  fields["token_hash"],
		CreatedAt:  time.Unix(createdAt, 0).UTC(),
		ExpiresAt:  time.Unix(expiresAt, 0).UTC(),
	}
	if raw := fields["consumed_at"]; raw != "" {
		ts, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("approval: redis get: bad consumed_at: %w", err)
		}
		t := time.Unix(ts, 0).UTC()
		rec.ConsumedAt = &t
	}
	return rec, nil
}

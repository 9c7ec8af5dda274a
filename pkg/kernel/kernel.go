// Package kernel wires the governance pipeline: validate → approve →
// diff-audit → clear. Nothing executes until every gate passes, and every
// gate emits its audit event before the outcome is returned.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/satoshiflow/BRAiN-sub001/pkg/approval"
	"github.com/satoshiflow/BRAiN-sub001/pkg/audit"
	"github.com/satoshiflow/BRAiN-sub001/pkg/diffaudit"
	"github.com/satoshiflow/BRAiN-sub001/pkg/ir"
	"github.com/satoshiflow/BRAiN-sub001/pkg/policy"
)

// ErrExecutionBlocked is the sentinel wrapped by every blocking outcome.
// Callers are contractually required to treat it as final for the attempt;
// there is no proceed-with-warning path.
var ErrExecutionBlocked = errors.New("execution blocked")

// BlockedError explains why an execution attempt was refused.
type BlockedError struct {
	Reason     string
	Validation *policy.Result
	Diff       *diffaudit.Result
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("execution blocked: %s", e.Reason)
}

func (e *BlockedError) Unwrap() error { return ErrExecutionBlocked }

// Clearance is the proof that every gate passed for this exact IR.
type Clearance struct {
	IRHash     string           `json:"ir_hash"`
	RiskTier   int              `json:"risk_tier"`
	ApprovalID string           `json:"approval_id,omitempty"`
	Diff       diffaudit.Result `json:"diff"`
}

// Kernel composes the validator, the approval service, and the diff-audit
// gate over a shared audit recorder.
type Kernel struct {
	validator *policy.Validator
	approvals *approval.Service
	recorder  audit.Recorder
	log       *slog.Logger
}

// New assembles a Kernel. A nil logger falls back to slog.Default.
func New(validator *policy.Validator, approvals *approval.Service, recorder audit.Recorder, log *slog.Logger) *Kernel {
	if log == nil {
		log = slog.Default()
	}
	return &Kernel{validator: validator, approvals: approvals, recorder: recorder, log: log}
}

// Validate runs the policy validator and emits the matching audit event.
func (k *Kernel) Validate(ctx context.Context, doc *ir.IR, correlationID string) policy.Result {
	result := k.validator.Validate(doc)
	k.emitValidation(ctx, doc.TenantID, correlationID, result)
	return result
}

// ValidateJSON validates a wire-format IR; parse failures reject.
func (k *Kernel) ValidateJSON(ctx context.Context, data []byte, tenantHint, correlationID string) policy.Result {
	result := k.validator.ValidateJSON(data)
	k.emitValidation(ctx, tenantHint, correlationID, result)
	return result
}

func (k *Kernel) emitValidation(ctx context.Context, tenantID, correlationID string, result policy.Result) {
	eventType := audit.EventValidatedPass
	switch result.Status {
	case policy.StatusEscalate:
		eventType = audit.EventValidatedEscalate
	case policy.StatusReject:
		eventType = audit.EventValidatedReject
	}
	metadata := map[string]interface{}{
		"risk_tier":         result.RiskTier,
		"requires_approval": result.RequiresApproval,
	}
	if len(result.Violations) > 0 {
		metadata["violations"] = result.Violations
	}
	k.emit(ctx, audit.Event{
		Type:          eventType,
		TenantID:      tenantID,
		IRHash:        result.IRHash,
		CorrelationID: correlationID,
		Metadata:      metadata,
	})
}

// RequestApproval mints an approval grant for the given binding. The raw
// token appears only in the returned grant, never in the audit trail.
func (k *Kernel) RequestApproval(ctx context.Context, tenantID, irHash string, ttl time.Duration, correlationID string) (*approval.Grant, error) {
	grant, err := k.approvals.Create(ctx, tenantID, irHash, ttl)
	if err != nil {
		return nil, err
	}
	k.emit(ctx, audit.Event{
		Type:          audit.EventApprovalCreated,
		TenantID:      tenantID,
		IRHash:        irHash,
		CorrelationID: correlationID,
		Metadata: map[string]interface{}{
			"approval_id": grant.ApprovalID,
			"expires_at":  grant.ExpiresAt,
		},
	})
	return grant, nil
}

// ConsumeApproval attempts the single permitted consumption and emits the
// outcome event. The audit metadata carries the precise internal cause;
// the returned result does not distinguish mismatch causes.
func (k *Kernel) ConsumeApproval(ctx context.Context, tenantID, irHash, token, correlationID string) (approval.ConsumeResult, error) {
	result, err := k.approvals.Consume(ctx, tenantID, irHash, token)
	if err != nil {
		return approval.ConsumeResult{}, err
	}

	eventType := audit.EventApprovalInvalid
	switch result.Status {
	case approval.OutcomeConsumed:
		eventType = audit.EventApprovalConsumed
	case approval.OutcomeExpired:
		eventType = audit.EventApprovalExpired
	}
	metadata := map[string]interface{}{"cause": string(result.Cause)}
	if result.ApprovalID != "" {
		metadata["approval_id"] = result.ApprovalID
	}
	k.emit(ctx, audit.Event{
		Type:          eventType,
		TenantID:      tenantID,
		IRHash:        irHash,
		CorrelationID: correlationID,
		Metadata:      metadata,
	})
	return result, nil
}

// ApprovalStatus returns grant metadata without touching its state.
func (k *Kernel) ApprovalStatus(ctx context.Context, approvalID string) (*approval.StatusInfo, error) {
	return k.approvals.Status(ctx, approvalID)
}

// Audit runs the diff-audit gate and emits its verdict.
func (k *Kernel) Audit(ctx context.Context, doc *ir.IR, dag *diffaudit.DAG, correlationID string) (diffaudit.Result, error) {
	irHash, err := doc.Hash()
	if err != nil {
		return diffaudit.Result{}, err
	}
	result, err := diffaudit.Audit(doc, dag)
	if err != nil {
		return diffaudit.Result{}, err
	}

	eventType := audit.EventDAGDiffOK
	var metadata map[string]interface{}
	if !result.OK {
		eventType = audit.EventDAGDiffFailed
		metadata = map[string]interface{}{
			"missing_steps":   result.MissingSteps,
			"extra_nodes":     result.ExtraNodes,
			"hash_mismatches": result.HashMismatches,
		}
	}
	k.emit(ctx, audit.Event{
		Type:          eventType,
		TenantID:      doc.TenantID,
		IRHash:        irHash,
		CorrelationID: correlationID,
		Metadata:      metadata,
	})
	return result, nil
}

// Clear runs the full gate sequence for one execution attempt.
//
// A PASS-level IR needs no token; an ESCALATE-level IR must present a
// token that consumes successfully against (tenant_id, ir_hash). The
// compiled DAG must then reconcile exactly against the IR. Any failure
// returns a BlockedError after the execution_blocked event is emitted.
func (k *Kernel) Clear(ctx context.Context, doc *ir.IR, dag *diffaudit.DAG, token, correlationID string) (*Clearance, error) {
	if correlationID == "" {
		correlationID = uuid.New().String()
	}

	validation := k.Validate(ctx, doc, correlationID)
	if validation.Status == policy.StatusReject {
		return nil, k.block(ctx, doc.TenantID, validation.IRHash, correlationID, &BlockedError{
			Reason:     "policy validation rejected the IR",
			Validation: &validation,
		})
	}

	var approvalID string
	if validation.Status == policy.StatusEscalate {
		if token == "" {
			return nil, k.block(ctx, doc.TenantID, validation.IRHash, correlationID, &BlockedError{
				Reason:     fmt.Sprintf("risk tier %d requires a consumed approval", validation.RiskTier),
				Validation: &validation,
			})
		}
		consume, err := k.ConsumeApproval(ctx, doc.TenantID, validation.IRHash, token, correlationID)
		if err != nil {
			return nil, err
		}
		if consume.Status != approval.OutcomeConsumed {
			return nil, k.block(ctx, doc.TenantID, validation.IRHash, correlationID, &BlockedError{
				Reason:     fmt.Sprintf("approval not consumed: %s", consume.Status),
				Validation: &validation,
			})
		}
		approvalID = consume.ApprovalID
	}

	diff, err := k.Audit(ctx, doc, dag, correlationID)
	if err != nil {
		return nil, err
	}
	if !diff.OK {
		return nil, k.block(ctx, doc.TenantID, validation.IRHash, correlationID, &BlockedError{
			Reason:     "execution graph diverges from the approved IR",
			Validation: &validation,
			Diff:       &diff,
		})
	}

	return &Clearance{
		IRHash:     validation.IRHash,
		RiskTier:   validation.RiskTier,
		ApprovalID: approvalID,
		Diff:       diff,
	}, nil
}

func (k *Kernel) block(ctx context.Context, tenantID, irHash, correlationID string, blocked *BlockedError) error {
	k.emit(ctx, audit.Event{
		Type:          audit.EventExecutionBlocked,
		TenantID:      tenantID,
		IRHash:        irHash,
		CorrelationID: correlationID,
		Metadata:      map[string]interface{}{"reason": blocked.Reason},
	})
	return blocked
}

// emit attempts delivery to the sink before the caller gets its result.
// Delivery failure is logged but does not change the governed outcome.
func (k *Kernel) emit(ctx context.Context, event audit.Event) {
	if k.recorder == nil {
		return
	}
	if err := k.recorder.Record(ctx, event); err != nil {
		k.log.Warn("audit emission failed", "event", string(event.Type), "error", err)
	}
}

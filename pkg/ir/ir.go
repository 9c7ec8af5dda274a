// Package ir defines the Intermediate Representation: the canonical,
// hashable declaration of intent that every autonomous component must
// submit before anything is allowed to run.
//
// An IR is immutable after construction. Any change to any field yields a
// different canonical hash, which invalidates approvals bound to the old
// hash. The schema is closed: unknown fields are a rejection, never a
// warning.
package ir

import (
	"fmt"
	"strings"

	"github.com/satoshiflow/BRAiN-sub001/pkg/canonicalize"
)

// IR is the declaration of intent submitted for governance.
type IR struct {
	TenantID      string `json:"tenant_id"`
	IntentSummary string `json:"intent_summary,omitempty"`
	Steps         []Step `json:"steps"`
}

// Step is one declared unit of work inside an IR.
type Step struct {
	Action         string            `json:"action"`
	Provider       string            `json:"provider"`
	Resource       string            `json:"resource"`
	Params         map[string]any    `json:"params,omitempty"`
	IdempotencyKey string            `json:"idempotency_key"`
	Constraints    map[string]string `json:"constraints,omitempty"`
}

// IssueType classifies a structural defect found in an IR.
type IssueType string

const (
	IssueMissingTenant   IssueType = "missing_tenant"
	IssueNoSteps         IssueType = "no_steps"
	IssueBlankKey        IssueType = "blank_idempotency_key"
	IssueDuplicateKey    IssueType = "duplicate_idempotency_key"
	IssueMissingAction   IssueType = "missing_action"
	IssueMissingProvider IssueType = "missing_provider"
)

// Issue describes one structural defect. StepIndex is -1 for document-level
// issues.
type Issue struct {
	StepIndex int       `json:"step_index"`
	Type      IssueType `json:"type"`
	Message   string    `json:"message"`
}

// Check returns every structural defect in the document. It never stops at
// the first problem so callers see the complete picture.
func (d *IR) Check() []Issue {
	var issues []Issue

	if strings.TrimSpace(d.TenantID) == "" {
		issues = append(issues, Issue{StepIndex: -1, Type: IssueMissingTenant, Message: "tenant_id must be non-empty"})
	}
	if len(d.Steps) == 0 {
		issues = append(issues, Issue{StepIndex: -1, Type: IssueNoSteps, Message: "at least one step is required"})
	}

	seen := make(map[string]int, len(d.Steps))
	for i, step := range d.Steps {
		key := strings.TrimSpace(step.IdempotencyKey)
		if key == "" {
			issues = append(issues, Issue{StepIndex: i, Type: IssueBlankKey, Message: "idempotency_key must be non-blank"})
		} else if prev, dup := seen[key]; dup {
			issues = append(issues, Issue{
				StepIndex: i,
				Type:      IssueDuplicateKey,
				Message:   fmt.Sprintf("idempotency_key %q already used by step %d", key, prev),
			})
		} else {
			seen[key] = i
		}

		if strings.TrimSpace(step.Action) == "" {
			issues = append(issues, Issue{StepIndex: i, Type: IssueMissingAction, Message: "action must be non-empty"})
		}
		if strings.TrimSpace(step.Provider) == "" {
			issues = append(issues, Issue{StepIndex: i, Type: IssueMissingProvider, Message: "provider must be non-empty"})
		}
	}

	return issues
}

// Validate returns an error describing the first structural defect, or nil.
// The kernel never hashes a structurally invalid IR.
func (d *IR) Validate() error {
	issues := d.Check()
	if len(issues) == 0 {
		return nil
	}
	first := issues[0]
	return fmt.Errorf("ir: %s (step %d): %s", first.Type, first.StepIndex, first.Message)
}

// Canonical returns the canonical bytes and SHA-256 hex hash of the
// document. It fails if the document is structurally invalid.
func (d *IR) Canonical() ([]byte, string, error) {
	if err := d.Validate(); err != nil {
		return nil, "", err
	}
	b, err := canonicalize.Canonical(d)
	if err != nil {
		return nil, "", err
	}
	return b, canonicalize.HashBytes(b), nil
}

// Hash returns the canonical SHA-256 hex hash of the document.
func (d *IR) Hash() (string, error) {
	_, h, err := d.Canonical()
	return h, err
}

// ContentHash computes the canonical digest of a step's governed content:
// (action, provider, resource, params). The diff-audit gate recomputes this
// from both the IR and the compiled graph; any divergence means the content
// was altered after approval.
//
// A nil params map hashes identically to an empty one so that independently
// produced renderings of the same intent reconcile.
func ContentHash(action, provider, resource string, params map[string]any) (string, error) {
	if params == nil {
		params = map[string]any{}
	}
	return canonicalize.Hash(map[string]any{
		"action":   action,
		"provider": provider,
		"resource": resource,
		"params":   params,
	})
}

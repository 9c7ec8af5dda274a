package policy

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/decls"
	"github.com/google/cel-go/common/types"

	"github.com/satoshiflow/BRAiN-sub001/pkg/ir"
)

// Status is the validator's decision for an IR.
type Status string

const (
	StatusPass     Status = "PASS"
	StatusEscalate Status = "ESCALATE"
	StatusReject   Status = "REJECT"
)

// ViolationType identifies why a step (or the document) was rejected.
type ViolationType string

const (
	ViolationUnknownAction   ViolationType = "unknown_action"
	ViolationUnknownProvider ViolationType = "unknown_provider"
	ViolationSchema          ViolationType = "schema_violation"
)

// Violation cites one defect found during validation.
type Violation struct {
	StepIndex int           `json:"step_index"`
	Type      ViolationType `json:"violation_type"`
	Message   string        `json:"message"`
}

// Result is the synchronous output of Validate. It is never persisted;
// downstream consumers key on IRHash, not on this object.
type Result struct {
	Status           Status      `json:"status"`
	Violations       []Violation `json:"violations,omitempty"`
	RiskTier         int         `json:"risk_tier"`
	RequiresApproval bool        `json:"requires_approval"`
	IRHash           string      `json:"ir_hash,omitempty"`
}

// Rejected reports whether the result blocks the IR outright.
func (r Result) Rejected() bool { return r.Status == StatusReject }

type tierSpec struct {
	base  int
	byEnv map[string]int
}

type compiledOverride struct {
	id      string
	tier    int
	program cel.Program
}

// Validator evaluates IRs against a fixed policy bundle. It is immutable
// after construction and safe for unbounded concurrent use.
type Validator struct {
	actions   map[string]struct{}
	providers map[string]struct{}
	tiers     map[string]tierSpec
	overrides []compiledOverride
	threshold int
}

// NewValidator builds a Validator from a bundle. Gaps in the static tables
// (an action without a tier rule, a tier outside 0–3, a tier rule for an
// unlisted action, an uncompilable override) are construction-time errors:
// a broken table must fail at startup, never at request time.
func NewValidator(bundle *Bundle) (*Validator, error) {
	if bundle == nil {
		return nil, fmt.Errorf("policy: nil bundle")
	}
	if len(bundle.Actions) == 0 {
		return nil, fmt.Errorf("policy: bundle %q declares no actions", bundle.Name)
	}
	if len(bundle.Providers) == 0 {
		return nil, fmt.Errorf("policy: bundle %q declares no providers", bundle.Name)
	}
	if bundle.ApprovalThreshold < 0 || bundle.ApprovalThreshold > 3 {
		return nil, fmt.Errorf("policy: approval threshold %d outside 0..3", bundle.ApprovalThreshold)
	}

	v := &Validator{
		actions:   make(map[string]struct{}, len(bundle.Actions)),
		providers: make(map[string]struct{}, len(bundle.Providers)),
		tiers:     make(map[string]tierSpec, len(bundle.Tiers)),
		threshold: bundle.ApprovalThreshold,
	}
	for _, a := range bundle.Actions {
		if _, dup := v.actions[a]; dup {
			return nil, fmt.Errorf("policy: duplicate action %q", a)
		}
		v.actions[a] = struct{}{}
	}
	for _, p := range bundle.Providers {
		if _, dup := v.providers[p]; dup {
			return nil, fmt.Errorf("policy: duplicate provider %q", p)
		}
		v.providers[p] = struct{}{}
	}

	for _, rule := range bundle.Tiers {
		if _, known := v.actions[rule.Action]; !known {
			return nil, fmt.Errorf("policy: tier rule for unknown action %q", rule.Action)
		}
		if _, dup := v.tiers[rule.Action]; dup {
			return nil, fmt.Errorf("policy: duplicate tier rule for %q", rule.Action)
		}
		if rule.Default < 0 || rule.Default > 3 {
			return nil, fmt.Errorf("policy: tier %d for %q outside 0..3", rule.Default, rule.Action)
		}
		for env, tier := range rule.ByEnv {
			if tier < 0 || tier > 3 {
				return nil, fmt.Errorf("policy: tier %d for %q env %q outside 0..3", tier, rule.Action, env)
			}
		}
		v.tiers[rule.Action] = tierSpec{base: rule.Default, byEnv: rule.ByEnv}
	}
	for _, a := range bundle.Actions {
		if _, ok := v.tiers[a]; !ok {
			return nil, fmt.Errorf("policy: action %q has no tier rule", a)
		}
	}

	if len(bundle.Overrides) > 0 {
		env, err := cel.NewEnv(
			cel.VariableDecls(
				decls.NewVariable("action", types.StringType),
				decls.NewVariable("resource", types.StringType),
				decls.NewVariable("env", types.StringType),
			),
		)
		if err != nil {
			return nil, fmt.Errorf("policy: create CEL env: %w", err)
		}
		for _, o := range bundle.Overrides {
			if o.Tier < 0 || o.Tier > 3 {
				return nil, fmt.Errorf("policy: override %q tier %d outside 0..3", o.ID, o.Tier)
			}
			ast, issues := env.Compile(o.Expression)
			if issues != nil && issues.Err() != nil {
				return nil, fmt.Errorf("policy: override %q compile: %w", o.ID, issues.Err())
			}
			prg, err := env.Program(ast)
			if err != nil {
				return nil, fmt.Errorf("policy: override %q program: %w", o.ID, err)
			}
			v.overrides = append(v.overrides, compiledOverride{id: o.ID, tier: o.Tier, program: prg})
		}
	}

	return v, nil
}

// MustNewValidator is NewValidator that panics on table errors. Use at
// startup where a broken policy table must abort the process.
func MustNewValidator(bundle *Bundle) *Validator {
	v, err := NewValidator(bundle)
	if err != nil {
		panic(err)
	}
	return v
}

// RequireApprovalTier returns the configured escalation threshold.
func (v *Validator) RequireApprovalTier() int { return v.threshold }

// Validate evaluates one IR. It never returns an error for malformed
// input: structural defects, unknown actions and unknown providers all
// surface as a REJECT result with the complete violation list.
func (v *Validator) Validate(doc *ir.IR) Result {
	var result Result

	for _, issue := range doc.Check() {
		result.Violations = append(result.Violations, Violation{
			StepIndex: issue.StepIndex,
			Type:      ViolationSchema,
			Message:   fmt.Sprintf("%s: %s", issue.Type, issue.Message),
		})
	}
	structurallyValid := len(result.Violations) == 0

	maxTier := 0
	for i, step := range doc.Steps {
		stepValid := true
		if _, known := v.actions[step.Action]; !known {
			stepValid = false
			result.Violations = append(result.Violations, Violation{
				StepIndex: i,
				Type:      ViolationUnknownAction,
				Message:   fmt.Sprintf("action %q is not in the governed vocabulary", step.Action),
			})
		}
		if _, known := v.providers[step.Provider]; !known {
			stepValid = false
			result.Violations = append(result.Violations, Violation{
				StepIndex: i,
				Type:      ViolationUnknownProvider,
				Message:   fmt.Sprintf("provider %q is not in the governed vocabulary", step.Provider),
			})
		}
		if !stepValid {
			// Vocabulary misses short-circuit risk evaluation for this
			// step only; remaining steps still get the full treatment.
			continue
		}

		tier := v.stepTier(step)
		if tier > maxTier {
			maxTier = tier
		}
	}
	result.RiskTier = maxTier

	if structurallyValid {
		// A structurally invalid IR is never hashed.
		if hash, err := doc.Hash(); err == nil {
			result.IRHash = hash
		} else {
			result.Violations = append(result.Violations, Violation{
				StepIndex: -1,
				Type:      ViolationSchema,
				Message:   fmt.Sprintf("canonicalization failed: %v", err),
			})
		}
	}

	switch {
	case len(result.Violations) > 0:
		result.Status = StatusReject
	case maxTier >= v.threshold:
		result.Status = StatusEscalate
		result.RequiresApproval = true
	default:
		result.Status = StatusPass
	}
	return result
}

// ValidateJSON parses and validates a wire-format IR. Parse failures
// (malformed JSON, unknown fields, blank keys) become REJECT results.
func (v *Validator) ValidateJSON(data []byte) Result {
	doc, err := ir.Parse(data)
	if err != nil {
		return Result{
			Status: StatusReject,
			Violations: []Violation{{
				StepIndex: -1,
				Type:      ViolationSchema,
				Message:   err.Error(),
			}},
		}
	}
	return v.Validate(doc)
}

func (v *Validator) stepTier(step ir.Step) int {
	spec, ok := v.tiers[step.Action]
	if !ok {
		// Unreachable: construction guarantees a rule per action.
		return 3
	}
	tier := spec.base
	env := step.Constraints["env"]
	if envTier, ok := spec.byEnv[env]; ok {
		tier = envTier
	}

	for _, o := range v.overrides {
		out, _, err := o.program.Eval(map[string]any{
			"action":   step.Action,
			"resource": step.Resource,
			"env":      env,
		})
		if err != nil {
			// Fail closed: an override that cannot be evaluated escalates.
			if o.tier > tier {
				tier = o.tier
			}
			continue
		}
		if out == types.True && o.tier > tier {
			tier = o.tier
		}
	}
	return tier
}

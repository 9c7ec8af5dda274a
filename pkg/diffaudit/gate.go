// Package diffaudit reconciles an approved IR against the execution graph
// compiled from it. The graph is an independently produced rendering of
// the same intent; any divergence — a dropped step, an injected node, or
// altered content under the same key — blocks execution outright.
package diffaudit

import (
	"fmt"
	"sort"

	"github.com/satoshiflow/BRAiN-sub001/pkg/ir"
)

// Node is one unit of the compiled execution graph, carrying the same
// governed shape as an IR step plus dependency edges.
type Node struct {
	Action         string         `json:"action"`
	Provider       string         `json:"provider"`
	Resource       string         `json:"resource"`
	Params         map[string]any `json:"params,omitempty"`
	IdempotencyKey string         `json:"idempotency_key"`
	DependsOn      []string       `json:"depends_on,omitempty"`
}

// DAG is the compiled execution graph.
type DAG struct {
	Nodes []Node `json:"nodes"`
}

// HashMismatch records a key present on both sides with diverging
// canonical content.
type HashMismatch struct {
	Key     string `json:"key"`
	IRHash  string `json:"ir_hash"`
	DAGHash string `json:"dag_hash"`
}

// Result is the gate's verdict. OK is true iff all three lists are empty;
// any false result must block execution, with no best-effort proceed.
type Result struct {
	OK             bool           `json:"ok"`
	MissingSteps   []string       `json:"missing_steps,omitempty"`
	ExtraNodes     []string       `json:"extra_nodes,omitempty"`
	HashMismatches []HashMismatch `json:"hash_mismatches,omitempty"`
}

// Audit compares the IR against the DAG by idempotency key.
//
// Duplicate keys inside the DAG make key-based reconciliation ambiguous;
// the duplicates are reported as extra nodes so the result fails closed.
// The returned error is reserved for canonicalization failures, which
// indicate a programming error rather than a governed mismatch.
func Audit(doc *ir.IR, dag *DAG) (Result, error) {
	irSteps := make(map[string]ir.Step, len(doc.Steps))
	for _, step := range doc.Steps {
		irSteps[step.IdempotencyKey] = step
	}

	dagNodes := make(map[string]Node, len(dag.Nodes))
	var result Result
	for _, node := range dag.Nodes {
		if _, dup := dagNodes[node.IdempotencyKey]; dup {
			result.ExtraNodes = append(result.ExtraNodes, node.IdempotencyKey)
			continue
		}
		dagNodes[node.IdempotencyKey] = node
	}

	for key := range irSteps {
		if _, ok := dagNodes[key]; !ok {
			result.MissingSteps = append(result.MissingSteps, key)
		}
	}
	for key := range dagNodes {
		if _, ok := irSteps[key]; !ok {
			result.ExtraNodes = append(result.ExtraNodes, key)
		}
	}

	for key, step := range irSteps {
		node, ok := dagNodes[key]
		if !ok {
			continue
		}
		stepHash, err := ir.ContentHash(step.Action, step.Provider, step.Resource, step.Params)
		if err != nil {
			return Result{}, fmt.Errorf("diffaudit: hash IR step %q: %w", key, err)
		}
		nodeHash, err := ir.ContentHash(node.Action, node.Provider, node.Resource, node.Params)
		if err != nil {
			return Result{}, fmt.Errorf("diffaudit: hash DAG node %q: %w", key, err)
		}
		if stepHash != nodeHash {
			result.HashMismatches = append(result.HashMismatches, HashMismatch{
				Key:     key,
				IRHash:  stepHash,
				DAGHash: nodeHash,
			})
		}
	}

	// Deterministic ordering for audit events and tests.
	sort.Strings(result.MissingSteps)
	sort.Strings(result.ExtraNodes)
	sort.Slice(result.HashMismatches, func(i, j int) bool {
		return result.HashMismatches[i].Key < result.HashMismatches[j].Key
	})

	result.OK = len(result.MissingSteps) == 0 &&
		len(result.ExtraNodes) == 0 &&
		len(result.HashMismatches) == 0
	return result, nil
}

// CompileFaithful renders an IR into a DAG node-for-node with sequential
// dependency edges. It exists for callers (and tests) that need a known
// faithful compilation; production graphs come from the external planner.
func CompileFaithful(doc *ir.IR) *DAG {
	dag := &DAG{Nodes: make([]Node, 0, len(doc.Steps))}
	var prev string
	for _, step := range doc.Steps {
		node := Node{
			Action:         step.Action,
			Provider:       step.Provider,
			Resource:       step.Resource,
			Params:         step.Params,
			IdempotencyKey: step.IdempotencyKey,
		}
		if prev != "" {
			node.DependsOn = []string{prev}
		}
		dag.Nodes = append(dag.Nodes, node)
		prev = step.IdempotencyKey
	}
	return dag
}

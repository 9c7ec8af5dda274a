package diffaudit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satoshiflow/BRAiN-sub001/pkg/ir"
)

func twoStepIR() *ir.IR {
	return &ir.IR{
		TenantID: "acme",
		Steps: []ir.Step{
			{
				Action:         "webgenesis.site.create",
				Provider:       "internal",
				Resource:       "site:landing",
				Params:         map[string]any{"template": "saas"},
				IdempotencyKey: "A",
			},
			{
				Action:         "deploy.website",
				Provider:       "vercel",
				Resource:       "site:landing",
				Params:         map[string]any{"branch": "main"},
				IdempotencyKey: "B",
			},
		},
	}
}

func TestAudit_FaithfulCompilationPasses(t *testing.T) {
	doc := twoStepIR()
	result, err := Audit(doc, CompileFaithful(doc))
	require.NoError(t, err)

	assert.True(t, result.OK)
	assert.Empty(t, result.MissingSteps)
	assert.Empty(t, result.ExtraNodes)
	assert.Empty(t, result.HashMismatches)
}

func TestAudit_MissingStep(t *testing.T) {
	doc := twoStepIR()
	dag := CompileFaithful(doc)
	dag.Nodes = dag.Nodes[:1] // plan silently dropped step B

	result, err := Audit(doc, dag)
	require.NoError(t, err)
	assert.False(t, result.OK)
	assert.Equal(t, []string{"B"}, result.MissingSteps)
}

func TestAudit_ExtraNode(t *testing.T) {
	doc := twoStepIR()
	dag := CompileFaithful(doc)
	dag.Nodes = append(dag.Nodes, Node{
		Action:         "dns.record.update",
		Provider:       "cloudflare",
		Resource:       "zone:example.com",
		IdempotencyKey: "injected",
	})

	result, err := Audit(doc, dag)
	require.NoError(t, err)
	assert.False(t, result.OK)
	assert.Equal(t, []string{"injected"}, result.ExtraNodes)
}

func TestAudit_TamperedParams(t *testing.T) {
	doc := twoStepIR()
	dag := CompileFaithful(doc)
	dag.Nodes[1].Params = map[string]any{"branch": "attacker"}

	result, err := Audit(doc, dag)
	require.NoError(t, err)
	assert.False(t, result.OK)
	require.Len(t, result.HashMismatches, 1)
	mismatch := result.HashMismatches[0]
	assert.Equal(t, "B", mismatch.Key)
	assert.NotEqual(t, mismatch.IRHash, mismatch.DAGHash)
}

func TestAudit_NilParamsReconcileWithEmpty(t *testing.T) {
	doc := twoStepIR()
	doc.Steps[0].Params = nil
	dag := CompileFaithful(doc)
	dag.Nodes[0].Params = map[string]any{}

	result, err := Audit(doc, dag)
	require.NoError(t, err)
	assert.True(t, result.OK)
}

func TestAudit_DuplicateDAGKeysFailClosed(t *testing.T) {
	doc := twoStepIR()
	dag := CompileFaithful(doc)
	dag.Nodes = append(dag.Nodes, dag.Nodes[0])

	result, err := Audit(doc, dag)
	require.NoError(t, err)
	assert.False(t, result.OK)
	assert.Contains(t, result.ExtraNodes, "A")
}

func TestAudit_CombinedDivergence(t *testing.T) {
	doc := twoStepIR()
	dag := &DAG{Nodes: []Node{
		{
			Action:         doc.Steps[0].Action,
			Provider:       doc.Steps[0].Provider,
			Resource:       doc.Steps[0].Resource,
			Params:         map[string]any{"template": "tampered"},
			IdempotencyKey: "A",
		},
		{
			Action:         "storage.object.write",
			Provider:       "aws",
			Resource:       "bucket:exfil",
			IdempotencyKey: "C",
		},
	}}

	result, err := Audit(doc, dag)
	require.NoError(t, err)
	assert.False(t, result.OK)
	assert.Equal(t, []string{"B"}, result.MissingSteps)
	assert.Equal(t, []string{"C"}, result.ExtraNodes)
	require.Len(t, result.HashMismatches, 1)
	assert.Equal(t, "A", result.HashMismatches[0].Key)
}

func TestAudit_DependsOnIgnoredForContent(t *testing.T) {
	doc := twoStepIR()
	dag := CompileFaithful(doc)
	dag.Nodes[1].DependsOn = nil // edge changes are the planner's concern

	result, err := Audit(doc, dag)
	require.NoError(t, err)
	assert.True(t, result.OK)
}

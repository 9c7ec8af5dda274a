package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validDoc() *IR {
	return &IR{
		TenantID: "acme",
		Steps: []Step{
			{
				Action:         "deploy.website",
				Provider:       "vercel",
				Resource:       "site:staging",
				Params:         map[string]any{"branch": "main"},
				IdempotencyKey: "deploy-1",
			},
		},
	}
}

func TestParse_Valid(t *testing.T) {
	doc, err := Parse([]byte(`{
		"tenant_id": "acme",
		"intent_summary": "stage deploy",
		"steps": [{
			"action": "deploy.website",
			"provider": "vercel",
			"resource": "site:staging",
			"params": {"branch": "main"},
			"idempotency_key": "deploy-1",
			"constraints": {"env": "staging"}
		}]
	}`))
	require.NoError(t, err)
	assert.Equal(t, "acme", doc.TenantID)
	assert.Len(t, doc.Steps, 1)
	assert.Equal(t, "staging", doc.Steps[0].Constraints["env"])
}

func TestParse_UnknownTopLevelFieldRejected(t *testing.T) {
	_, err := Parse([]byte(`{
		"tenant_id": "acme",
		"surprise": true,
		"steps": [{"action": "a", "provider": "p", "resource": "r", "idempotency_key": "k"}]
	}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema violation")
}

func TestParse_UnknownStepFieldRejected(t *testing.T) {
	_, err := Parse([]byte(`{
		"tenant_id": "acme",
		"steps": [{"action": "a", "provider": "p", "resource": "r", "idempotency_key": "k", "retry": 3}]
	}`))
	require.Error(t, err)
}

func TestParse_MalformedJSON(t *testing.T) {
	_, err := Parse([]byte(`{"tenant_id": `))
	require.Error(t, err)
}

func TestParse_EmptySteps(t *testing.T) {
	_, err := Parse([]byte(`{"tenant_id": "acme", "steps": []}`))
	require.Error(t, err)
}

func TestCheck_BlankIdempotencyKey(t *testing.T) {
	doc := validDoc()
	doc.Steps[0].IdempotencyKey = "   "
	issues := doc.Check()
	require.Len(t, issues, 1)
	assert.Equal(t, IssueBlankKey, issues[0].Type)
	assert.Equal(t, 0, issues[0].StepIndex)
}

func TestCheck_DuplicateIdempotencyKey(t *testing.T) {
	doc := validDoc()
	dup := doc.Steps[0]
	doc.Steps = append(doc.Steps, dup)
	issues := doc.Check()
	require.Len(t, issues, 1)
	assert.Equal(t, IssueDuplicateKey, issues[0].Type)
	assert.Equal(t, 1, issues[0].StepIndex)
}

func TestCheck_AccumulatesAllIssues(t *testing.T) {
	doc := &IR{
		TenantID: "",
		Steps: []Step{
			{Action: "", Provider: "p", Resource: "r", IdempotencyKey: ""},
		},
	}
	issues := doc.Check()
	types := make(map[IssueType]bool)
	for _, is := range issues {
		types[is.Type] = true
	}
	assert.True(t, types[IssueMissingTenant])
	assert.True(t, types[IssueBlankKey])
	assert.True(t, types[IssueMissingAction])
}

func TestHash_InsertionOrderIndependence(t *testing.T) {
	a, err := Parse([]byte(`{
		"tenant_id": "acme",
		"steps": [{
			"action": "deploy.website",
			"provider": "vercel",
			"resource": "site:staging",
			"params": {"branch": "main", "region": "eu"},
			"idempotency_key": "k1"
		}]
	}`))
	require.NoError(t, err)

	b, err := Parse([]byte(`{
		"steps": [{
			"idempotency_key": "k1",
			"params": {"region": "eu", "branch": "main"},
			"resource": "site:staging",
			"provider": "vercel",
			"action": "deploy.website"
		}],
		"tenant_id": "acme"
	}`))
	require.NoError(t, err)

	ha, err := a.Hash()
	require.NoError(t, err)
	hb, err := b.Hash()
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
}

func TestHash_ParamSensitivity(t *testing.T) {
	a := validDoc()
	b := validDoc()
	b.Steps[0].Params = map[string]any{"branch": "maim"}

	ha, err := a.Hash()
	require.NoError(t, err)
	hb, err := b.Hash()
	require.NoError(t, err)
	assert.NotEqual(t, ha, hb)
}

func TestHash_InvalidDocumentRefused(t *testing.T) {
	doc := validDoc()
	doc.Steps[0].IdempotencyKey = ""
	_, err := doc.Hash()
	require.Error(t, err)
}

func TestContentHash_NilParamsEqualsEmpty(t *testing.T) {
	h1, err := ContentHash("a", "p", "r", nil)
	require.NoError(t, err)
	h2, err := ContentHash("a", "p", "r", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

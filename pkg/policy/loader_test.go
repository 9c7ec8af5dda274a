package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const yamlBundle = `
version: "1.1.0"
name: custom
actions: [content.generate, deploy.website]
providers: [vercel, internal]
tiers:
  - action: content.generate
    default: 0
  - action: deploy.website
    default: 1
    env:
      production: 2
overrides:
  - id: prod-guard
    expression: 'env == "production"'
    tier: 2
approval_threshold: 2
`

func writeBundle(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadBundle_YAML(t *testing.T) {
	bundle, err := LoadBundle(writeBundle(t, "bundle.yaml", yamlBundle))
	require.NoError(t, err)

	assert.Equal(t, "custom", bundle.Name)
	assert.Len(t, bundle.Actions, 2)
	require.Len(t, bundle.Overrides, 1)
	assert.Equal(t, "prod-guard", bundle.Overrides[0].ID)

	_, err = NewValidator(bundle)
	require.NoError(t, err)
}

func TestLoadBundle_JSON(t *testing.T) {
	bundle, err := LoadBundle(writeBundle(t, "bundle.json", `{
		"version": "1.0.0",
		"name": "json-bundle",
		"actions": ["content.generate"],
		"providers": ["internal"],
		"tiers": [{"action": "content.generate", "default": 0}],
		"approval_threshold": 2
	}`))
	require.NoError(t, err)
	assert.Equal(t, "json-bundle", bundle.Name)
}

func TestLoadBundle_VersionGate(t *testing.T) {
	_, err := LoadBundle(writeBundle(t, "old.yaml", "version: \"0.9.0\"\nactions: [a]\nproviders: [p]\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside supported range")

	_, err = LoadBundle(writeBundle(t, "future.yaml", "version: \"2.0.0\"\nactions: [a]\nproviders: [p]\n"))
	require.Error(t, err)

	_, err = LoadBundle(writeBundle(t, "none.yaml", "actions: [a]\nproviders: [p]\n"))
	require.Error(t, err)
}

func TestLoadBundle_UnsupportedExtension(t *testing.T) {
	_, err := LoadBundle(writeBundle(t, "bundle.toml", "version = '1.0.0'"))
	require.Error(t, err)
}
